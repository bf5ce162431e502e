package route

import "strings"

// MakeThreadName reproduces the worker thread/goroutine label of the
// original router: derived from prefix and the route's name.
//
//   - If name is empty, or doesn't begin with "routing", the suffix is
//     the literal "parse err".
//   - Otherwise, strip through "_default_" when present, else strip
//     through "routing:".
//   - Clip the whole "prefix:suffix" string to 15 characters.
//
// The value is a pure function of its two inputs, used to label the
// pair-worker goroutines (via runtime/pprof.Labels, since Go schedules
// goroutines rather than naming OS threads — see DESIGN.md).
func MakeThreadName(name, prefix string) string {
	suffix := "parse err"
	if strings.HasPrefix(name, "routing") {
		switch {
		case strings.Contains(name, "_default_"):
			idx := strings.Index(name, "_default_")
			suffix = name[idx+len("_default_"):]
		case strings.Contains(name, "routing:"):
			idx := strings.Index(name, "routing:")
			suffix = name[idx+len("routing:"):]
		default:
			suffix = ""
		}
	}
	full := prefix + ":" + suffix
	if len(full) > 15 {
		full = full[:15]
	}
	return full
}
