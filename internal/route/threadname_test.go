package route

import "testing"

func TestMakeThreadName(t *testing.T) {
	cases := []struct {
		name, prefix, want string
	}{
		{"routing:test_default_x_ro", "RtS", "RtS:x_ro"},
		{"routing", "RtS", "RtS:"},
		{"", "pre", "pre:parse err"},
		{"routing:test_def_ult_x_ro", "RtS", "RtS:test_def_ul"},
	}
	for _, c := range cases {
		got := MakeThreadName(c.name, c.prefix)
		if got != c.want {
			t.Errorf("MakeThreadName(%q, %q) = %q, want %q", c.name, c.prefix, got, c.want)
		}
	}
}

func TestMakeThreadNameIsPure(t *testing.T) {
	a := MakeThreadName("routing:test_default_x_ro", "RtS")
	b := MakeThreadName("routing:test_default_x_ro", "RtS")
	if a != b {
		t.Errorf("MakeThreadName is not deterministic: %q != %q", a, b)
	}
}
