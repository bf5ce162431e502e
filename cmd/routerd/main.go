// Command routerd starts the connection routing core: it loads a TOML
// route table, binds every configured listener, and relays client
// connections to backends until told to stop.
package main

import (
	"encoding/json"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/godump/doa"

	"github.com/mohanson/routerd/internal/config"
	"github.com/mohanson/routerd/internal/connectproc"
	"github.com/mohanson/routerd/internal/metacache"
	"github.com/mohanson/routerd/internal/route"
	"github.com/mohanson/routerd/internal/router"
	"github.com/mohanson/routerd/internal/sockops"
	"github.com/mohanson/routerd/lib/gracefulexit"
)

// Conf is acting as package level configuration.
var Conf = struct {
	Version string
}{
	Version: "v0.1.0",
}

func main() {
	var (
		flConfig  = flag.String("c", "routerd.toml", "path to the route table")
		flCache   = flag.String("cache", "", "metadata cache HTTP endpoint, required if any route uses metadata-cache:// destinations")
		flGpprof  = flag.String("g", "", "address to serve /debug/vars and /debug/pprof on")
		flVersion = flag.Bool("v", false, "print the version number and exit")
	)
	flag.Parse()

	if *flVersion {
		fmt.Println("routerd", Conf.Version)
		return
	}

	var resolver config.MetadataResolver
	if *flCache != "" {
		resolver = metacache.NewClient(*flCache, 256, 5*time.Second)
	}

	cfgs := doa.Try(config.Load(*flConfig, resolver))
	log.Printf("main: loaded %d route(s) from %s", len(cfgs), *flConfig)

	ops := sockops.Default()
	resolve := connectproc.SystemResolver{}
	rt := router.New()
	for _, cfg := range cfgs {
		r := doa.Try(route.New(cfg, ops, resolve))
		doa.Nil(rt.Register(r))
	}
	doa.Nil(rt.Start())
	log.Printf("main: all routes started")

	watcher := doa.Try(config.Watch(*flConfig, rt, resolver))
	defer watcher.Close()

	if *flGpprof != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/vars", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			vars := map[string]any{"routes": rt.Stats()}
			expvar.Do(func(kv expvar.KeyValue) {
				if kv.Key == "cmdline" || kv.Key == "memstats" {
					return
				}
				var v any
				json.Unmarshal([]byte(kv.Value.String()), &v)
				vars[kv.Key] = v
			})
			enc := json.NewEncoder(w)
			enc.SetIndent("", "    ")
			enc.Encode(vars)
		})
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		log.Printf("main: serving /debug/vars and /debug/pprof on %s", *flGpprof)
		go func() { doa.Nil(http.ListenAndServe(*flGpprof, mux)) }()
	}

	gracefulexit.Wait()
	log.Printf("main: signal received, stopping routes")
	rt.StopAll()
	log.Printf("main: exit")
}
