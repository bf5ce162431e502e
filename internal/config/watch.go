package config

import (
	"log"

	"github.com/fsnotify/fsnotify"

	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/route"
	"github.com/mohanson/routerd/internal/router"
)

// Watch reloads path on every write or create event and swaps each route's static
// destination list in place. Everything else about a route (bind
// address, protocol, limits) requires a restart — only the destination
// list is hot-reloadable, since a Static set's self-loop and emptiness
// checks are the only validation a running Route can re-run safely
// without tearing down its listener.
func Watch(path string, rt *router.Router, resolver MetadataResolver) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloadDestinations(path, rt, resolver)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch %s: %v", path, err)
			}
		}
	}()
	return w, nil
}

func reloadDestinations(path string, rt *router.Router, resolver MetadataResolver) {
	cfgs, err := Load(path, resolver)
	if err != nil {
		log.Printf("config: reload %s: %v", path, err)
		return
	}
	for _, cfg := range cfgs {
		r, ok := rt.Lookup(cfg.Name)
		if !ok {
			log.Printf("config: reload %s: route %q not running, skipping (requires restart)", path, cfg.Name)
			continue
		}
		if err := swapDestinations(r, cfg.Destinations); err != nil {
			log.Printf("config: reload %s: route %q: %v", path, cfg.Name, err)
		}
	}
}

// swapDestinations leaves a route unchanged when the reloaded set is
// Dynamic (it re-resolves on every connection already) and hands a
// Static set to Route.SwapDestinations, which rejects one that
// self-loops against the route's own TCP bind address.
func swapDestinations(r *route.Route, dest destination.Set) error {
	if _, ok := dest.(*destination.Static); !ok {
		return nil
	}
	return r.SwapDestinations(dest)
}
