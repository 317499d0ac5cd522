// Package servlet
// Author: momentics <momentics@gmail.com>
//
// Registry is the per-protocol URI->callback map that resolves an incoming
// request to the handler that should run it. Adapted from the
// sharded sync.RWMutex-guarded map style of internal/session/store.go,
// dropping the sharding for a single map keyed on (Protocol, uri): servlet
// registration happens at startup, not per-request, so the sharding that
// store.go uses to spread hot session lookups across locks buys nothing
// here, a single RWMutex is enough. Lookups return the registered
// api.Dependency alongside the callback so callers can Acquire it before
// dispatching, giving expiry-without-map-removal semantics in place of a
// C++ weak_ptr.
package servlet

import (
	"sync"

	"github.com/kavach-systems/poseidon/api"
)

// Protocol is one of the closed set of servlet protocol families.
type Protocol int

const (
	HTTP Protocol = iota
	WebSocket
	Player
)

func (p Protocol) String() string {
	switch p {
	case HTTP:
		return "HTTP"
	case WebSocket:
		return "WebSocket"
	case Player:
		return "Player"
	default:
		return "Unknown"
	}
}

// Callback is the handler registered for a given (protocol, uri) pair. It
// receives the raw request payload and returns a response payload plus
// error.
type Callback func(payload []byte) ([]byte, error)

type entry struct {
	dep      api.Dependency
	callback Callback
}

type key struct {
	proto Protocol
	uri   string
}

// Registry is the servlet dispatch table. The zero value is ready to use.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]entry
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[key]entry)}
}

// Register adds a servlet for (proto, uri). dep backs the weak-reference
// lifetime check: Lookup will still return the entry if dep has since
// gone dead, letting the caller distinguish "not registered" from "was
// registered but is no longer alive".
//
// Registering the same (proto, uri) twice while the existing entry's
// dependency is still alive is a programming error and returns a
// DuplicateServlet error. If the existing entry's dependency has died,
// it is overwritten rather than treated as a duplicate.
func (r *Registry) Register(proto Protocol, uri string, dep api.Dependency, cb Callback) error {
	k := key{proto: proto, uri: uri}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[key]entry)
	}
	if existing, exists := r.entries[k]; exists {
		if existing.dep == nil || existing.dep.Alive() {
			return api.NewDuplicateServletError(uri)
		}
	}
	r.entries[k] = entry{dep: dep, callback: cb}
	return nil
}

// Unregister removes a servlet outright, used when a caller wants an
// explicit removal rather than relying on lazy expiry via Dependency.
func (r *Registry) Unregister(proto Protocol, uri string) {
	k := key{proto: proto, uri: uri}
	r.mu.Lock()
	delete(r.entries, k)
	r.mu.Unlock()
}

// Lookup resolves (proto, uri) to a callback and attempts to acquire its
// backing dependency. It returns ok=false if nothing was ever registered
// for the key; it returns ok=true with a nil release func if something
// was registered but its dependency has since died (the caller should
// treat this exactly like a miss but may want to log the distinction).
func (r *Registry) Lookup(proto Protocol, uri string) (cb Callback, release func(), ok bool) {
	k := key{proto: proto, uri: uri}
	r.mu.RLock()
	e, found := r.entries[k]
	r.mu.RUnlock()
	if !found {
		return nil, nil, false
	}
	if e.dep == nil {
		return e.callback, func() {}, true
	}
	rel, alive := e.dep.Acquire()
	if !alive {
		return e.callback, nil, true
	}
	return e.callback, rel, true
}

// Range visits every currently registered (protocol, uri) pair whose
// dependency is still alive, skipping and lazily forgetting entries that
// have died.
func (r *Registry) Range(fn func(proto Protocol, uri string, cb Callback)) {
	r.mu.RLock()
	dead := make([]key, 0)
	snapshot := make(map[key]entry, len(r.entries))
	for k, e := range r.entries {
		if e.dep != nil && !e.dep.Alive() {
			dead = append(dead, k)
			continue
		}
		snapshot[k] = e
	}
	r.mu.RUnlock()

	if len(dead) > 0 {
		r.mu.Lock()
		for _, k := range dead {
			if e, ok := r.entries[k]; ok && e.dep != nil && !e.dep.Alive() {
				delete(r.entries, k)
			}
		}
		r.mu.Unlock()
	}

	for k, e := range snapshot {
		fn(k.proto, k.uri, e.callback)
	}
}

// Len reports the number of currently registered entries, including any
// not-yet-swept dead ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
