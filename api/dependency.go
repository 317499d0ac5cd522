// Package api
// Author: momentics <momentics@gmail.com>
//
// Dependency stands in for the C++ framework's weak_ptr dependency handle
// used by the servlet registry. Go has no ambient weak reference usable
// here, so instead a Dependency is anything that can report liveness and
// be atomically "upgraded" for the duration of a call without extending
// its lifetime beyond that call.

package api

// Dependency is a lifetime handle owned by some other module. From the
// caller's point of view, a servlet entry that names a Dependency is
// implicitly unregistered once the dependency reports itself dead; the
// registry never keeps a Dependency alive on its own.
type Dependency interface {
	// Alive reports whether the owning module is still present. It must
	// be safe to call after the owner has gone away.
	Alive() bool

	// Acquire attempts to pin the dependency for the duration of a single
	// dispatch. On success it returns a release func that must be called
	// exactly once when the caller is done, and ok=true. On failure (the
	// dependency has already expired) it returns ok=false.
	Acquire() (release func(), ok bool)
}
