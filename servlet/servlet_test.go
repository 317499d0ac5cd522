package servlet

import (
	"testing"

	"github.com/kavach-systems/poseidon/api"
)

type alwaysAlive struct{}

func (alwaysAlive) Alive() bool { return true }
func (alwaysAlive) Acquire() (func(), bool) {
	return func() {}, true
}

type deadDependency struct{}

func (deadDependency) Alive() bool { return false }
func (deadDependency) Acquire() (func(), bool) {
	return nil, false
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.Register(HTTP, "/status", alwaysAlive{}, func(p []byte) ([]byte, error) {
		return []byte("ok"), nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	cb, release, ok := r.Lookup(HTTP, "/status")
	if !ok {
		t.Fatalf("expected lookup to find registered servlet")
	}
	defer release()
	out, err := cb(nil)
	if err != nil || string(out) != "ok" {
		t.Fatalf("unexpected callback result: %q, %v", out, err)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	r := New()
	cb := func(p []byte) ([]byte, error) { return nil, nil }
	if err := r.Register(WebSocket, "/chat", alwaysAlive{}, cb); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(WebSocket, "/chat", alwaysAlive{}, cb)
	if err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	var perr *api.Error
	if !errorsAs(err, &perr) || perr.Kind != api.KindDuplicateServlet {
		t.Fatalf("expected a DuplicateServlet error, got %v", err)
	}
}

func TestLookupOfDeadDependencyStillReportsRegistered(t *testing.T) {
	r := New()
	if err := r.Register(Player, "/spawn", deadDependency{}, func(p []byte) ([]byte, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, release, ok := r.Lookup(Player, "/spawn")
	if !ok {
		t.Fatalf("expected registered entry to still be found")
	}
	if release != nil {
		t.Fatalf("expected nil release for a dead dependency")
	}
}

func TestReRegisterAfterDependencyDiesOverwrites(t *testing.T) {
	r := New()
	if err := r.Register(HTTP, "/status", deadDependency{}, func(p []byte) ([]byte, error) {
		return []byte("stale"), nil
	}); err != nil {
		t.Fatalf("first register: %v", err)
	}

	err := r.Register(HTTP, "/status", alwaysAlive{}, func(p []byte) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("re-registering over a dead dependency should succeed, got %v", err)
	}

	cb, release, ok := r.Lookup(HTTP, "/status")
	if !ok {
		t.Fatalf("expected lookup to find the new registration")
	}
	defer release()
	out, _ := cb(nil)
	if string(out) != "fresh" {
		t.Fatalf("expected the new callback to have replaced the old one, got %q", out)
	}
}

func TestLookupOfUnregisteredMisses(t *testing.T) {
	r := New()
	_, _, ok := r.Lookup(HTTP, "/nope")
	if ok {
		t.Fatalf("expected lookup miss for unregistered uri")
	}
}

func TestRangeSweepsDeadEntries(t *testing.T) {
	r := New()
	r.Register(HTTP, "/dead", deadDependency{}, func(p []byte) ([]byte, error) { return nil, nil })
	r.Register(HTTP, "/alive", alwaysAlive{}, func(p []byte) ([]byte, error) { return nil, nil })

	var seen []string
	r.Range(func(proto Protocol, uri string, cb Callback) {
		seen = append(seen, uri)
	})
	if len(seen) != 1 || seen[0] != "/alive" {
		t.Fatalf("expected Range to skip the dead entry, got %v", seen)
	}
	if r.Len() != 1 {
		t.Fatalf("expected dead entry to be swept from the registry, len=%d", r.Len())
	}
}

func errorsAs(err error, target **api.Error) bool {
	e, ok := err.(*api.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
