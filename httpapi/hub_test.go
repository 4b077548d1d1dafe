package httpapi

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"pkt.systems/agenthub/schema"
)

type fakeConn struct {
	mu     sync.Mutex
	writes []any
	fail   bool
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestHubRegisterDisplacesPrevious(t *testing.T) {
	hub := NewConnectionHub()
	first := &fakeConn{}
	second := &fakeConn{}
	if prev := hub.Register("room", "dev", first); prev != nil {
		t.Fatalf("unexpected previous connection")
	}
	prev := hub.Register("room", "dev", second)
	if prev != first {
		t.Fatalf("expected first connection displaced")
	}
}

func TestHubUnregisterGuardsAgainstStaleConn(t *testing.T) {
	hub := NewConnectionHub()
	first := &fakeConn{}
	second := &fakeConn{}
	hub.Register("room", "dev", first)
	hub.Register("room", "dev", second)
	if hub.Unregister("room", "dev", first) {
		t.Fatalf("stale connection must not unregister the newer one")
	}
	if got := hub.Peers("room"); len(got) != 1 {
		t.Fatalf("peer dropped by stale unregister: %v", got)
	}
	if !hub.Unregister("room", "dev", second) {
		t.Fatalf("current connection failed to unregister")
	}
	if got := hub.Peers("room"); len(got) != 0 {
		t.Fatalf("expected empty room, got %v", got)
	}
}

func TestHubBroadcastSkipsSenderAndSurvivesFailures(t *testing.T) {
	hub := NewConnectionHub()
	a := &fakeConn{}
	b := &fakeConn{fail: true}
	c := &fakeConn{}
	hub.Register("room", "a", a)
	hub.Register("room", "b", b)
	hub.Register("room", "c", c)

	hub.Broadcast("room", "hello", "a")
	if a.count() != 0 {
		t.Fatalf("sender must not receive its own broadcast")
	}
	if c.count() != 1 {
		t.Fatalf("healthy peer missed broadcast despite failing peer")
	}
}

func TestHubSendTo(t *testing.T) {
	hub := NewConnectionHub()
	a := &fakeConn{}
	hub.Register("room", "a", a)
	if !hub.SendTo("room", "a", "direct") {
		t.Fatalf("send to connected device failed")
	}
	if hub.SendTo("room", "ghost", "direct") {
		t.Fatalf("send to unknown device reported success")
	}
	if a.count() != 1 {
		t.Fatalf("expected one delivery, got %d", a.count())
	}
}

func TestHubPeersSorted(t *testing.T) {
	hub := NewConnectionHub()
	hub.Register("room", "charlie", &fakeConn{})
	hub.Register("room", "alpha", &fakeConn{})
	hub.Register("room", "bravo", &fakeConn{})
	got := hub.Peers("room")
	want := []schema.DeviceID{"alpha", "bravo", "charlie"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sorted peers %v, got %v", want, got)
	}
}
