package server

import (
	"net"
	"testing"

	"github.com/echosphere/escp/internal/protocol"
	"github.com/echosphere/escp/internal/session"
	"github.com/echosphere/escp/internal/testutil/testlog"
)

type nopHandler struct{}

func (nopHandler) HandlePacket(*session.Session, protocol.Packet) error { return nil }
func (nopHandler) SessionClosed(*session.Session, session.CloseReason)  {}

// pipeSession returns a session over an in-memory pipe, activated as
// name when one is given.
func pipeSession(t *testing.T, name string) *session.Session {
	t.Helper()
	local, remote := net.Pipe()
	s := session.New(local, session.DefaultConfig(), nopHandler{})
	t.Cleanup(func() {
		s.Close(session.ReasonShutdown)
		_ = remote.Close()
	})
	if name == "" {
		return s
	}
	if err := s.BeginAuth(); err != nil {
		t.Fatalf("begin auth: %v", err)
	}
	if err := s.Activate(name); err != nil {
		t.Fatalf("activate %s: %v", name, err)
	}
	return s
}

func TestRegistryRegisterIsAtomic(t *testing.T) {
	testlog.Start(t)

	r := newRegistry()
	holder := pipeSession(t, "alice")
	rival := pipeSession(t, "")

	if !r.register("alice", holder) {
		t.Fatal("first register failed")
	}
	if r.register("alice", rival) {
		t.Fatal("second register won a taken name")
	}
	if got := r.size(); got != 1 {
		t.Fatalf("size: got %d, want 1", got)
	}
}

func TestRegistryRemoveChecksIdentity(t *testing.T) {
	testlog.Start(t)

	r := newRegistry()
	holder := pipeSession(t, "alice")
	stranger := pipeSession(t, "")
	if !r.register("alice", holder) {
		t.Fatal("register failed")
	}

	if r.remove("alice", stranger) {
		t.Fatal("remove with a different session evicted the holder")
	}
	if got := r.size(); got != 1 {
		t.Fatalf("size after bogus remove: got %d, want 1", got)
	}

	if !r.remove("alice", holder) {
		t.Fatal("remove with the holder failed")
	}
	if r.remove("alice", holder) {
		t.Fatal("second remove reported success")
	}
	if got := r.size(); got != 0 {
		t.Fatalf("size after remove: got %d, want 0", got)
	}
}

func TestRegistryOrdersByUsername(t *testing.T) {
	testlog.Start(t)

	r := newRegistry()
	for _, name := range []string{"zoe", "adam", "mia"} {
		if !r.register(name, pipeSession(t, name)) {
			t.Fatalf("register %s failed", name)
		}
	}

	want := []string{"adam", "mia", "zoe"}
	names := r.names()
	if len(names) != len(want) {
		t.Fatalf("names: got %d entries, want %d", len(names), len(want))
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("names[%d]: got %s, want %s", i, names[i], name)
		}
	}

	snap := r.snapshot()
	if len(snap) != len(want) {
		t.Fatalf("snapshot: got %d entries, want %d", len(snap), len(want))
	}
	for i, name := range want {
		if snap[i].Username() != name {
			t.Fatalf("snapshot[%d]: got %s, want %s", i, snap[i].Username(), name)
		}
	}
}
