package main

import (
	"testing"
	"time"

	"github.com/echosphere/escp/internal/client"
	"github.com/echosphere/escp/internal/config"
	"github.com/echosphere/escp/internal/session"
)

func TestFormatEvent(t *testing.T) {
	cases := []struct {
		name string
		ev   client.Event
		want string
	}{
		{
			name: "chat message",
			ev:   client.Event{Kind: client.EventMessage, Sender: "alice", Text: "hello"},
			want: "<alice> hello",
		},
		{
			name: "system message",
			ev:   client.Event{Kind: client.EventMessage, Sender: "", Text: "User alice has joined!"},
			want: "* User alice has joined!",
		},
		{
			name: "connection lost",
			ev:   client.Event{Kind: client.EventConnectionLost, Reason: session.ReasonHeartbeatTimeout},
			want: "* connection lost: heartbeat_timeout",
		},
	}
	for _, tc := range cases {
		if got := formatEvent(tc.ev); got != tc.want {
			t.Fatalf("%s: formatEvent = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestIsQuitCommand(t *testing.T) {
	for _, text := range []string{"/quit", "/QUIT", "/exit", "  /quit  "} {
		if !isQuitCommand(text) {
			t.Fatalf("expected %q to quit", text)
		}
	}
	for _, text := range []string{"/list", "/ping", "quit", "say /quit", ""} {
		if isQuitCommand(text) {
			t.Fatalf("did not expect %q to quit", text)
		}
	}
}

func TestApplyProfileFillsUnsetOptions(t *testing.T) {
	opts := options{addr: "localhost:12300"}
	profile := config.ClientProfile{
		Addr:         "chat.example.net:4000",
		Username:     "alice",
		Password:     "sesame",
		Heartbeat:    "2s",
		DialTimeout:  "3s",
		DialAttempts: 7,
	}

	got, err := applyProfile(opts, map[string]bool{}, profile)
	if err != nil {
		t.Fatalf("applyProfile: %v", err)
	}
	if got.addr != "chat.example.net:4000" || got.username != "alice" || got.password != "sesame" {
		t.Fatalf("unexpected options: %+v", got)
	}
	if got.heartbeat != 2*time.Second || got.dialTimeout != 3*time.Second || got.dialAttempts != 7 {
		t.Fatalf("unexpected timing options: %+v", got)
	}
}

func TestApplyProfileKeepsExplicitFlags(t *testing.T) {
	opts := options{
		addr:      "flag.example.net:5000",
		username:  "bob",
		heartbeat: time.Second,
	}
	set := map[string]bool{"addr": true, "user": true, "heartbeat": true}
	profile := config.ClientProfile{
		Addr:      "chat.example.net:4000",
		Username:  "alice",
		Heartbeat: "2s",
	}

	got, err := applyProfile(opts, set, profile)
	if err != nil {
		t.Fatalf("applyProfile: %v", err)
	}
	if got.addr != "flag.example.net:5000" {
		t.Fatalf("flag addr should win, got %q", got.addr)
	}
	if got.username != "bob" {
		t.Fatalf("flag user should win, got %q", got.username)
	}
	if got.heartbeat != time.Second {
		t.Fatalf("flag heartbeat should win, got %v", got.heartbeat)
	}
}

func TestBuildClientConfigAppliesOverrides(t *testing.T) {
	cfg, err := buildClientConfig(options{
		addr:         "localhost:12300",
		heartbeat:    2 * time.Second,
		dialTimeout:  3 * time.Second,
		dialAttempts: 9,
	})
	if err != nil {
		t.Fatalf("buildClientConfig: %v", err)
	}
	if cfg.Addr != "localhost:12300" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.Session.HeartbeatInterval != 2*time.Second {
		t.Fatalf("heartbeat override not applied: %v", cfg.Session.HeartbeatInterval)
	}
	if cfg.DialTimeout != 3*time.Second || cfg.MaxDialAttempts != 9 {
		t.Fatalf("dial overrides not applied: %+v", cfg)
	}

	if _, err := buildClientConfig(options{addr: "localhost:12300"}); err != nil {
		t.Fatalf("zero overrides should keep the defaults: %v", err)
	}
}

func TestBuildClientConfigRejectsSlowHeartbeat(t *testing.T) {
	// An interval at or above the liveness window would let the server
	// sweep the session between beats.
	if _, err := buildClientConfig(options{addr: "localhost:12300", heartbeat: time.Minute}); err == nil {
		t.Fatalf("expected validation error for 1m heartbeat")
	}
}
