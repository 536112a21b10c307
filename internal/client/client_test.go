package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/echosphere/escp/internal/protocol"
	"github.com/echosphere/escp/internal/session"
	"github.com/echosphere/escp/internal/testutil/testlog"
)

const waitFor = 2 * time.Second

// scriptServer accepts one connection and hands it to script on its own
// goroutine. Scripts report through channels; the client-side
// assertions catch a script that bails out early.
func scriptServer(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}()
	return ln.Addr().String()
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxDialAttempts = 1
	cfg.Session.WriteTimeout = waitFor
	cfg.Session.AwaitTimeout = waitFor
	cfg.Session.HeartbeatInterval = 50 * time.Millisecond
	cfg.Session.LivenessWindow = 10 * time.Second
	return cfg
}

func dialClient(t *testing.T, addr string) *Client {
	t.Helper()
	cli, err := Dial(context.Background(), testConfig(addr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(cli.Close)
	return cli
}

// serveLogin reads one Login and answers with code.
func serveLogin(conn net.Conn, code protocol.ResponseCode) (protocol.Login, error) {
	pkt, err := protocol.ReadPacket(conn)
	if err != nil {
		return protocol.Login{}, err
	}
	login, err := protocol.ParseLogin(pkt)
	if err != nil {
		return protocol.Login{}, err
	}
	return login, protocol.WritePacket(conn, protocol.NewResponsePacket(code))
}

// readNonHeartbeat skips the heartbeat chatter scripts do not care
// about.
func readNonHeartbeat(conn net.Conn) (protocol.Packet, error) {
	for {
		pkt, err := protocol.ReadPacket(conn)
		if err != nil {
			return protocol.Packet{}, err
		}
		if pkt.Type == protocol.TypeHeartbeat {
			continue
		}
		return pkt, nil
	}
}

func awaitEvent(t *testing.T, events <-chan Event, want EventKind) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed while waiting for %s", want)
			}
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", want, waitFor)
		}
	}
}

func awaitEventsClosed(t *testing.T, events <-chan Event) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestLoginStartsHeartbeats(t *testing.T) {
	testlog.Start(t)

	hbSeen := make(chan struct{})
	addr := scriptServer(t, func(conn net.Conn) {
		if _, err := serveLogin(conn, protocol.CodeOK); err != nil {
			return
		}
		seen := false
		for {
			pkt, err := protocol.ReadPacket(conn)
			if err != nil {
				return
			}
			if pkt.Type == protocol.TypeHeartbeat && !seen {
				seen = true
				close(hbSeen)
			}
		}
	})

	cli := dialClient(t, addr)
	code, err := cli.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if code != protocol.CodeOK {
		t.Fatalf("login code: got %s, want %s", code, protocol.CodeOK)
	}
	if got := cli.Username(); got != "alice" {
		t.Fatalf("username: got %q, want %q", got, "alice")
	}

	select {
	case <-hbSeen:
	case <-time.After(waitFor):
		t.Fatal("no heartbeat reached the server")
	}

	if _, err := cli.Login(context.Background(), "alice", "pw"); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("second login: got %v, want %v", err, ErrAlreadyLoggedIn)
	}
}

func TestLoginRejectionSurfacesCode(t *testing.T) {
	testlog.Start(t)

	addr := scriptServer(t, func(conn net.Conn) {
		_, _ = serveLogin(conn, protocol.CodeWrongPassword)
		// The server flushes the verdict, then hangs up.
	})

	cli := dialClient(t, addr)
	code, err := cli.Login(context.Background(), "alice", "nope")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if code != protocol.CodeWrongPassword {
		t.Fatalf("login code: got %s, want %s", code, protocol.CodeWrongPassword)
	}

	ev := awaitEvent(t, cli.Events(), EventConnectionLost)
	if ev.Reason != session.ReasonPeerClosed {
		t.Fatalf("lost reason: got %s, want %s", ev.Reason, session.ReasonPeerClosed)
	}
	awaitEventsClosed(t, cli.Events())
}

func TestSendMessageRoundTripAndEvents(t *testing.T) {
	testlog.Start(t)

	addr := scriptServer(t, func(conn net.Conn) {
		if _, err := serveLogin(conn, protocol.CodeOK); err != nil {
			return
		}
		pkt, err := readNonHeartbeat(conn)
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(pkt)
		if err != nil || msg.Sender != "alice" || msg.Text != "hello" {
			return
		}
		if err := protocol.WritePacket(conn, protocol.NewResponsePacket(protocol.CodeOK)); err != nil {
			return
		}
		chat, _ := protocol.NewMessagePacket("bob", "hey")
		if err := protocol.WritePacket(conn, chat); err != nil {
			return
		}
		system, _ := protocol.NewSystemMessagePacket("User zoe has joined!")
		_ = protocol.WritePacket(conn, system)
	})

	cli := dialClient(t, addr)
	if code, err := cli.Login(context.Background(), "alice", "pw"); err != nil || code != protocol.CodeOK {
		t.Fatalf("login: code %s, err %v", code, err)
	}

	code, err := cli.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if code != protocol.CodeOK {
		t.Fatalf("message code: got %s, want %s", code, protocol.CodeOK)
	}

	ev := awaitEvent(t, cli.Events(), EventMessage)
	if ev.Sender != "bob" || ev.Text != "hey" {
		t.Fatalf("chat event: got %q from %q", ev.Text, ev.Sender)
	}
	ev = awaitEvent(t, cli.Events(), EventMessage)
	if ev.Sender != "" || ev.Text != "User zoe has joined!" {
		t.Fatalf("system event: got %q from %q", ev.Text, ev.Sender)
	}
}

func TestSendMessageValidatesLocally(t *testing.T) {
	testlog.Start(t)

	delivered := make(chan protocol.Message, 1)
	addr := scriptServer(t, func(conn net.Conn) {
		if _, err := serveLogin(conn, protocol.CodeOK); err != nil {
			return
		}
		pkt, err := readNonHeartbeat(conn)
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(pkt)
		if err != nil {
			return
		}
		if err := protocol.WritePacket(conn, protocol.NewResponsePacket(protocol.CodeOK)); err != nil {
			return
		}
		delivered <- msg
	})

	cli := dialClient(t, addr)
	if code, err := cli.Login(context.Background(), "alice", "pw"); err != nil || code != protocol.CodeOK {
		t.Fatalf("login: code %s, err %v", code, err)
	}

	for _, text := range []string{"", strings.Repeat("x", protocol.MaxMessageChars+1), "no|pipes"} {
		if _, err := cli.SendMessage(context.Background(), text); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("SendMessage with %d chars: got %v, want %v", len(text), err, ErrInvalidMessage)
		}
	}

	// The first packet the script sees after login must be the valid
	// message: nothing above reached the wire.
	if code, err := cli.SendMessage(context.Background(), "legit"); err != nil || code != protocol.CodeOK {
		t.Fatalf("valid message: code %s, err %v", code, err)
	}
	select {
	case msg := <-delivered:
		if msg.Text != "legit" {
			t.Fatalf("server saw %q, want %q", msg.Text, "legit")
		}
	case <-time.After(waitFor):
		t.Fatal("valid message never reached the server")
	}
}

func TestSendMessageBeforeLoginFails(t *testing.T) {
	testlog.Start(t)

	addr := scriptServer(t, func(conn net.Conn) {
		_, _ = protocol.ReadPacket(conn)
	})

	cli := dialClient(t, addr)
	if _, err := cli.SendMessage(context.Background(), "hello"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("got %v, want %v", err, ErrNotLoggedIn)
	}
}

func TestSecondRequestWhileAwaitingFailsFast(t *testing.T) {
	testlog.Start(t)

	arrived := make(chan struct{})
	release := make(chan struct{})
	addr := scriptServer(t, func(conn net.Conn) {
		if _, err := serveLogin(conn, protocol.CodeOK); err != nil {
			return
		}
		if _, err := readNonHeartbeat(conn); err != nil {
			return
		}
		close(arrived)
		<-release
		_ = protocol.WritePacket(conn, protocol.NewResponsePacket(protocol.CodeOK))
	})

	cli := dialClient(t, addr)
	if code, err := cli.Login(context.Background(), "alice", "pw"); err != nil || code != protocol.CodeOK {
		t.Fatalf("login: code %s, err %v", code, err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := cli.SendMessage(context.Background(), "slow one")
		firstDone <- err
	}()

	select {
	case <-arrived:
	case <-time.After(waitFor):
		t.Fatal("first message never reached the server")
	}

	if _, err := cli.SendMessage(context.Background(), "impatient"); !errors.Is(err, session.ErrRequestInFlight) {
		t.Fatalf("second request: got %v, want %v", err, session.ErrRequestInFlight)
	}

	close(release)
	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("first message: %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("first message never resolved")
	}
}

func TestUnsolicitedResponseDisconnects(t *testing.T) {
	testlog.Start(t)

	addr := scriptServer(t, func(conn net.Conn) {
		if _, err := serveLogin(conn, protocol.CodeOK); err != nil {
			return
		}
		_ = protocol.WritePacket(conn, protocol.NewResponsePacket(protocol.CodeOK))
	})

	cli := dialClient(t, addr)
	if code, err := cli.Login(context.Background(), "alice", "pw"); err != nil || code != protocol.CodeOK {
		t.Fatalf("login: code %s, err %v", code, err)
	}

	ev := awaitEvent(t, cli.Events(), EventConnectionLost)
	if ev.Reason != session.ReasonProtocolViolation {
		t.Fatalf("lost reason: got %s, want %s", ev.Reason, session.ReasonProtocolViolation)
	}
}

func TestLogoutFlushesNoticeAndCloses(t *testing.T) {
	testlog.Start(t)

	logoutSeen := make(chan struct{})
	addr := scriptServer(t, func(conn net.Conn) {
		if _, err := serveLogin(conn, protocol.CodeOK); err != nil {
			return
		}
		for {
			pkt, err := protocol.ReadPacket(conn)
			if err != nil {
				return
			}
			if pkt.Type == protocol.TypeLogout {
				close(logoutSeen)
				return
			}
		}
	})

	cli := dialClient(t, addr)
	if code, err := cli.Login(context.Background(), "alice", "pw"); err != nil || code != protocol.CodeOK {
		t.Fatalf("login: code %s, err %v", code, err)
	}

	if err := cli.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	select {
	case <-logoutSeen:
	case <-time.After(waitFor):
		t.Fatal("logout notice never reached the server")
	}
	select {
	case <-cli.Done():
	case <-time.After(waitFor):
		t.Fatal("session never closed after logout")
	}

	ev := awaitEvent(t, cli.Events(), EventConnectionLost)
	if ev.Reason != session.ReasonLogout {
		t.Fatalf("lost reason: got %s, want %s", ev.Reason, session.ReasonLogout)
	}
	if err := cli.Logout(); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestDialRetriesUntilServerAppears(t *testing.T) {
	testlog.Start(t)

	// Reserve a port, free it, and bring the real listener up only
	// after the first attempts have failed.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	ready := make(chan net.Listener, 1)
	go func() {
		time.Sleep(300 * time.Millisecond)
		for i := 0; i < 20; i++ {
			ln, err := net.Listen("tcp", addr)
			if err == nil {
				ready <- ln
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		select {
		case ln := <-ready:
			_ = ln.Close()
		default:
		}
	})

	cfg := testConfig(addr)
	cfg.MaxDialAttempts = 30
	cfg.Backoff = session.BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2,
	}
	cli, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial with retries: %v", err)
	}
	cli.Close()
}

func TestDialGivesUpAfterBudget(t *testing.T) {
	testlog.Start(t)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	cfg := testConfig(addr)
	cfg.MaxDialAttempts = 2
	cfg.Backoff = session.BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
	}
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Fatal("dial succeeded against a dead address")
	} else if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("dial error: %v", err)
	}
}

func TestDialHonorsContextCancel(t *testing.T) {
	testlog.Start(t)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := testConfig(addr)
	cfg.MaxDialAttempts = 100
	cfg.Backoff = session.BackoffConfig{
		InitialDelay: 40 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   1,
	}
	if _, err := Dial(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want %v", err, context.Canceled)
	}
}

func TestConfigValidateRequiresAddr(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty address accepted")
	}
	cfg.Addr = "localhost:12300"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
