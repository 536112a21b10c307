package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/echosphere/escp/internal/config"
)

func TestLoadServerConfigExample(t *testing.T) {
	cfg, err := loadServerConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":12300" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.AdminListenAddr != "127.0.0.1:9100" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminListenAddr)
	}
	if cfg.Password != "sesame" {
		t.Fatalf("unexpected password: %q", cfg.Password)
	}
	if cfg.PasswordHash != "" {
		t.Fatalf("unexpected password hash: %q", cfg.PasswordHash)
	}
	if len(cfg.PongMessages) != 2 || cfg.PongMessages[0] != "Pong!" {
		t.Fatalf("unexpected pong messages: %+v", cfg.PongMessages)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Fatalf("unexpected sweep interval: %v", cfg.SweepInterval)
	}
	if cfg.MessageRate != 10.0 {
		t.Fatalf("unexpected message rate: %v", cfg.MessageRate)
	}
	if cfg.MessageBurst != 20 {
		t.Fatalf("unexpected message burst: %d", cfg.MessageBurst)
	}
	if cfg.Session.ReadTimeout != 20*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.Session.ReadTimeout)
	}
	if cfg.Session.LivenessWindow != 15*time.Second {
		t.Fatalf("unexpected liveness window: %v", cfg.Session.LivenessWindow)
	}
	if cfg.Session.SendQueueLen != 64 {
		t.Fatalf("unexpected send queue length: %d", cfg.Session.SendQueueLen)
	}
}

// The configgen starter template must stay loadable by the daemon.
func TestLoadServerConfigTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteTemplate(path, "server", false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.ListenAddr != ":12300" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.Password != "" || cfg.PasswordHash != "" {
		t.Fatalf("template should describe an open server: %+v", cfg)
	}
	if cfg.Session.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.Session.HeartbeatInterval)
	}
}

func TestLoadServerConfigPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
listen_addr = ":4000"
sweep_interval = "750ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":4000" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.SweepInterval != 750*time.Millisecond {
		t.Fatalf("unexpected sweep interval: %v", cfg.SweepInterval)
	}
	if cfg.Password != "" {
		t.Fatalf("password should stay default, got %q", cfg.Password)
	}
	if len(cfg.PongMessages) == 0 {
		t.Fatal("pong messages should keep the built-in default")
	}
}

func TestLoadServerConfigBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
liveness_window = "abc"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadServerConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadServerConfigPongFile(t *testing.T) {
	dir := t.TempDir()
	pongPath := filepath.Join(dir, "pongs.txt")
	pongs := "Pong!\n\n  Echo... echo...  \n"
	if err := os.WriteFile(pongPath, []byte(pongs), 0o644); err != nil {
		t.Fatalf("write pongs: %v", err)
	}
	path := filepath.Join(dir, "config.toml")
	content := "pong_messages_file = \"" + pongPath + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.PongMessages) != 2 {
		t.Fatalf("unexpected pong messages: %+v", cfg.PongMessages)
	}
	if cfg.PongMessages[1] != "Echo... echo..." {
		t.Fatalf("pong line not trimmed: %q", cfg.PongMessages[1])
	}
}

func TestResolveConfigEnvAndFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
listen_addr = ":4000"
password = "from-file"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ESCP_PASSWORD", "from-env")

	cfg, err := resolveConfig(path, ":5000", "127.0.0.1:9999")
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.Password != "from-env" {
		t.Fatalf("env should win passwords, got %q", cfg.Password)
	}
	if cfg.ListenAddr != ":5000" {
		t.Fatalf("flag should win addresses, got %q", cfg.ListenAddr)
	}
	if cfg.AdminListenAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminListenAddr)
	}
}
