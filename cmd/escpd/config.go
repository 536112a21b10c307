package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/echosphere/escp/internal/server"
)

// fileConfig mirrors the escpd TOML schema. Durations are Go duration
// strings ("15s", "500ms").
type fileConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	AdminListenAddr  string   `toml:"admin_listen_addr"`
	Password         string   `toml:"password"`
	PasswordHash     string   `toml:"password_hash"`
	PongMessages     []string `toml:"pong_messages"`
	PongMessagesFile string   `toml:"pong_messages_file"`
	CORSOrigins      []string `toml:"cors_origins"`
	SweepInterval    string   `toml:"sweep_interval"`
	MessageRate      float64  `toml:"message_rate"`
	MessageBurst     int      `toml:"message_burst"`

	ReadTimeout       string `toml:"read_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	LivenessWindow    string `toml:"liveness_window"`
	AwaitTimeout      string `toml:"await_timeout"`
	SendQueueLen      int    `toml:"send_queue_len"`
}

// loadServerConfig overlays the keys present in the file onto the
// defaults; absent keys keep their default values.
func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load escpd config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("password_hash") {
		cfg.PasswordHash = strings.TrimSpace(raw.PasswordHash)
	}
	if meta.IsDefined("pong_messages") {
		cfg.PongMessages = normalizeLines(raw.PongMessages)
	}
	if meta.IsDefined("pong_messages_file") {
		msgs, err := loadPongMessages(strings.TrimSpace(raw.PongMessagesFile))
		if err != nil {
			return server.Config{}, err
		}
		cfg.PongMessages = msgs
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeLines(raw.CORSOrigins)
	}
	if meta.IsDefined("sweep_interval") {
		d, err := parseDuration("sweep_interval", raw.SweepInterval)
		if err != nil {
			return server.Config{}, err
		}
		cfg.SweepInterval = d
	}
	if meta.IsDefined("message_rate") {
		cfg.MessageRate = raw.MessageRate
	}
	if meta.IsDefined("message_burst") {
		cfg.MessageBurst = raw.MessageBurst
	}
	if meta.IsDefined("read_timeout") {
		d, err := parseDuration("read_timeout", raw.ReadTimeout)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := parseDuration("heartbeat_interval", raw.HeartbeatInterval)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.HeartbeatInterval = d
	}
	if meta.IsDefined("liveness_window") {
		d, err := parseDuration("liveness_window", raw.LivenessWindow)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.LivenessWindow = d
	}
	if meta.IsDefined("await_timeout") {
		d, err := parseDuration("await_timeout", raw.AwaitTimeout)
		if err != nil {
			return server.Config{}, err
		}
		cfg.Session.AwaitTimeout = d
	}
	if meta.IsDefined("send_queue_len") {
		cfg.Session.SendQueueLen = raw.SendQueueLen
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// loadPongMessages reads one /ping reply per line, skipping blanks.
func loadPongMessages(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load pong messages: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pong messages file %s is empty", path)
	}
	return out, nil
}

func normalizeLines(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
