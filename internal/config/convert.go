package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/echosphere/escp/internal/client"
)

// ClientConfig maps a profile onto the client defaults. Blank profile
// fields keep their default values.
func ClientConfig(p ClientProfile) (client.Config, error) {
	cfg := client.DefaultConfig()
	if addr := strings.TrimSpace(p.Addr); addr != "" {
		cfg.Addr = addr
	}
	if p.Heartbeat != "" {
		d, err := parseProfileDuration("heartbeat", p.Heartbeat)
		if err != nil {
			return client.Config{}, err
		}
		cfg.Session.HeartbeatInterval = d
	}
	if p.DialTimeout != "" {
		d, err := parseProfileDuration("dial_timeout", p.DialTimeout)
		if err != nil {
			return client.Config{}, err
		}
		cfg.DialTimeout = d
	}
	if p.DialAttempts > 0 {
		cfg.MaxDialAttempts = p.DialAttempts
	}
	if err := cfg.Validate(); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

func parseProfileDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("client profile %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("client profile %s must be positive, got %s", key, d)
	}
	return d, nil
}
