// Package config loads the TOML connection profiles used by the chat
// tooling. The escpd daemon has its own runtime loader; profiles here
// describe how a client reaches a server.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/echosphere/escp/internal/protocol"
)

// ClientProfile is an escp-tm connection profile: which server to dial
// and who to log in as. Durations are Go duration strings ("5s").
type ClientProfile struct {
	Addr         string `toml:"addr"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordEnv  string `toml:"password_env"`
	Heartbeat    string `toml:"heartbeat"`
	DialTimeout  string `toml:"dial_timeout"`
	DialAttempts int    `toml:"dial_attempts"`
}

// LoadClientProfile reads and validates a profile, filling in the
// default server address when the file leaves it out.
func LoadClientProfile(path string) (ClientProfile, error) {
	var p ClientProfile
	if err := loadToml(path, &p); err != nil {
		return ClientProfile{}, err
	}
	if strings.TrimSpace(p.Addr) == "" {
		p.Addr = "localhost:12300"
	}
	if err := ValidateClientProfile(p); err != nil {
		return ClientProfile{}, err
	}
	return p, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateClientProfile checks the fields a file may set. Username is
// optional: escp-tm prompts for any it does not get.
func ValidateClientProfile(p ClientProfile) error {
	if strings.TrimSpace(p.Addr) == "" {
		return fmt.Errorf("client profile missing addr")
	}
	if p.Username != "" && !protocol.ValidUsername(p.Username) {
		return fmt.Errorf("client profile username %q: need 3-12 alphanumeric characters", p.Username)
	}
	if p.Password != "" && strings.TrimSpace(p.PasswordEnv) != "" {
		return fmt.Errorf("client profile sets both password and password_env")
	}
	if p.DialAttempts < 0 {
		return fmt.Errorf("client profile dial_attempts must not be negative")
	}
	if _, err := ClientConfig(p); err != nil {
		return err
	}
	return nil
}

// ResolvePassword returns the login password, reading the password_env
// variable when the profile does not embed one. Empty means the server
// is expected to run open.
func (p ClientProfile) ResolvePassword() string {
	if p.Password != "" {
		return p.Password
	}
	if env := strings.TrimSpace(p.PasswordEnv); env != "" {
		return os.Getenv(env)
	}
	return ""
}
