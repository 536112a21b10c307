package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/echosphere/escp/internal/logging"
	"github.com/echosphere/escp/internal/server"
)

const defaultConfigPath = "cmd/escpd/config.toml"

func main() {
	var (
		configPath string
		listenAddr string
		adminAddr  string
		checkOnly  bool
	)
	flag.StringVar(&configPath, "config", "", "path to TOML config (default cmd/escpd/config.toml when present)")
	flag.StringVar(&listenAddr, "listen", "", "chat listen address override (host:port)")
	flag.StringVar(&adminAddr, "admin", "", "admin plane address override (host:port)")
	flag.BoolVar(&checkOnly, "check", false, "validate the config and exit")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	cfg, err := resolveConfig(configPath, listenAddr, adminAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "escpd: %v\n", err)
		os.Exit(1)
	}
	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "escpd: %v\n", err)
		os.Exit(1)
	}
	if checkOnly {
		fmt.Println("escpd: config OK")
		return
	}
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "escpd: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig layers file, environment, and flag settings onto the
// defaults. Secrets come from the environment; addresses come from the
// file or flags.
func resolveConfig(path, listenAddr, adminAddr string) (server.Config, error) {
	cfg := server.DefaultConfig()
	switch {
	case path != "":
		loaded, err := loadServerConfig(path)
		if err != nil {
			return server.Config{}, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(defaultConfigPath); err == nil {
			loaded, err := loadServerConfig(defaultConfigPath)
			if err != nil {
				return server.Config{}, err
			}
			cfg = loaded
		}
	}
	if v := strings.TrimSpace(os.Getenv("ESCP_PASSWORD")); v != "" {
		cfg.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("ESCP_PASSWORD_HASH")); v != "" {
		cfg.PasswordHash = v
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if adminAddr != "" {
		cfg.AdminListenAddr = adminAddr
	}
	return cfg, nil
}
