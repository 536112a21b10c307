// escp-tm is a line-oriented terminal chat client: stdin lines become
// chat messages, inbound traffic prints as it arrives, and /quit leaves.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/echosphere/escp/internal/client"
	"github.com/echosphere/escp/internal/config"
	"github.com/echosphere/escp/internal/logging"
	"github.com/echosphere/escp/internal/protocol"
	"github.com/echosphere/escp/internal/session"
)

// options collects the command line and profile settings for one run.
type options struct {
	addr         string
	username     string
	password     string
	heartbeat    time.Duration
	dialTimeout  time.Duration
	dialAttempts int
}

func main() {
	var (
		profilePath string
		opts        options
	)
	flag.StringVar(&profilePath, "config", "", "path to a TOML connection profile")
	flag.StringVar(&opts.addr, "addr", "localhost:12300", "server address (host:port)")
	flag.StringVar(&opts.username, "user", "", "username (3-12 alphanumeric characters, prompted when empty)")
	flag.StringVar(&opts.password, "password", "", "server password, if the server requires one")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 0, "heartbeat interval override (must stay below the 15s liveness window)")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	if err := run(profilePath, opts); err != nil {
		fmt.Fprintf(os.Stderr, "escp-tm: %v\n", err)
		os.Exit(1)
	}
}

func run(profilePath string, opts options) error {
	if profilePath != "" {
		profile, err := config.LoadClientProfile(profilePath)
		if err != nil {
			return err
		}
		opts, err = applyProfile(opts, setFlags(), profile)
		if err != nil {
			return err
		}
	}
	return NewApp(opts).Run()
}

func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyProfile fills in the settings the user left off the command
// line. Explicit flags win over the profile.
func applyProfile(opts options, set map[string]bool, p config.ClientProfile) (options, error) {
	if !set["addr"] {
		if addr := strings.TrimSpace(p.Addr); addr != "" {
			opts.addr = addr
		}
	}
	if !set["user"] && p.Username != "" {
		opts.username = p.Username
	}
	if !set["password"] {
		if pw := p.ResolvePassword(); pw != "" {
			opts.password = pw
		}
	}
	if !set["heartbeat"] && p.Heartbeat != "" {
		d, err := time.ParseDuration(p.Heartbeat)
		if err != nil {
			return options{}, fmt.Errorf("profile heartbeat: %w", err)
		}
		opts.heartbeat = d
	}
	if p.DialTimeout != "" {
		d, err := time.ParseDuration(p.DialTimeout)
		if err != nil {
			return options{}, fmt.Errorf("profile dial_timeout: %w", err)
		}
		opts.dialTimeout = d
	}
	opts.dialAttempts = p.DialAttempts
	return opts, nil
}

// App hosts the interactive terminal state for one chat connection.
type App struct {
	reader *bufio.Reader
	opts   options
}

func NewApp(opts options) *App {
	return &App{
		reader: bufio.NewReader(os.Stdin),
		opts:   opts,
	}
}

// Run dials the server, logs in, and pumps stdin lines into the chat
// until the user quits, stdin closes, or the connection drops.
func (a *App) Run() error {
	ctx := context.Background()
	if err := a.promptMissing(); err != nil {
		return err
	}

	cfg, err := buildClientConfig(a.opts)
	if err != nil {
		return err
	}

	cli, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer cli.Close()

	code, err := cli.Login(ctx, a.opts.username, a.opts.password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if code != protocol.CodeOK {
		return fmt.Errorf("login rejected: %s", code)
	}
	fmt.Printf("* logged in as %s on %s (/quit to leave)\n", cli.Username(), a.opts.addr)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range cli.Events() {
			fmt.Println(formatEvent(ev))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := a.reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimRight(line, "\r\n")
		}
	}()

	for {
		select {
		case <-cli.Done():
			<-printed
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; announce the departure before leaving.
				_ = cli.Logout()
				<-printed
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if isQuitCommand(text) {
				_ = cli.Logout()
				<-printed
				return nil
			}
			code, err := cli.SendMessage(ctx, text)
			switch {
			case errors.Is(err, client.ErrInvalidMessage):
				fmt.Println("! not sent: messages are 1-1000 characters and cannot contain '|'")
			case errors.Is(err, session.ErrRequestInFlight):
				fmt.Println("! not sent: still waiting for the server to confirm the previous message")
			case errors.Is(err, session.ErrConnectionClosed):
				<-printed
				return nil
			case err != nil:
				return err
			case code != protocol.CodeOK:
				fmt.Printf("! server rejected message: %s\n", code)
			}
		}
	}
}

// promptMissing asks for credentials when no username arrived from the
// flags or a profile. The password prompt only appears in that
// interactive path, so scripted runs never have a chat line swallowed
// as a password.
func (a *App) promptMissing() error {
	if strings.TrimSpace(a.opts.username) != "" {
		return nil
	}
	name, err := a.promptLine("Username")
	if err != nil {
		return err
	}
	a.opts.username = strings.TrimSpace(name)
	if a.opts.password == "" {
		pw, err := a.promptLine("Password (enter for none)")
		if err != nil {
			return err
		}
		a.opts.password = pw
	}
	return nil
}

func (a *App) promptLine(label string) (string, error) {
	if strings.TrimSpace(label) != "" {
		fmt.Printf("%s: ", label)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// buildClientConfig applies the run options onto the client defaults.
func buildClientConfig(opts options) (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.Addr = opts.addr
	if opts.heartbeat > 0 {
		cfg.Session.HeartbeatInterval = opts.heartbeat
	}
	if opts.dialTimeout > 0 {
		cfg.DialTimeout = opts.dialTimeout
	}
	if opts.dialAttempts > 0 {
		cfg.MaxDialAttempts = opts.dialAttempts
	}
	if err := cfg.Validate(); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

// formatEvent renders one inbound event the way the terminal shows it.
func formatEvent(ev client.Event) string {
	switch {
	case ev.Kind == client.EventConnectionLost:
		return fmt.Sprintf("* connection lost: %s", ev.Reason)
	case ev.Sender == "":
		return fmt.Sprintf("* %s", ev.Text)
	default:
		return fmt.Sprintf("<%s> %s", ev.Sender, ev.Text)
	}
}

// isQuitCommand matches the client-local exit commands. They never reach
// the server; everything else starting with '/' is the server's business.
func isQuitCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/quit", "/exit":
		return true
	}
	return false
}
