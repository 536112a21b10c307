// escp-probe exercises a running chat server end to end: it dials the
// TCP plane, logs in with a throwaway user, pushes traffic through the
// message and command surfaces, and optionally checks the HTTP admin
// plane. A non-zero exit means at least one check failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/echosphere/escp/internal/client"
	"github.com/echosphere/escp/internal/logging"
	"github.com/echosphere/escp/internal/protocol"
)

type options struct {
	addr      string
	adminAddr string
	password  string
	timeout   time.Duration
}

type checkResult struct {
	name    string
	elapsed time.Duration
	err     error
}

func main() {
	opts := parseFlags()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	start := time.Now()
	results := runProbe(opts)
	if failed := printSummary(results, time.Since(start)); failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.addr, "addr", "localhost:12300", "chat plane address (host:port)")
	flag.StringVar(&opts.adminAddr, "admin", "", "admin plane address; empty skips the HTTP checks")
	flag.StringVar(&opts.password, "password", "", "server password, if the server requires one")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "budget for each reply")
	flag.Parse()
	return opts
}

func runProbe(opts options) []checkResult {
	var results []checkResult

	// Each check gets its own timeout so one slow reply cannot eat the
	// budget of everything after it.
	record := func(name string, fn func(ctx context.Context) error) bool {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		start := time.Now()
		err := fn(ctx)
		results = append(results, checkResult{name: name, elapsed: time.Since(start), err: err})
		return err == nil
	}

	username := probeUsername()
	var cli *client.Client

	ok := record("dial", func(ctx context.Context) error {
		cfg := client.DefaultConfig()
		cfg.Addr = opts.addr
		c, err := client.Dial(ctx, cfg)
		if err != nil {
			return err
		}
		cli = c
		return nil
	})
	if ok {
		defer cli.Close()
		ok = record("login", func(ctx context.Context) error {
			code, err := cli.Login(ctx, username, opts.password)
			if err != nil {
				return err
			}
			if code != protocol.CodeOK {
				return fmt.Errorf("login rejected: %s", code)
			}
			return nil
		})
	}
	if ok {
		record("message", func(ctx context.Context) error {
			return expectOK(cli.SendMessage(ctx, "probe check-in"))
		})
		record("ping", func(ctx context.Context) error {
			if err := expectOK(cli.SendMessage(ctx, "/ping")); err != nil {
				return err
			}
			// Pong texts are operator-configurable, so any server
			// message within the budget counts as the reply.
			return awaitSystem(cli, opts.timeout, func(string) bool { return true })
		})
		record("list", func(ctx context.Context) error {
			if err := expectOK(cli.SendMessage(ctx, "/list")); err != nil {
				return err
			}
			return awaitSystem(cli, opts.timeout, func(text string) bool {
				return strings.HasPrefix(text, "Connected users: ") && strings.Contains(text, username)
			})
		})
		record("logout", func(context.Context) error {
			if err := cli.Logout(); err != nil {
				return err
			}
			select {
			case <-cli.Done():
				return nil
			case <-time.After(opts.timeout):
				return fmt.Errorf("connection still open after logout")
			}
		})
	}

	if opts.adminAddr != "" {
		record("admin/health", func(context.Context) error { return checkHealth(opts) })
		record("admin/stats", func(context.Context) error { return checkStats(opts) })
	}
	return results
}

// awaitSystem waits for a server-originated message accepted by match,
// skipping chat traffic from other users.
func awaitSystem(cli *client.Client, timeout time.Duration, match func(text string) bool) error {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-cli.Events():
			if !ok {
				return fmt.Errorf("connection closed while waiting for reply")
			}
			if ev.Kind == client.EventMessage && ev.Sender == "" && match(ev.Text) {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("no reply within %s", timeout)
		}
	}
}

func expectOK(code protocol.ResponseCode, err error) error {
	if err != nil {
		return err
	}
	if code != protocol.CodeOK {
		return fmt.Errorf("server answered %s", code)
	}
	return nil
}

// probeUsername builds a unique throwaway identity for this run so
// parallel probes never collide in the username registry.
func probeUsername() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "p" + raw[:11]
}

func checkHealth(opts options) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := getJSON(opts, "/health", &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("status %q", body.Status)
	}
	return nil
}

func checkStats(opts options) error {
	var body struct {
		Uptime string `json:"uptime"`
	}
	if err := getJSON(opts, "/v1/stats", &body); err != nil {
		return err
	}
	if body.Uptime == "" {
		return fmt.Errorf("stats reply missing uptime")
	}
	return nil
}

func getJSON(opts options, path string, out any) error {
	httpClient := &http.Client{Timeout: opts.timeout}
	resp, err := httpClient.Get("http://" + opts.adminAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s answered %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printSummary(results []checkResult, total time.Duration) int {
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Printf("FAIL  %-14s %s: %v\n", res.name, res.elapsed.Round(time.Millisecond), res.err)
			continue
		}
		fmt.Printf("  ok  %-14s %s\n", res.name, res.elapsed.Round(time.Millisecond))
	}
	fmt.Println()
	fmt.Println("Summary")
	fmt.Printf("  Checks:   run=%d pass=%d fail=%d\n", len(results), len(results)-failed, failed)
	fmt.Printf("  Duration: %s\n", total.Round(time.Millisecond))
	if failed > 0 {
		fmt.Println("  Failed Checks:")
		for _, res := range results {
			if res.err != nil {
				fmt.Printf("    - %s\n", res.name)
			}
		}
	}
	return failed
}
