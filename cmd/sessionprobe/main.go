// Package main provides a CLI for exercising a running aegis session
// endpoint the way a browser client would: establish a session for a
// described device, validate, rotate and invalidate it, or hold it and
// watch periodic re-validation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"aegis/internal/device"
	"aegis/internal/platform/logger"
	"aegis/internal/session/client"
	"aegis/internal/session/manager"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type options struct {
	url       string
	sessionID string
	token     string
	timeout   time.Duration
	interval  time.Duration
	duration  time.Duration
	asJSON    bool
	verbose   bool
	attrs     device.Attributes
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	opts, err := parseFlags(cmd, os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cmd, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseFlags(cmd string, args []string) (*options, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.url, "url", "http://localhost:8080", "Base URL of the aegis server")
	fs.StringVar(&o.sessionID, "session-id", "", "Session ID (validate, rotate, invalidate)")
	fs.StringVar(&o.token, "token", "", "Session token (validate, rotate, invalidate)")
	fs.DurationVar(&o.timeout, "timeout", 3*time.Second, "Per-call timeout")
	fs.DurationVar(&o.interval, "interval", manager.DefaultRevalidateInterval, "Re-validation interval (watch)")
	fs.DurationVar(&o.duration, "duration", 0, "How long to watch; 0 runs until interrupted (watch)")
	fs.BoolVar(&o.asJSON, "json", false, "Output as JSON")
	fs.BoolVar(&o.verbose, "v", false, "Log client activity to stderr")
	fs.StringVar(&o.attrs.UserAgent, "user-agent", defaultUserAgent, "Device user agent")
	fs.StringVar(&o.attrs.AcceptLanguage, "language", "en-US", "Device Accept-Language")
	fs.StringVar(&o.attrs.Timezone, "timezone", "UTC", "Device timezone")
	fs.StringVar(&o.attrs.Screen, "screen", "1920x1080", "Device screen size")
	fs.StringVar(&o.attrs.Platform, "platform", "", "Device platform hint")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cmd {
	case "establish", "watch":
	case "validate", "rotate", "invalidate":
		if o.sessionID == "" || o.token == "" {
			return nil, fmt.Errorf("%s requires -session-id and -token", cmd)
		}
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
	return o, nil
}

func run(ctx context.Context, cmd string, o *options, out io.Writer) error {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if o.verbose {
		log = logger.NewWithWriter(os.Stderr, "debug", "text")
	}

	remote, err := client.New(o.url, client.WithTimeout(o.timeout), client.WithLogger(log))
	if err != nil {
		return err
	}
	m, err := manager.New(remote, o.attrs,
		manager.WithRevalidateInterval(o.interval),
		manager.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "establish":
		status, err := m.Establish(ctx)
		if err != nil {
			return err
		}
		return printStatus(out, status, m.Token(), o.asJSON)

	case "validate":
		status, err := m.Resume(ctx, o.sessionID, o.token)
		printErr := printStatus(out, status, "", o.asJSON)
		return errors.Join(err, printErr)

	case "rotate":
		if _, err := m.Resume(ctx, o.sessionID, o.token); err != nil {
			return err
		}
		res := m.Rotate(ctx)
		if !res.Success {
			return errors.New(res.Error)
		}
		return printStatus(out, res.Status, m.Token(), o.asJSON)

	case "invalidate":
		if _, err := m.Resume(ctx, o.sessionID, o.token); err != nil {
			return err
		}
		return m.Invalidate(ctx)

	case "watch":
		return watch(ctx, m, o, out)
	}
	return nil
}

// watch establishes a session and prints its status on every interval
// until it is invalidated, the duration passes or the user interrupts.
func watch(ctx context.Context, m *manager.Manager, o *options, out io.Writer) error {
	status, err := m.Establish(ctx)
	if err != nil {
		return err
	}
	if err := printStatus(out, status, m.Token(), o.asJSON); err != nil {
		return err
	}

	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	last := status.LastValidation
	for {
		select {
		case <-ctx.Done():
			return m.Invalidate(context.WithoutCancel(ctx))
		case <-ticker.C:
			status := m.Status()
			if status.LastValidation.Equal(last) && status.State == manager.StateValid {
				continue
			}
			last = status.LastValidation
			if err := printStatus(out, status, "", o.asJSON); err != nil {
				return err
			}
			if status.State == manager.StateInvalidated {
				return fmt.Errorf("session invalidated: %v", status.Flags)
			}
		}
	}
}

type statusOutput struct {
	State          string   `json:"state"`
	SessionID      string   `json:"session_id,omitempty"`
	Token          string   `json:"token,omitempty"`
	SecurityScore  int      `json:"security_score"`
	SecurityTier   string   `json:"security_tier,omitempty"`
	Flags          []string `json:"flags,omitempty"`
	ExpiresAt      string   `json:"expires_at,omitempty"`
	LastValidation string   `json:"last_validation,omitempty"`
}

func printStatus(out io.Writer, s manager.Status, token string, asJSON bool) error {
	o := statusOutput{
		State:         string(s.State),
		SessionID:     s.SessionID,
		Token:         token,
		SecurityScore: s.SecurityScore,
		SecurityTier:  string(s.Tier),
		Flags:         s.Flags,
	}
	if !s.ExpiresAt.IsZero() {
		o.ExpiresAt = s.ExpiresAt.Format(time.RFC3339)
	}
	if !s.LastValidation.IsZero() {
		o.LastValidation = s.LastValidation.Format(time.RFC3339)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	fmt.Fprintf(out, "state:       %s\n", o.State)
	if o.SessionID != "" {
		fmt.Fprintf(out, "session id:  %s\n", o.SessionID)
	}
	if o.Token != "" {
		fmt.Fprintf(out, "token:       %s\n", o.Token)
	}
	fmt.Fprintf(out, "score:       %d (%s)\n", o.SecurityScore, o.SecurityTier)
	if len(o.Flags) > 0 {
		fmt.Fprintf(out, "flags:       %v\n", o.Flags)
	}
	if o.ExpiresAt != "" {
		fmt.Fprintf(out, "expires at:  %s\n", o.ExpiresAt)
	}
	return nil
}

func printUsage() {
	fmt.Println(`sessionprobe - drive an aegis session endpoint from the command line

Usage:
  sessionprobe <command> [flags]

Commands:
  establish    Create and validate a session for the described device
  validate     Validate an existing session
  rotate       Rotate an existing session and validate the new one
  invalidate   Revoke an existing session
  watch        Establish a session and re-validate it on an interval

Examples:
  sessionprobe establish -url http://localhost:8080 -json
  sessionprobe validate -session-id <id> -token <token>
  sessionprobe watch -interval 30s -duration 5m
  sessionprobe validate -session-id <id> -token <token> -timezone America/New_York

Run 'sessionprobe <command> -h' for command flags.`)
}
