// Command oddlytics tracks events from the shell or a pipeline.
//
//	oddlytics --endpoint https://t.example.com --api-key KEY --app-id APP deploy_finished env=prod
//	producer | oddlytics --stdin
//
// Settings fall back to the ODDLYTICS_* environment variables.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/oddlytics/oddlytics"
	"github.com/oddlytics/oddlytics/identity"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stdinEvent is one line of --stdin input.
type stdinEvent struct {
	Event    string            `json:"event"`
	Metadata map[string]string `json:"metadata"`
}

type trackedEvent struct {
	name     string
	metadata map[string]string
}

func run(args []string, stdin io.Reader, stderr io.Writer) error {
	cfg, err := oddlytics.ConfigFromEnv()
	if err != nil {
		return err
	}

	var identityDB string
	var fromStdin bool

	flagSet := pflag.NewFlagSet("oddlytics", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "collection endpoint base URL")
	flagSet.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "API key sent in X-API-KEY")
	flagSet.StringVar(&cfg.AppID, "app-id", cfg.AppID, "application identifier")
	flagSet.StringVar(&cfg.Platform, "platform", cfg.Platform, "platform stamped on events (default: OS name)")
	flagSet.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log every enqueue and delivery")
	flagSet.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "delivery request timeout")
	flagSet.StringVar(&identityDB, "identity-db", "", "SQLite file holding a persistent user and device ID")
	flagSet.BoolVar(&fromStdin, "stdin", false, `read newline-delimited {"event":...,"metadata":{...}} objects from stdin`)
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Bool("version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Fprintf(stderr, "oddlytics %s\n", oddlytics.Version)
		return nil
	}

	var single trackedEvent
	if fromStdin {
		if flagSet.NArg() > 0 {
			return fmt.Errorf("unexpected argument with --stdin: %s", flagSet.Arg(0))
		}
	} else {
		single, err = parseArgs(flagSet.Args())
		if err != nil {
			return err
		}
	}

	opts := []oddlytics.Option{
		oddlytics.WithLogger(newLogger(stderr, cfg.Debug)),
	}
	if identityDB != "" {
		store, err := identity.Open(identityDB)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, oddlytics.WithIdentity(store))
	}

	engine, err := oddlytics.Configure(cfg, opts...)
	if err != nil {
		return err
	}

	// Lines are tracked as they arrive so batches go out while input streams.
	var inputErr error
	if fromStdin {
		inputErr = trackLines(stdin, engine.Track)
	} else {
		engine.Track(single.name, single.metadata)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = oddlytics.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()

	shutdownErr := engine.Shutdown(ctx)
	if inputErr != nil {
		return inputErr
	}
	return shutdownErr
}

// parseArgs turns "EVENT [key=value ...]" into one event.
func parseArgs(args []string) (trackedEvent, error) {
	if len(args) == 0 {
		return trackedEvent{}, errors.New("event name required (or use --stdin)")
	}

	metadata := make(map[string]string, len(args)-1)
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return trackedEvent{}, fmt.Errorf("metadata must be key=value, got %q", arg)
		}
		metadata[key] = value
	}
	return trackedEvent{name: args[0], metadata: metadata}, nil
}

// trackLines reads newline-delimited JSON events and passes each to track as
// soon as its line is read. Blank lines are skipped. It stops at the first
// malformed line; events before it have already been tracked.
func trackLines(r io.Reader, track func(name string, metadata map[string]string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var in stdinEvent
		if err := json.Unmarshal([]byte(text), &in); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if in.Event == "" {
			return fmt.Errorf("line %d: event is required", line)
		}
		track(in.Event, in.Metadata)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `oddlytics tracks events and delivers them to a collection endpoint.

Usage:
  oddlytics [flags] EVENT [key=value ...]
  oddlytics [flags] --stdin

Examples:
  # Track one event with metadata
  oddlytics deploy_finished env=prod version=1.4.2

  # Track a stream of events
  tail -f events.ndjson | oddlytics --stdin

Flags:
%s
Environment:
  ODDLYTICS_ENDPOINT, ODDLYTICS_API_KEY, ODDLYTICS_APP_ID, ODDLYTICS_TIMEOUT,
  ODDLYTICS_DEBUG, ODDLYTICS_PLATFORM supply defaults for the flags above.
`, flagSet.FlagUsages())
}
