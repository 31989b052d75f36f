// parkingwatch logs in to a smart parking server, watches parking spaces and
// prints every occupancy update it receives.
//
// Usage:
//
//	parkingwatch -server http://localhost:8080 -email user@parking.com ps-1 ps-2
//
// The password is read from SMARTPARKING_PASSWORD, or prompted for on the
// terminal. With -subscribe the spaces are stored as durable subscriptions
// instead of being watched for this session only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/client"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/logging"
)

const passwordEnv = config.EnvPrefix + "PASSWORD"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// options are the parsed command line.
type options struct {
	server    string
	email     string
	subscribe bool
	verbose   bool
	spaces    []string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs reads flags and positional space ids.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("parkingwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	fs.StringVar(&opts.email, "email", "", "account email")
	fs.BoolVar(&opts.subscribe, "subscribe", false, "store the spaces as durable subscriptions")
	fs.BoolVar(&opts.verbose, "v", false, "log connection state changes")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.email == "" {
		return opts, errors.New("-email is required")
	}
	for _, id := range fs.Args() {
		if id = strings.TrimSpace(id); id != "" {
			opts.spaces = append(opts.spaces, id)
		}
	}
	return opts, nil
}

// password returns the account password from the environment or the terminal.
func password(stderr io.Writer) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	fmt.Fprint(stderr, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// run logs in, sets up the watches and prints updates until ctx is done.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	pw, err := password(stderr)
	if err != nil {
		return err
	}

	level := "warn"
	if opts.verbose {
		level = "info"
	}
	log := logging.NewWithWriter(config.LoggingConfig{Level: level, Format: "text"}, "parkingwatch", stderr)

	m := client.NewManager(client.Config{
		BaseURL: opts.server,
		OnStateChange: func(s client.State) {
			log.Info("connection state", "state", string(s))
		},
	})
	m.SetLogger(log)

	if err := m.Login(ctx, opts.email, pw); err != nil {
		return err
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Logout(logoutCtx); err != nil {
			log.Warn("logout failed", "error", err)
		}
	}()

	for _, id := range opts.spaces {
		if opts.subscribe {
			err = m.Subscribe(ctx, id)
		} else {
			err = m.Watch(id)
		}
		if err != nil {
			return fmt.Errorf("watching %s: %w", id, err)
		}
	}
	fmt.Fprintf(stdout, "watching %d space(s) as %s\n", len(opts.spaces), opts.email)

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-m.Updates():
			fmt.Fprintln(stdout, formatUpdate(u))
		}
	}
}

// formatUpdate renders one update as a single line.
func formatUpdate(u client.Update) string {
	status := "free"
	if u.IsOccupied {
		status = "occupied"
	}
	return fmt.Sprintf("%s  %-10s %-8s %.2f  %s",
		u.UpdatedAt.Local().Format(time.TimeOnly), u.ID, status, u.CurrentPrice, u.Address)
}
