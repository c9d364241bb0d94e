// Package main is the entry point for the build notification mailer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shineum/buildmail/internal/config"
	"github.com/shineum/buildmail/internal/notify"
	"github.com/shineum/buildmail/internal/provider"
	"github.com/shineum/buildmail/internal/provider/stdout"
)

const defaultConfigPath = "../../email_config.ini"

var troubleshooting = []string{
	"Check your SMTP credentials",
	"Use App Passwords for Gmail",
	"Validate recipient emails",
	"Check your internet connection",
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

// run executes one notification and returns the process exit status.
func run(ctx context.Context, args []string, out io.Writer) int {
	flags := flag.NewFlagSet("buildmail", flag.ContinueOnError)
	flags.SetOutput(out)
	configPath := flags.String("config", defaultConfigPath, "path to the INI (or YAML) configuration file")
	dryRun := flags.Bool("dry-run", false, "print the message instead of sending it")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	// Credentials may live in a .env file next to the working directory
	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(out, "Error reading .env file: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "Sending email using configuration: %s\n", *configPath)
	fmt.Fprintln(out, strings.Repeat("=", 60))

	if err := send(ctx, *configPath, *dryRun, out); err != nil {
		reportFailure(out, err)
		return 1
	}

	fmt.Fprintln(out, "\nEmail sent successfully!")
	return 0
}

func send(ctx context.Context, path string, dryRun bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := setupLogger(out, cfg.Logging.Level, cfg.Logging.Format)

	s := notify.Resolve(cfg)
	fmt.Fprintf(out, "SMTP Server: %s:%d\n", s.Server, s.Port)
	fmt.Fprintf(out, "From: %s\n", s.From)
	fmt.Fprintf(out, "Recipients: %s\n", strings.Join(s.Recipients, ", "))
	fmt.Fprintf(out, "Subject: %s\n", s.Subject)

	var p provider.Provider
	if dryRun {
		p = stdout.NewWithWriter(out)
	} else {
		p, err = notify.NewProvider(ctx, cfg)
		if err != nil {
			return err
		}
	}

	signer, err := notify.NewSigner(cfg)
	if err != nil {
		return err
	}

	result, err := notify.New(p, notify.WithSigner(signer), notify.WithLogger(logger)).Send(ctx, cfg)
	if err != nil {
		return err
	}

	for _, name := range result.Attached {
		fmt.Fprintf(out, "Attachment added: %s\n", name)
	}
	for _, path := range result.Skipped {
		fmt.Fprintf(out, "Attachment not found: %s\n", path)
	}
	return nil
}

func reportFailure(out io.Writer, err error) {
	switch {
	case errors.Is(err, config.ErrNotFound), errors.Is(err, config.ErrParse):
		fmt.Fprintf(out, "%v\n", err)
	default:
		fmt.Fprintf(out, "Error sending email: %v\n", err)
	}

	fmt.Fprintln(out, "\nEmail sending failed!")
	fmt.Fprintln(out, "\nTroubleshooting tips:")
	for i, tip := range troubleshooting {
		fmt.Fprintf(out, "  %d. %s\n", i+1, tip)
	}
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// setupLogger configures the global slog logger with the specified level and
// format ("text" or "json") and returns it.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
