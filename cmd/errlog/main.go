// ABOUTME: Entry point for the errlog command line tool
// ABOUTME: Feeds stdin lines into a deduplicating error log and writes digests on alert

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/2389/errorlog/internal/config"
	"github.com/2389/errorlog/internal/logging"
	"github.com/2389/errorlog/internal/report"
	"github.com/2389/errorlog/pkg/errorlog"
)

// version is set at build time via -ldflags.
var version = "dev"

const banner = `
                 _
  ___ _ __ _ __ | | ___   __ _
 / _ \ '__| '__|| |/ _ \ / _' |
|  __/ |  | |   | | (_) | (_| |
 \___|_|  |_|   |_|\___/ \__, |
                         |___/
`

// getConfigPath returns the path to the errlog config file.
// Priority: ERRLOG_CONFIG env var > XDG_CONFIG_HOME/errlog/config.yaml > ~/.config/errlog/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ERRLOG_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "errlog.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "errlog", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: errlog <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  watch                  Read errors from stdin and alert on bursts")
		fmt.Println("  init [path] [--force]  Write a default config file")
		fmt.Println("  version                Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "watch":
		err = runWatch(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config at path, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.NewLoader(filepath.Dir(path)).Load(filepath.Base(path))
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	return cfg, true, nil
}

func runWatch(ctx context.Context) error {
	configPath := getConfigPath()

	// Banner goes to stderr; stdout may carry digests.
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(os.Stderr, banner)
	gray.Fprintf(os.Stderr, "    version: %s\n\n", version)

	cfg, found, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Config:    %s", configPath)
	if !found {
		yellow.Fprint(os.Stderr, " (not found, using defaults)")
	}
	fmt.Fprintln(os.Stderr)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Capacity:  %d entries, alert at %d\n", cfg.ErrorLog.MaxErrorsStored, cfg.ErrorLog.CriticalThreshold)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Digest:    %s → %s\n\n", cfg.Digest.Format, digestTarget(cfg.Digest.Output))

	out, closeOut, err := openDigestOutput(cfg.Digest.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	handler, err := report.NewHandler(out, cfg.Digest.Format)
	if err != nil {
		return fmt.Errorf("creating digest handler: %w", err)
	}

	log, err := errorlog.FromConfig(cfg.ErrorLog, errorlog.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating error log: %w", err)
	}
	defer log.Close()
	errorlog.SetDefault(log)

	if err := log.SetCriticalHandler(handler); err != nil {
		return fmt.Errorf("registering digest handler: %w", err)
	}

	logger.Info("watching stdin", "config", configPath)

	sum, err := watch(ctx, os.Stdin, log, logger)
	log.Wait()
	printSummary(os.Stderr, sum, log)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func digestTarget(output string) string {
	if output == "" {
		return "stdout"
	}
	return output
}

func openDigestOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening digest output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func printSummary(w io.Writer, sum summary, log *errorlog.Log) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w)
	bold.Fprintln(w, "    Summary")
	fmt.Fprintf(w, "    lines read:     %s\n", humanize.Comma(int64(sum.Lines)))
	fmt.Fprintf(w, "    recorded:       %s\n", humanize.Comma(log.TotalErrorCount()))
	fmt.Fprintf(w, "    rejected:       %s\n", humanize.Comma(int64(sum.Rejected)))
	fmt.Fprintf(w, "    dropped:        %s\n", humanize.Comma(log.DroppedCount()))
	fmt.Fprintf(w, "    still stored:   %d\n", len(log.GetAllErrors()))
}

func runInit(args []string) error {
	path := getConfigPath()
	force := false
	for _, a := range args {
		if a == "--force" {
			force = true
			continue
		}
		path = a
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := writeDefaultConfig(path); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

func writeDefaultConfig(path string) error {
	body, err := config.Default().YAML()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	header := "# errlog configuration\n# Generated by errlog init\n\n"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), body...), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
