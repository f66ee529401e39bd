package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"folio/internal/config"
	"folio/internal/logging"
	"folio/pkg/folio"
)

// app carries the top-level flags shared by every command.
type app struct {
	configPath string
	dataDir    string
	user       string

	stdout io.Writer
	stderr io.Writer

	// tune adjusts core options before opening; tests use it to pin rates and time.
	tune func(*folio.Options)
}

// openCore loads the configuration and opens the database it points at.
// Logs go to stderr so command output stays machine readable.
func (a *app) openCore() (*folio.Core, *config.Config, error) {
	var paths []string
	if a.configPath != "" {
		paths = append(paths, a.configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}

	logger := logging.NewConsoleLogger(a.stderr, logging.Options{
		Level:  envOr("FOLIO_LOG_LEVEL", "warn"),
		Format: cfg.Logging.Format,
	})
	opts, err := cfg.CoreOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	if a.tune != nil {
		a.tune(&opts)
	}
	core, err := folio.OpenWithOptions(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return core, cfg, nil
}

func (a *app) fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(a.stderr, err)
	return subcommands.ExitFailure
}

func (a *app) printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return a.fail(err)
	}
	return subcommands.ExitSuccess
}

func closeCore(core *folio.Core, stderr io.Writer) {
	if err := core.Close(); err != nil {
		fmt.Fprintln(stderr, "close database:", err)
	}
}

func readInput(name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}
