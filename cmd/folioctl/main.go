// Command folioctl runs position maintenance and reports against a folio
// database without starting the HTTP server.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	app := &app{stdout: os.Stdout, stderr: os.Stderr}
	commander := newCommander(flag.CommandLine, path.Base(os.Args[0]), app)
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// newCommander registers every folioctl command on the given top-level flags.
func newCommander(fs *flag.FlagSet, name string, a *app) *subcommands.Commander {
	fs.StringVar(&a.configPath, "config", "", "Path to folio.toml (defaults to the standard locations)")
	fs.StringVar(&a.dataDir, "data-dir", "", "Directory holding the database")
	fs.StringVar(&a.user, "user", envOr("FOLIO_USER", "default"), "User whose data is read or changed")

	commander := subcommands.NewCommander(fs, name)
	commander.Output = a.stdout
	commander.Error = a.stderr
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&recalcCmd{app: a}, "positions")
	commander.Register(&positionsCmd{app: a}, "positions")
	commander.Register(&importCmd{app: a}, "positions")

	commander.Register(&reportCmd{app: a}, "reports")
	commander.Register(&snapshotCmd{app: a}, "reports")

	commander.Register(&ratesCmd{app: a}, "currencies")
	return commander
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
