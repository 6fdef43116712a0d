package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envPrefix namespaces every flag's environment variable, e.g.
// SNIPPET_TOOLS_LOG_LEVEL for --log-level.
const envPrefix = "SNIPPET_TOOLS"

func main() {
	// Handle --version before parsing so it works without a subcommand
	if isVersionRequest(os.Args[1:]) {
		printVersion(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// isVersionRequest reports whether the first argument asks for the version.
func isVersionRequest(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "--version", "-v", "version":
		return true
	}
	return false
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "snippet-tools %s\n", Version)
	fmt.Fprintf(w, "  Build time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
}

// run parses args, configures logging and executes the selected subcommand.
// Errors are reported on stderr before being returned.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootFlags := ff.NewFlagSet("snippet-tools")
	logLevel := rootFlags.StringLong("log-level", "info", "log level: debug, info, warn or error")
	logFormat := rootFlags.StringLong("log-format", "text", "log format: text or json")

	app := &app{stdout: stdout, stderr: stderr}
	root := &ff.Command{
		Name:      "snippet-tools",
		Usage:     "snippet-tools [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "crop named regions out of page images stored in tar archives",
		Flags:     rootFlags,
		Subcommands: []*ff.Command{
			app.dirCommand(rootFlags),
			app.tarCommand(rootFlags),
			app.previewCommand(rootFlags),
			app.labelmeCommand(rootFlags),
			app.watchCommand(rootFlags),
			app.manifestCommand(rootFlags),
			app.mcpCommand(rootFlags),
		},
	}

	if err := root.Parse(args, ff.WithEnvVarPrefix(envPrefix)); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		if errors.Is(err, ff.ErrHelp) {
			return nil
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}

	logger, err := newLogger(stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}
	slog.SetDefault(logger)
	app.logger = logger
	logger.Debug("starting", "version", Version, "built", BuildTime, "commit", GitCommit)

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root))
			return err
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// newLogger builds the process logger. Logs always go to stderr so stdout
// stays free for results and the MCP protocol.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
}
