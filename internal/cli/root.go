package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/cruciblehq/cruxrel/internal"
	"github.com/joho/godotenv"
)

// Environment file loaded from the working directory before parsing.
const envFile = ".env"

// Represents the root command for cruxrel.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	NoColor bool       `name:"no-color" env:"NO_COLOR" help:"Disable coloured output."`
	Socket  string     `short:"s" env:"CRUXREL_SOCKET" help:"Override the default Unix socket path." placeholder:"PATH"`
	Release ReleaseCmd `cmd:"" help:"Build, upload and record a package release."`
	Serve   ServeCmd   `cmd:"" help:"Run the release daemon."`
	Status  StatusCmd  `cmd:"" help:"Show the status of a running daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loadEnv(envFile)

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds container image archives for a package, uploads the release to a content-addressed store and records its address."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Loads variables from an environment file without overriding the
// environment. A missing file is ignored.
func loadEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load environment file", "path", path, "error", err)
	}
}

// Rebuilds the global logger from CLI flags and linker defaults.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())
	internal.SetNoColor(RootCmd.NoColor || internal.IsNoColor())

	level := slog.LevelInfo
	if internal.IsDebug() {
		level = slog.LevelDebug
	} else if internal.IsQuiet() {
		level = slog.LevelWarn
	}

	slog.SetDefault(slog.New(newHandler(os.Stderr, level, internal.IsNoColor(), internal.IsVerbose())))
}
