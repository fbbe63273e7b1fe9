package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cruciblehq/cruxrel/internal"
	"github.com/cruciblehq/cruxrel/internal/server"
	"github.com/cruciblehq/cruxrel/internal/upload"
)

// Represents the 'cruxrel serve' command.
type ServeCmd struct {
	Backend          string        `enum:"ipfs,swarm" default:"ipfs" env:"CRUXREL_BACKEND" help:"Default upload backend (${enum})."`
	Provider         string        `env:"CRUXREL_PROVIDER" placeholder:"URL" help:"Default backend API endpoint."`
	PostageBatch     string        `env:"CRUXREL_POSTAGE_BATCH" placeholder:"ID" help:"Default postage batch for Swarm uploads."`
	Timeout          time.Duration `default:"30m" env:"CRUXREL_BUILD_TIMEOUT" help:"Default build limit per architecture."`
	Docker           string        `default:"docker" env:"CRUXREL_DOCKER" placeholder:"PATH" help:"Docker CLI executable."`
	IndexMaxAge      time.Duration `default:"2160h" env:"CRUXREL_INDEX_MAX_AGE" help:"Retention of the local release index."`
	BuildCacheMaxAge time.Duration `default:"168h" env:"CRUXREL_BUILD_CACHE_MAX_AGE" help:"Retention of unused build cache."`
}

// Executes the serve command.
//
// Starts the release daemon on a Unix domain socket and blocks until the
// context is cancelled (e.g. via SIGINT or SIGTERM) or a client requests a
// shutdown.
func (c *ServeCmd) Run(ctx context.Context) error {
	var output io.Writer
	if internal.IsDebug() {
		output = os.Stderr
	}

	r, err := newReleaser(c.Docker, output, retention{
		IndexMaxAge:      c.IndexMaxAge,
		BuildCacheMaxAge: c.BuildCacheMaxAge,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	srv, err := server.New(server.Config{
		SocketPath: RootCmd.Socket,
		Index:      r.index,
		Release: r.serve(settings{
			Backend:      upload.Kind(c.Backend),
			Provider:     c.Provider,
			PostageBatch: c.PostageBatch,
			Timeout:      c.Timeout,
		}),
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("cruxrel is running")

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
