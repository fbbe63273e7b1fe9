package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/cruxrel/internal/pipeline"
	"github.com/cruciblehq/cruxrel/internal/protocol"
	"github.com/cruciblehq/cruxrel/internal/upload"
	"github.com/dustin/go-humanize"
)

// Represents the 'cruxrel release' command.
type ReleaseCmd struct {
	Dir              string        `arg:"" optional:"" default:"." type:"existingdir" help:"Package directory."`
	BuildDir         string        `type:"path" placeholder:"DIR" help:"Build directory. Defaults to build_<version> inside the package."`
	UpstreamVersion  string        `env:"UPSTREAM_VERSION" placeholder:"VERSION" help:"Upstream version, used when the composition does not pin one."`
	Backend          string        `enum:"ipfs,swarm" default:"ipfs" env:"CRUXREL_BACKEND" help:"Upload backend (${enum})."`
	Provider         string        `env:"CRUXREL_PROVIDER" placeholder:"URL" help:"Backend API endpoint. Defaults to the local node."`
	PostageBatch     string        `env:"CRUXREL_POSTAGE_BATCH" placeholder:"ID" help:"Postage batch for Swarm uploads."`
	Timeout          time.Duration `default:"30m" env:"CRUXREL_BUILD_TIMEOUT" help:"Build limit per architecture. Zero disables it."`
	SkipUpload       bool          `env:"CRUXREL_SKIP_UPLOAD" help:"Build the archives without uploading or recording."`
	Docker           string        `default:"docker" env:"CRUXREL_DOCKER" placeholder:"PATH" help:"Docker CLI executable."`
	IndexMaxAge      time.Duration `default:"2160h" env:"CRUXREL_INDEX_MAX_AGE" help:"Retention of the local release index."`
	BuildCacheMaxAge time.Duration `default:"168h" env:"CRUXREL_BUILD_CACHE_MAX_AGE" help:"Retention of unused build cache."`
	Daemon           bool          `help:"Hand the release to a running daemon."`
	JSON             bool          `name:"json" help:"Print the result as JSON."`
}

// Executes the release command.
func (c *ReleaseCmd) Run(ctx context.Context) error {
	s, err := c.settings()
	if err != nil {
		return err
	}

	var result *pipeline.Context
	if c.Daemon {
		result, err = releaseRemote(ctx, socketPath(), s)
	} else {
		result, err = c.releaseLocal(ctx, s)
	}
	if err != nil {
		return err
	}

	return printResult(result, c.JSON)
}

func (c *ReleaseCmd) settings() (settings, error) {
	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return settings{}, err
	}
	return settings{
		Dir:             dir,
		BuildDir:        c.BuildDir,
		UpstreamVersion: c.UpstreamVersion,
		Backend:         upload.Kind(c.Backend),
		Provider:        c.Provider,
		PostageBatch:    c.PostageBatch,
		Timeout:         c.Timeout,
		SkipUpload:      c.SkipUpload,
	}, nil
}

func (c *ReleaseCmd) releaseLocal(ctx context.Context, s settings) (*pipeline.Context, error) {
	r, err := newReleaser(c.Docker, engineOutput(), retention{
		IndexMaxAge:      c.IndexMaxAge,
		BuildCacheMaxAge: c.BuildCacheMaxAge,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.run(ctx, s, nil)
}

// Sends the release to the daemon listening on socket, logging its progress.
func releaseRemote(ctx context.Context, socket string, s settings) (*pipeline.Context, error) {
	req := &protocol.ReleaseRequest{
		Dir:             s.Dir,
		BuildDir:        s.BuildDir,
		UpstreamVersion: s.UpstreamVersion,
		Backend:         string(s.Backend),
		Provider:        s.Provider,
		PostageBatch:    s.PostageBatch,
		SkipUpload:      s.SkipUpload,
	}
	if s.Timeout > 0 {
		req.Timeout = s.Timeout.String()
	}

	var res protocol.ReleaseResult
	err := call(ctx, socket, protocol.CmdRelease, req, &res, func(p protocol.ProgressResult) {
		slog.Debug("upload progress",
			"backend", p.Backend,
			"sent", humanize.Bytes(uint64(p.Sent)),
			"total", humanize.Bytes(uint64(p.Total)),
		)
	})
	if err != nil {
		return nil, err
	}

	return &pipeline.Context{
		Name:           res.Name,
		Version:        res.Version,
		BuildDir:       res.BuildDir,
		Archives:       res.Archives,
		ContentAddress: res.ContentAddress,
		ReleaseHash:    res.ReleaseHash,
		Warnings:       res.Warnings,
	}, nil
}

// Prints the release hash, or the whole result as JSON.
func printResult(c *pipeline.Context, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}

	for _, w := range c.Warnings {
		slog.Warn(w)
	}
	if c.ReleaseHash == "" {
		slog.Info("archives built", "dir", c.BuildDir, "archives", len(c.Archives))
		return nil
	}
	fmt.Println(c.ReleaseHash)
	return nil
}
