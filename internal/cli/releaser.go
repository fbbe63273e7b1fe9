package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/cruxrel/internal"
	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/cruciblehq/cruxrel/internal/paths"
	"github.com/cruciblehq/cruxrel/internal/pipeline"
	"github.com/cruciblehq/cruxrel/internal/protocol"
	"github.com/cruciblehq/cruxrel/internal/release"
	"github.com/cruciblehq/cruxrel/internal/runtime"
	"github.com/cruciblehq/cruxrel/internal/upload"
	"github.com/joho/godotenv"
)

// Parameters of one release.
type settings struct {
	Dir             string        // Package directory.
	BuildDir        string        // Build directory override.
	UpstreamVersion string        // Upstream version, from flags or the environment.
	Backend         upload.Kind   // Upload backend.
	Provider        string        // Backend endpoint. Empty uses the local node.
	PostageBatch    string        // Swarm postage batch.
	Timeout         time.Duration // Build limit per archive.
	SkipUpload      bool          // Build only.
}

// Housekeeping retention.
type retention struct {
	IndexMaxAge      time.Duration // Local index entries.
	BuildCacheMaxAge time.Duration // Engine build cache.
}

// Engine-bound release runner shared by the CLI and the daemon.
type releaser struct {
	runtime *runtime.Runtime
	index   *release.Index
	pruner  release.Pruner
}

// Connects to the container engine and sets up the local release index.
func newReleaser(docker string, output io.Writer, keep retention) (*releaser, error) {
	rt, err := runtime.New(runtime.Options{Binary: docker, Output: output})
	if err != nil {
		return nil, err
	}

	index := &release.Index{Dir: paths.ReleaseIndex()}
	return &releaser{
		runtime: rt,
		index:   index,
		pruner: release.Pruners{
			release.CachePruner{Index: *index, MaxAge: keep.IndexMaxAge},
			release.BuildCachePruner{Engine: rt, MaxAge: keep.BuildCacheMaxAge},
		},
	}, nil
}

// Runs the pipeline for s.
func (r *releaser) run(ctx context.Context, s settings, onProgress func(upload.Progress)) (*pipeline.Context, error) {
	var backend upload.Backend
	if !s.SkipUpload {
		provider := s.Provider
		if provider == "" {
			provider = upload.DefaultProvider(s.Backend)
		}
		b, err := upload.New(upload.Config{
			Kind:         s.Backend,
			Provider:     provider,
			PostageBatch: s.PostageBatch,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	}

	upstream := s.UpstreamVersion
	if upstream == "" {
		upstream = packageEnv(s.Dir, manifest.UpstreamVersionArg)
	}

	return pipeline.Run(ctx, pipeline.Config{
		Dir:             s.Dir,
		BuildDir:        s.BuildDir,
		UpstreamVersion: upstream,
		Timeout:         s.Timeout,
		SkipUpload:      s.SkipUpload,
	}, pipeline.Deps{
		Engine:     r.runtime,
		Backend:    backend,
		Index:      r.index,
		Pruner:     r.pruner,
		OnProgress: onProgress,
	})
}

// Serves a daemon release request with the daemon's defaults.
func (r *releaser) serve(defaults settings) func(context.Context, *protocol.ReleaseRequest, func(upload.Progress)) (*pipeline.Context, error) {
	return func(ctx context.Context, req *protocol.ReleaseRequest, onProgress func(upload.Progress)) (*pipeline.Context, error) {
		s, err := fromRequest(req, defaults)
		if err != nil {
			return nil, err
		}
		return r.run(ctx, s, onProgress)
	}
}

func (r *releaser) Close() error {
	return r.runtime.Close()
}

// Merges a daemon request over defaults.
func fromRequest(req *protocol.ReleaseRequest, defaults settings) (settings, error) {
	if !filepath.IsAbs(req.Dir) {
		return settings{}, fmt.Errorf("%w: package directory must be absolute: %q", manifest.ErrConfiguration, req.Dir)
	}

	s := defaults
	s.Dir = req.Dir
	s.BuildDir = req.BuildDir
	if s.BuildDir != "" && !filepath.IsAbs(s.BuildDir) {
		s.BuildDir = filepath.Join(req.Dir, s.BuildDir)
	}
	s.UpstreamVersion = req.UpstreamVersion
	s.SkipUpload = req.SkipUpload
	if req.Backend != "" {
		s.Backend = upload.Kind(req.Backend)
		s.Provider = ""
		s.PostageBatch = ""
	}
	if req.Provider != "" {
		s.Provider = req.Provider
	}
	if req.PostageBatch != "" {
		s.PostageBatch = req.PostageBatch
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return settings{}, fmt.Errorf("%w: timeout: %w", manifest.ErrConfiguration, err)
		}
		s.Timeout = d
	}
	return s, nil
}

// Returns key from the package directory's environment file, if any.
func packageEnv(dir, key string) string {
	env, err := godotenv.Read(filepath.Join(dir, envFile))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read package environment file", "dir", dir, "error", err)
		}
		return ""
	}
	return env[key]
}

// Returns where engine output goes for the current verbosity.
func engineOutput() io.Writer {
	if internal.IsQuiet() {
		return nil
	}
	return os.Stderr
}
