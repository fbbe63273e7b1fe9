package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cruciblehq/cruxrel/internal/build"
	"github.com/cruciblehq/cruxrel/internal/builddir"
	"github.com/cruciblehq/cruxrel/internal/release"
	"github.com/cruciblehq/cruxrel/internal/upload"
)

// Release parameters.
type Config struct {
	Dir             string        // Package directory.
	BuildDir        string        // Build directory. Defaults to "build_<version>" inside Dir.
	UpstreamVersion string        // Upstream version from the environment.
	Timeout         time.Duration // Build limit per archive. Zero means no limit.
	SkipUpload      bool          // Stop after building; no address, no record.
}

// Collaborators of a release run.
type Deps struct {
	Engine     build.Engine          // Container engine. Required.
	Backend    upload.Backend        // Upload backend. Required unless uploads are skipped.
	Index      *release.Index        // Local release index. Optional.
	Pruner     release.Pruner        // Housekeeping after recording. Optional.
	OnProgress func(upload.Progress) // Upload progress observer. Logs when nil.
	Now        func() time.Time      // Clock. Defaults to time.Now.
}

// Runs a release.
//
// The returned context reflects every stage that completed, also when an
// error is returned. With [Config.SkipUpload] the run ends after the build
// stage and leaves the addresses empty.
func Run(ctx context.Context, cfg Config, deps Deps) (*Context, error) {
	if deps.Engine == nil {
		return nil, errors.New("pipeline: no container engine")
	}
	if deps.Backend == nil && !cfg.SkipUpload {
		return nil, errors.New("pipeline: no upload backend")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.OnProgress == nil {
		deps.OnProgress = logProgress()
	}

	var c Context

	norm, c, err := normalize(normalizeInput{
		Dir:             cfg.Dir,
		UpstreamVersion: cfg.UpstreamVersion,
	}, c)
	if err != nil {
		return &c, err
	}
	desc := norm.Descriptor

	dir := cfg.BuildDir
	if dir == "" {
		dir = builddir.DefaultDir(cfg.Dir, c.Version)
	}
	if _, c, err = prepare(prepareInput{Dir: dir, Descriptor: desc}, c); err != nil {
		return &c, err
	}

	if _, c, err = buildImages(ctx, buildInput{
		Engine:     deps.Engine,
		Descriptor: desc,
		Timeout:    cfg.Timeout,
	}, c); err != nil {
		return &c, err
	}

	if cfg.SkipUpload {
		slog.Info("upload skipped", "dir", c.BuildDir)
		return &c, nil
	}

	up, c, err := publish(ctx, uploadInput{
		Backend:    deps.Backend,
		OnProgress: deps.OnProgress,
	}, c)
	if err != nil {
		return &c, err
	}

	if _, c, err = record(ctx, recordInput{
		Dir:      cfg.Dir,
		Backend:  deps.Backend,
		Address:  up.Address,
		Archives: c.Archives,
		Index:    deps.Index,
		Pruner:   deps.Pruner,
		Now:      deps.Now,
	}, c); err != nil {
		return &c, err
	}

	slog.Info("release complete",
		"name", c.Name,
		"version", c.Version,
		"hash", c.ReleaseHash,
	)
	return &c, nil
}
