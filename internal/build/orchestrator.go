package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/cruciblehq/cruxrel/internal/fsutil"
	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/fatih/semgroup"
)

// Archives are built one at a time because every architecture tags its
// images under the same local names.
const parallelism = 1

// Holds shared state for producing the archives of a plan.
type orchestrator struct {
	engine  Engine                   // Container engine.
	dir     string                   // Build directory.
	compose string                   // Build variant of the composition.
	plan    manifest.Plan            // Archive strategy.
	images  []manifest.ExternalImage // External images to ensure.
	refs    []string                 // Images saved into each archive.
	timeout time.Duration            // Limit per archive.
	native  string                   // Platform of native builds.
	archive []manifest.Archive       // Planned archives.
}

// Creates a new [orchestrator] from the given options.
func newOrchestrator(engine Engine, opts Options) *orchestrator {
	o := &orchestrator{
		engine:  engine,
		dir:     opts.Dir,
		compose: opts.ComposePath,
		plan:    opts.Plan,
		images:  opts.Images,
		refs:    opts.Refs,
		timeout: opts.Timeout,
		native:  opts.Native,
		archive: opts.Plan.Archives(opts.Name, opts.Version),
	}
	if o.native == "" {
		o.native = hostPlatform()
	}
	return o
}

// Returns the Linux platform matching the host architecture, which is what
// the engine builds for when no platform is requested.
func hostPlatform() string {
	p := platforms.DefaultSpec()
	p.OS = "linux"
	return platforms.Format(platforms.Normalize(p))
}

// Drives every planned archive to a final state.
func (o *orchestrator) run(ctx context.Context) (*Result, error) {
	res := &Result{Archives: make([]Outcome, len(o.archive))}

	g := semgroup.NewGroup(ctx, parallelism)
	for i, a := range o.archive {
		out := &res.Archives[i]
		*out = Outcome{
			Archive: a,
			Path:    filepath.Join(o.dir, a.Filename),
			State:   Pending,
		}
		if ctx.Err() != nil {
			continue
		}
		g.Go(func() error {
			return o.produce(ctx, out)
		})
	}

	err := g.Wait()

	// Archives never started because the run was cancelled.
	var errs []error
	for i := range res.Archives {
		out := &res.Archives[i]
		if out.State != Pending {
			continue
		}
		out.State = Failed
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrBuild, out.Architecture, context.Cause(ctx)))
	}
	if len(errs) > 0 {
		err = errors.Join(append([]error{err}, errs...)...)
	}

	return res, err
}

// Produces one archive, recording its final state in out.
func (o *orchestrator) produce(ctx context.Context, out *Outcome) error {
	if ctx.Err() != nil {
		return nil
	}
	if fsutil.FileExists(out.Path) {
		out.State = Archived
		out.Reused = true
		slog.Info("archive already built", "architecture", out.Architecture, "archive", out.Filename)
		return nil
	}

	out.State = Building
	slog.Info("building architecture", "architecture", out.Architecture, "archive", out.Filename)

	bctx, cancel := o.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := o.build(bctx, out.Architecture, out.Path)
	out.Elapsed = time.Since(start)

	switch {
	case err == nil:
		out.State = Archived
		slog.Info("architecture built", "architecture", out.Architecture, "elapsed", out.Elapsed.Round(time.Second))
		return nil

	case errors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		out.State = TimedOut
		return &TimeoutError{
			Architecture: out.Architecture,
			Elapsed:      out.Elapsed,
			Timeout:      o.timeout,
		}

	default:
		out.State = Failed
		var missing *MissingImageError
		if errors.As(err, &missing) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrBuild, out.Architecture, err)
	}
}

func (o *orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Ensures external images, builds, and writes the archive for one
// architecture.
func (o *orchestrator) build(ctx context.Context, arch, path string) error {
	// Native builds target the host, so their external images must too.
	platform := arch
	if _, ok := o.plan.(manifest.SingleArch); ok {
		platform = o.native
	}
	if err := o.ensureImages(ctx, platform); err != nil {
		return err
	}

	switch o.plan.(type) {
	case manifest.MultiArch:
		if err := o.engine.BuildPlatform(ctx, o.compose, arch); err != nil {
			return err
		}
	case manifest.SingleArch:
		if err := o.engine.BuildNative(ctx, o.compose); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported plan %T", o.plan)
	}

	return writeArchive(ctx, o.engine, o.refs, path)
}

func (o *orchestrator) ensureImages(ctx context.Context, arch string) error {
	for _, img := range o.images {
		err := o.engine.EnsureImage(ctx, img.Target, img.Source, arch)
		if err == nil {
			continue
		}
		if errdefs.IsNotFound(err) {
			return &MissingImageError{Reference: img.Source, Architecture: arch, Err: err}
		}
		return fmt.Errorf("ensuring %s: %w", img.Source, err)
	}
	return nil
}
