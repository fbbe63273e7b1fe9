package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/cruciblehq/cruxrel/internal/paths"
)

// Container engine used to produce archives.
type Engine interface {

	// Makes target available locally for platform and tags it as source.
	// An unresolvable image is reported with an error matching
	// errdefs.ErrNotFound.
	EnsureImage(ctx context.Context, target, source, platform string) error

	// Builds the composition's services for one platform.
	BuildPlatform(ctx context.Context, composePath, platform string) error

	// Builds the composition's services for the host platform.
	BuildNative(ctx context.Context, composePath string) error

	// Streams the named images to w as an uncompressed archive.
	Save(ctx context.Context, refs []string, w io.Writer) error
}

// Controls archive production.
type Options struct {
	Dir         string                   // Build directory receiving the archives.
	ComposePath string                   // Build variant of the composition.
	Name        string                   // Package name.
	Version     string                   // Package version.
	Plan        manifest.Plan            // Archives to produce.
	Images      []manifest.ExternalImage // External images ensured before each build.
	Refs        []string                 // Images saved into each archive.
	Timeout     time.Duration            // Limit per archive. Zero means no limit.
	Native      string                   // Platform of native builds. Defaults to the host's Linux platform.
}

// Outcome of one archive.
type Outcome struct {
	manifest.Archive
	Path    string        // Final path of the archive.
	State   State         // Final state.
	Reused  bool          // The archive existed before the run and was kept.
	Elapsed time.Duration // Time spent building, zero when reused.
}

// Returned by [Run].
type Result struct {
	Archives []Outcome // One entry per planned archive, in plan order.
}

// Reports whether every planned archive was produced.
func (r *Result) Complete() bool {
	for _, a := range r.Archives {
		if a.State != Archived {
			return false
		}
	}
	return true
}

// Produces the archives of a plan.
//
// Every planned archive is attempted even when an earlier one fails. The
// result is returned in all cases. The error, when not nil, joins one error
// per failed archive: a [*TimeoutError], a [*MissingImageError], or an error
// wrapping [ErrBuild] that names the architecture.
func Run(ctx context.Context, engine Engine, opts Options) (*Result, error) {
	slog.Info("building images",
		"name", opts.Name,
		"version", opts.Version,
		"plan", planName(opts.Plan),
		"timeout", opts.Timeout,
	)

	if err := os.MkdirAll(opts.Dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	return newOrchestrator(engine, opts).run(ctx)
}

func planName(p manifest.Plan) string {
	switch p := p.(type) {
	case manifest.MultiArch:
		return fmt.Sprintf("multi-arch(%d)", len(p.Architectures))
	case manifest.SingleArch:
		return "single-arch"
	default:
		return fmt.Sprintf("%T", p)
	}
}
