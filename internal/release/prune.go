package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Best-effort housekeeping step.
type Pruner interface {
	Prune(ctx context.Context) error
}

// Runs several pruners in order. Every pruner runs; failures are joined.
type Pruners []Pruner

func (ps Pruners) Prune(ctx context.Context) error {
	var errs []error
	for _, p := range ps {
		if err := p.Prune(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Removes index entries older than MaxAge.
type CachePruner struct {
	Index  Index            // Index to prune.
	MaxAge time.Duration    // Retention. Zero keeps everything.
	Now    func() time.Time // Clock. Defaults to time.Now.
}

// Removes expired index files and the package directories they leave empty.
func (p CachePruner) Prune(ctx context.Context) error {
	if p.MaxAge <= 0 {
		return nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cutoff := now().Add(-p.MaxAge)

	files, err := p.Index.files()
	if err != nil {
		return err
	}

	var errs []error
	removed := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		// Fails harmlessly while the directory still holds other versions.
		os.Remove(filepath.Dir(path))
	}

	slog.Debug("release index pruned", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return errors.Join(errs...)
}

// Engine able to prune its build cache.
type BuildCache interface {
	PruneBuildCache(ctx context.Context, maxAge time.Duration) (uint64, error)
}

// Removes engine build cache entries unused for longer than MaxAge.
type BuildCachePruner struct {
	Engine BuildCache    // Engine owning the cache.
	MaxAge time.Duration // Retention.
}

func (p BuildCachePruner) Prune(ctx context.Context) error {
	n, err := p.Engine.PruneBuildCache(ctx, p.MaxAge)
	if err != nil {
		return err
	}
	slog.Info("build cache pruned", "reclaimed", humanize.Bytes(n))
	return nil
}

// Runs p and reports, without failing, any error it returns.
//
// The returned error, when not nil, wraps [ErrMaintenance] and has already
// been logged. Callers record it as a warning.
func Maintain(ctx context.Context, p Pruner) error {
	if p == nil {
		return nil
	}
	if err := p.Prune(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrMaintenance, err)
		slog.Warn("housekeeping failed", "error", err)
		return err
	}
	return nil
}
