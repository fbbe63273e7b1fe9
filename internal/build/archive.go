package build

import (
	"context"
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxrel/internal/fsutil"
	"github.com/cruciblehq/cruxrel/internal/paths"
	"github.com/dustin/go-humanize"
	"github.com/ulikunitz/xz"
)

// Saves refs into an xz-compressed archive at path.
//
// The archive is written to a hidden temporary file next to path and renamed
// only after the stream is complete and the context is still live, so path
// either holds a whole archive or does not exist.
func writeArchive(ctx context.Context, engine Engine, refs []string, path string) error {
	f, err := fsutil.CreateTemp(path)
	if err != nil {
		return err
	}
	discard := func() {
		f.Close()
		os.Remove(f.Name())
	}

	xw, err := xz.NewWriter(f)
	if err != nil {
		discard()
		return err
	}

	if err := engine.Save(ctx, refs, xw); err != nil {
		discard()
		return err
	}
	if err := xw.Close(); err != nil {
		discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		discard()
		return err
	}

	if err := fsutil.Commit(f, path, paths.DefaultFileMode); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil {
		slog.Debug("archive written", "path", path, "size", humanize.Bytes(uint64(info.Size())))
	}
	return nil
}
