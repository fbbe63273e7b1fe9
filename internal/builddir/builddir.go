package builddir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cruciblehq/cruxrel/internal/fsutil"
	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/cruciblehq/cruxrel/internal/paths"
	"github.com/otiai10/copy"
)

// Options for [Prepare].
type Options struct {
	Dir        string               // Build directory. Created if absent.
	Descriptor *manifest.Descriptor // Normalized package descriptors.
}

// Outcome of [Prepare].
type Result struct {
	Dir       string   // Build directory.
	Preserved []string // Archives kept from a previous run.
	Removed   []string // Entries deleted during cleanup.
	Assets    []string // Asset filenames copied into the directory.
}

// Returns the default build directory of a package version.
func DefaultDir(pkgDir, version string) string {
	return filepath.Join(pkgDir, "build_"+version)
}

// Creates or cleans the build directory and populates it with the release
// files.
//
// Returns an error wrapping [manifest.ErrValidation] when the finalized
// manifest fails prerelease validation. Other failures are filesystem errors.
func Prepare(opts Options) (*Result, error) {
	desc := opts.Descriptor
	m := desc.Manifest

	if err := checkSeparate(opts.Dir, desc.Dir); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("creating build directory: %w", err)
	}

	expected := manifest.Filenames(desc.Archives())
	preserved, removed, err := clean(opts.Dir, expected)
	if err != nil {
		return nil, err
	}
	for _, name := range preserved {
		slog.Info("reusing archive from a previous run", "archive", name)
	}

	if err := writeCompose(desc.ComposePath, desc.BuildCompose); err != nil {
		return nil, fmt.Errorf("writing build composition: %w", err)
	}

	releasePath := filepath.Join(opts.Dir, filepath.Base(desc.ComposePath))
	if err := writeCompose(releasePath, desc.ReleaseCompose); err != nil {
		return nil, fmt.Errorf("writing release composition: %w", err)
	}

	data, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(opts.Dir, manifest.ManifestFile), data, paths.DefaultFileMode); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	if err := manifest.Validate(m, manifest.Prerelease); err != nil {
		return nil, err
	}

	assets, err := copyAssets(desc, opts.Dir)
	if err != nil {
		return nil, err
	}

	slog.Debug("build directory prepared",
		"dir", opts.Dir,
		"preserved", len(preserved),
		"removed", len(removed),
		"assets", len(assets),
	)

	return &Result{
		Dir:       opts.Dir,
		Preserved: preserved,
		Removed:   removed,
		Assets:    assets,
	}, nil
}

// Fails with [manifest.ErrConfiguration] when cleaning dir would remove the
// package directory or any of its contents.
func checkSeparate(dir, pkgDir string) error {
	build, err := resolve(dir)
	if err != nil {
		return fmt.Errorf("resolving build directory: %w", err)
	}
	pkg, err := resolve(pkgDir)
	if err != nil {
		return fmt.Errorf("resolving package directory: %w", err)
	}

	if contains(build, pkg) {
		return fmt.Errorf("%w: build directory %s contains the package directory %s", manifest.ErrConfiguration, dir, pkgDir)
	}
	return nil
}

// Returns the absolute form of path with symbolic links resolved. Missing
// trailing components are kept as given.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	var missing []string
	for cur := abs; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			slices.Reverse(missing)
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

// Reports whether path is dir or lies below it.
func contains(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Removes every entry of dir that is not an expected regular file.
func clean(dir string, expected []string) (preserved, removed []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading build directory: %w", err)
	}

	for _, e := range entries {
		if e.Type().IsRegular() && slices.Contains(expected, e.Name()) {
			preserved = append(preserved, e.Name())
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return nil, nil, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		slog.Debug("removed stale build entry", "name", e.Name())
		removed = append(removed, e.Name())
	}

	return preserved, removed, nil
}

func writeCompose(path string, c *manifest.Compose) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, paths.DefaultFileMode)
}

// Copies the avatar and the optional assets that exist into dir.
func copyAssets(desc *manifest.Descriptor, dir string) ([]string, error) {
	opt := copy.Options{Sync: true}

	if err := copy.Copy(desc.AvatarPath, filepath.Join(dir, manifest.AvatarFile), opt); err != nil {
		return nil, fmt.Errorf("copying avatar: %w", err)
	}
	assets := []string{manifest.AvatarFile}

	for _, name := range manifest.OptionalAssets {
		src := filepath.Join(desc.Dir, name)
		if !fsutil.FileExists(src) {
			continue
		}
		if err := copy.Copy(src, filepath.Join(dir, name), opt); err != nil {
			return nil, fmt.Errorf("copying %s: %w", name, err)
		}
		assets = append(assets, name)
	}

	return assets, nil
}
