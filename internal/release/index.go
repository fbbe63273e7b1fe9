package release

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cruciblehq/cruxrel/internal/fsutil"
	"github.com/cruciblehq/cruxrel/internal/paths"
)

const indexExt = ".json"

// Local mirror of recorded releases, one file per package version.
type Index struct {
	Dir string // Root of the index, usually [paths.ReleaseIndex].
}

// Release listed by an [Index].
type Indexed struct {
	Name    string `json:"name"`    // Package name.
	Version string `json:"version"` // Package version.
	Entry
}

// Stores entry for a package version, replacing any previous one.
func (x Index) Put(name, version string, entry Entry) error {
	dir := filepath.Join(x.Dir, name)
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}

	data, err := json.MarshalIndent(Indexed{Name: name, Version: version, Entry: entry}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, version+indexExt), data, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}
	return nil
}

// Returns up to limit releases, most recent upload first.
//
// A limit of zero or less returns every release. Unreadable files are
// skipped. A missing index is empty.
func (x Index) Recent(limit int) ([]Indexed, error) {
	files, err := x.files()
	if err != nil {
		return nil, err
	}

	var out []Indexed
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var r Indexed
		if json.Unmarshal(data, &r) != nil {
			continue
		}
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b Indexed) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name+"@"+a.Version, b.Name+"@"+b.Version)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Returns the paths of every index file.
func (x Index) files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(x.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == x.Dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), indexExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecord, err)
	}
	return files, nil
}
