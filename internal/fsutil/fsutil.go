// Package fsutil holds small filesystem helpers shared by the pipeline stages.
package fsutil

import (
	"os"
	"path/filepath"
)

// Writes data to path by way of a temporary file in the same directory.
//
// The temporary file is synced and renamed over path, so readers observe
// either the previous content or the new content, never a partial write.
// The temporary file is removed on any failure.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	f, err := CreateTemp(path)
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	return Commit(f, path, mode)
}

// Creates a hidden temporary file next to path.
//
// The file is meant to be finalized with [Commit] or removed by the caller.
func CreateTemp(path string) (*os.File, error) {
	return os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
}

// Syncs, closes and renames a temporary file created by [CreateTemp] to its
// final path, applying mode. The temporary file is removed if any step fails.
func Commit(f *os.File, path string, mode os.FileMode) error {
	tmp := f.Name()

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Reports whether a regular file exists at path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
