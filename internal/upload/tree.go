package upload

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/ioprogress"
)

// Entry of a directory tree, in upload order.
type entry struct {
	rel  string // Slash-separated path relative to the tree root.
	path string // Path on disk.
	dir  bool   // The entry is a directory.
	size int64  // Content length of a regular file.
}

// Lists the directories and regular files under root in lexical order.
//
// The root itself is not listed. Any other file type is an error, since it
// could not be reproduced by the store.
func walk(root string) ([]entry, error) {
	var entries []entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		e := entry{rel: filepath.ToSlash(rel), path: path}

		switch {
		case d.IsDir():
			e.dir = true
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			e.size = info.Size()
		default:
			return fmt.Errorf("%s: unsupported file type %s", rel, d.Type())
		}

		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Copies a regular file's content to w, checking that its length did not
// change since it was listed.
func copyContent(w io.Writer, e entry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return err
	}
	if n != e.size {
		return fmt.Errorf("%s changed size during upload", e.rel)
	}
	return nil
}

// Request body that reports read progress until stopped.
//
// The HTTP transport may keep reading a body after the response arrived, so
// uploads stop the body before returning and no update reaches a channel the
// caller may already have closed.
type progressBody struct {
	io.Reader
	mu     sync.Mutex
	events chan<- Progress
}

// Wraps a request body so reads report progress.
//
// Intermediate updates are throttled by interval. The final update is left
// to the caller, which only knows the upload succeeded once the store
// answers.
func withProgress(r io.Reader, size int64, kind Kind, interval time.Duration, events chan<- Progress) *progressBody {
	b := &progressBody{events: events}
	b.Reader = &ioprogress.Reader{
		Reader:       r,
		Size:         size,
		DrawInterval: interval,
		DrawFunc: func(sent, total int64) error {
			if sent < 0 || total <= 0 {
				return nil
			}
			b.send(progressOf(kind, sent, total))
			return nil
		},
	}
	return b
}

func (b *progressBody) send(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	notify(b.events, p)
}

// Stops reporting. Reads keep working but send nothing.
func (b *progressBody) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

func progressOf(kind Kind, sent, total int64) Progress {
	f := 1.0
	if total > 0 {
		f = min(float64(sent)/float64(total), 1)
	}
	return Progress{Backend: kind, Sent: sent, Total: total, Fraction: f}
}
