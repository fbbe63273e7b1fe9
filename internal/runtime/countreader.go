package runtime

import (
	"io"
	"sync/atomic"
)

// Wraps an [io.Reader] and counts the bytes read through it.
//
// The count is safe to read from other goroutines while reads are in
// progress.
type countReader struct {
	r io.Reader
	n atomic.Int64
}

// Creates a new [countReader] wrapping the given reader.
func newCountReader(r io.Reader) *countReader {
	return &countReader{r: r}
}

// Delegates to the underlying reader.
func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Returns the number of bytes read so far.
func (c *countReader) Count() int64 {
	return c.n.Load()
}
