package upload

import (
	"archive/tar"
	"io"
	"time"
)

// Modification time stamped on every tar entry, so archives of equal trees
// are byte-identical.
var normalizedDateTime = time.Date(1980, time.January, 1, 0, 0, 1, 0, time.UTC)

const (
	tarDirMode  = 0755
	tarFileMode = 0644
	tarBlock    = 512
)

// Returns the normalized tar header of an entry.
func tarHeader(e entry) *tar.Header {
	hdr := &tar.Header{
		Name:    e.rel,
		ModTime: normalizedDateTime,
	}
	if e.dir {
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		hdr.Mode = tarDirMode
	} else {
		hdr.Typeflag = tar.TypeReg
		hdr.Mode = tarFileMode
		hdr.Size = e.size
	}
	return hdr
}

// Writes entries as a tar stream to w.
//
// Owners are zeroed, modes fixed and times normalized, so the stream depends
// only on paths and contents.
func writeTar(w io.Writer, entries []entry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		if err := tw.WriteHeader(tarHeader(e)); err != nil {
			return err
		}
		if !e.dir {
			if err := copyContent(tw, e); err != nil {
				return err
			}
		}
	}
	return tw.Close()
}

// Returns the exact length of the stream [writeTar] produces.
func tarSize(entries []entry) (int64, error) {
	var total int64
	for _, e := range entries {
		n, err := tarHeaderSize(tarHeader(e))
		if err != nil {
			return 0, err
		}
		total += n + padded(e.size)
	}
	return total + 2*tarBlock, nil
}

// Returns the number of bytes the header of hdr occupies, extended headers
// included.
func tarHeaderSize(hdr *tar.Header) (int64, error) {
	h := *hdr
	h.Size = 0

	var cw countWriter
	tw := tar.NewWriter(&cw)
	if err := tw.WriteHeader(&h); err != nil {
		return 0, err
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

func padded(n int64) int64 {
	return (n + tarBlock - 1) / tarBlock * tarBlock
}

// Counts the bytes written to it.
type countWriter struct {
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
