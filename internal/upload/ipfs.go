package upload

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"path/filepath"

	"github.com/cruciblehq/cruxrel/internal/fsutil"
	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/dustin/go-humanize"
	"github.com/otiai10/copy"
)

// Uploads to the "add" endpoint of an IPFS HTTP API.
type ipfsBackend struct {
	cfg Config
}

// Line of the newline-delimited answer of an "add" request.
type ipfsAddResponse struct {
	Name    string `json:"Name"`
	Hash    string `json:"Hash"`
	Message string `json:"Message"` // Set on error lines.
}

func (b *ipfsBackend) Kind() Kind       { return IPFS }
func (b *ipfsBackend) Provider() string { return b.cfg.Provider }

// Uploads the directory recursively, pinned, and returns "/ipfs/<hash>" of
// its root.
func (b *ipfsBackend) Upload(ctx context.Context, req Request, events chan<- Progress) (string, error) {
	if err := ensureLegacyArchive(req); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	entries, err := walk(req.Dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	root := filepath.Base(filepath.Clean(req.Dir))
	boundary := randomBoundary()
	size, err := multipartSize(root, entries, boundary)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeMultipart(pw, root, entries, boundary))
	}()
	defer pr.Close()

	q := url.Values{}
	q.Set("recursive", "true")
	q.Set("pin", "true")
	q.Set("progress", "false")

	body := withProgress(pr, size, IPFS, b.cfg.DrawInterval, events)
	defer body.stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Provider+"/api/v0/add?"+q.Encode(), body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	slog.Info("uploading to ipfs",
		"provider", b.cfg.Provider,
		"files", len(entries),
		"size", humanize.Bytes(uint64(size)),
	)

	resp, err := b.cfg.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", responseError(resp)
	}

	hash, err := rootHash(resp.Body, root)
	if err != nil {
		return "", err
	}

	body.send(progressOf(IPFS, size, size))
	return "/ipfs/" + hash, nil
}

// Copies the default-architecture archive to the legacy archive name when
// only the former exists.
func ensureLegacyArchive(req Request) error {
	legacy := filepath.Join(req.Dir, manifest.LegacyArchiveName(req.Name, req.Version))
	current := filepath.Join(req.Dir, manifest.ArchiveName(req.Name, req.Version, manifest.DefaultArchitecture))

	if fsutil.FileExists(legacy) || !fsutil.FileExists(current) {
		return nil
	}

	slog.Debug("adding legacy archive", "from", filepath.Base(current), "to", filepath.Base(legacy))
	return copy.Copy(current, legacy, copy.Options{Sync: true})
}

// Returns the multipart header of the root directory or an entry.
func partHeader(name string, dir bool) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, url.QueryEscape(name)))
	if dir {
		h.Set("Content-Type", "application/x-directory")
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	return h
}

// Writes the root directory and its entries as a multipart body.
func writeMultipart(w io.Writer, root string, entries []entry, boundary string) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}

	if _, err := mw.CreatePart(partHeader(root, true)); err != nil {
		return err
	}
	for _, e := range entries {
		part, err := mw.CreatePart(partHeader(path.Join(root, e.rel), e.dir))
		if err != nil {
			return err
		}
		if !e.dir {
			if err := copyContent(part, e); err != nil {
				return err
			}
		}
	}
	return mw.Close()
}

// Returns the exact length of the body [writeMultipart] produces.
func multipartSize(root string, entries []entry, boundary string) (int64, error) {
	var cw countWriter
	mw := multipart.NewWriter(&cw)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, err
	}

	var content int64
	if _, err := mw.CreatePart(partHeader(root, true)); err != nil {
		return 0, err
	}
	for _, e := range entries {
		if _, err := mw.CreatePart(partHeader(path.Join(root, e.rel), e.dir)); err != nil {
			return 0, err
		}
		content += e.size
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}
	return cw.n + content, nil
}

func randomBoundary() string {
	return multipart.NewWriter(io.Discard).Boundary()
}

// Scans an "add" answer for the entry named root.
func rootHash(r io.Reader, root string) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var out ipfsAddResponse
		if err := json.Unmarshal(line, &out); err != nil {
			return "", fmt.Errorf("%w: decoding ipfs response: %w", ErrUpload, err)
		}
		if out.Message != "" {
			return "", fmt.Errorf("%w: ipfs: %s", ErrUpload, out.Message)
		}
		if out.Name == root && out.Hash != "" {
			return out.Hash, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("%w: reading ipfs response: %w", ErrUpload, err)
	}
	return "", fmt.Errorf("%w: ipfs response has no entry for %s", ErrUpload, root)
}
