package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
)

// Uploads to a Bee node's /bzz endpoint as a tar collection.
type swarmBackend struct {
	cfg Config
}

// Answer of a successful /bzz upload.
type swarmResponse struct {
	Reference string `json:"reference"`
}

func (b *swarmBackend) Kind() Kind       { return Swarm }
func (b *swarmBackend) Provider() string { return b.cfg.Provider }

// Uploads the directory as a deterministic tar and returns "/bzz/<reference>".
func (b *swarmBackend) Upload(ctx context.Context, req Request, events chan<- Progress) (string, error) {
	entries, err := walk(req.Dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	size, err := tarSize(entries)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, entries))
	}()
	defer pr.Close()

	body := withProgress(pr, size, Swarm, b.cfg.DrawInterval, events)
	defer body.stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Provider+"/bzz", body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", "application/x-tar")
	httpReq.Header.Set("Swarm-Collection", "true")
	httpReq.Header.Set("Swarm-Postage-Batch-Id", b.cfg.PostageBatch)

	slog.Info("uploading to swarm",
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

	var out swarmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding swarm response: %w", ErrUpload, err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("%w: swarm response has no reference", ErrUpload)
	}

	body.send(progressOf(Swarm, size, size))
	return "/bzz/" + out.Reference, nil
}
