package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// Upload backend identifier.
type Kind string

const (
	IPFS  Kind = "ipfs"
	Swarm Kind = "swarm"
)

// Local node endpoints used when no provider is configured.
const (
	DefaultIPFSProvider  = "http://127.0.0.1:5001"
	DefaultSwarmProvider = "http://127.0.0.1:1633"
)

// Default interval between progress updates.
const defaultDrawInterval = 500 * time.Millisecond

// Upload of one build directory.
type Request struct {
	Dir     string // Build directory to upload.
	Name    string // Package name.
	Version string // Package version.
}

// Upload progress update.
type Progress struct {
	Backend  Kind    // Backend producing the update.
	Sent     int64   // Bytes sent so far.
	Total    int64   // Bytes to send.
	Fraction float64 // Sent over Total, between 0 and 1.
}

// Content-addressed store.
type Backend interface {

	// Returns the backend identifier.
	Kind() Kind

	// Returns the API endpoint the backend talks to.
	Provider() string

	// Uploads the request's directory and returns its content address.
	// Progress updates are sent on events without blocking; events may be
	// nil.
	Upload(ctx context.Context, req Request, events chan<- Progress) (string, error)
}

// Selects and configures a backend.
type Config struct {
	Kind         Kind          // Backend to use.
	Provider     string        // API endpoint, e.g. http://127.0.0.1:5001 or http://127.0.0.1:1633.
	PostageBatch string        // Postage batch for Swarm uploads.
	Client       *http.Client  // HTTP client. A pooled client is used when nil.
	DrawInterval time.Duration // Interval between progress updates.
}

// Creates the backend described by cfg.
//
// Returns [ErrBackend] for an unknown kind, a missing provider, or a Swarm
// configuration without a postage batch.
func New(cfg Config) (Backend, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("%w: no provider for %q", ErrBackend, cfg.Kind)
	}
	if cfg.Client == nil {
		cfg.Client = cleanhttp.DefaultPooledClient()
	}
	if cfg.DrawInterval <= 0 {
		cfg.DrawInterval = defaultDrawInterval
	}
	cfg.Provider = strings.TrimRight(cfg.Provider, "/")

	switch cfg.Kind {
	case IPFS:
		return &ipfsBackend{cfg: cfg}, nil
	case Swarm:
		if cfg.PostageBatch == "" {
			return nil, fmt.Errorf("%w: swarm uploads need a postage batch", ErrBackend)
		}
		return &swarmBackend{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBackend, cfg.Kind)
	}
}

// Returns the local node endpoint for kind, or "" for an unknown kind.
func DefaultProvider(kind Kind) string {
	switch kind {
	case IPFS:
		return DefaultIPFSProvider
	case Swarm:
		return DefaultSwarmProvider
	}
	return ""
}

// Sends p on events unless the channel is nil or full.
func notify(events chan<- Progress, p Progress) {
	if events == nil {
		return
	}
	select {
	case events <- p:
	default:
	}
}

// Reads an error response body for inclusion in an error message.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: %s responded %d: %s", ErrUpload, resp.Request.URL.Redacted(), resp.StatusCode, msg)
}
