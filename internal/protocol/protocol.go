package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Identifies the kind of an envelope.
type Command string

const (
	CmdRelease  Command = "release"  // Run the release pipeline.
	CmdStatus   Command = "status"   // Query the daemon.
	CmdShutdown Command = "shutdown" // Stop the daemon.
	CmdProgress Command = "progress" // Upload progress, sent by the daemon.
	CmdOK       Command = "ok"       // Successful answer.
	CmdError    Command = "error"    // Failed answer.
)

var (
	ErrProtocol = errors.New("protocol error")
)

// Wire message.
type Envelope struct {
	Command Command         `json:"command"`           // Kind of message.
	Payload json.RawMessage `json:"payload,omitempty"` // Command-specific body.
}

// Body of a release command.
type ReleaseRequest struct {
	Dir             string `json:"dir"`                       // Package directory, absolute.
	BuildDir        string `json:"buildDir,omitempty"`        // Build directory override.
	UpstreamVersion string `json:"upstreamVersion,omitempty"` // Upstream version from the client's environment.
	Backend         string `json:"backend,omitempty"`         // Upload backend. Empty uses the daemon default.
	Provider        string `json:"provider,omitempty"`        // Backend endpoint. Empty uses the daemon default.
	PostageBatch    string `json:"postageBatch,omitempty"`    // Swarm postage batch.
	Timeout         string `json:"timeout,omitempty"`         // Build limit per archive, as a Go duration.
	SkipUpload      bool   `json:"skipUpload,omitempty"`      // Build only.
}

// Body of a successful release.
type ReleaseResult struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	BuildDir       string   `json:"buildDir"`
	Archives       []string `json:"archives,omitempty"`
	ContentAddress string   `json:"contentAddress,omitempty"`
	ReleaseHash    string   `json:"releaseHash,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Body of a progress envelope.
type ProgressResult struct {
	Backend  string  `json:"backend"`
	Sent     int64   `json:"sent"`
	Total    int64   `json:"total"`
	Fraction float64 `json:"fraction"`
}

// Release listed by a status answer.
type RecentRelease struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Hash       string    `json:"hash"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Body of a status answer.
type StatusResult struct {
	Running  bool            `json:"running"`
	Version  string          `json:"version"`
	Pid      int             `json:"pid"`
	Uptime   string          `json:"uptime"`
	Releases int             `json:"releases"`         // Releases completed since start.
	Busy     bool            `json:"busy"`             // A release is running.
	Recent   []RecentRelease `json:"recent,omitempty"` // Latest entries of the local index.
}

// Body of an error answer.
type ErrorResult struct {
	Message string `json:"message"`
}

// Encodes an envelope. A nil payload is omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding %s payload: %w", ErrProtocol, cmd, err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// Decodes an envelope, returning its raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into a value of type T.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &v, nil
}
