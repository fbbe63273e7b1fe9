package release

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/cruxrel/internal/fsutil"
	"github.com/cruciblehq/cruxrel/internal/paths"
	"github.com/opencontainers/go-digest"
)

// Name of the release record in a package directory.
const RecordFile = "releases.json"

// Recorded outcome of a release.
type Entry struct {
	Hash       string                   `json:"hash"`               // Content address.
	Backend    string                   `json:"backend"`            // Upload backend identifier.
	Provider   string                   `json:"provider,omitempty"` // Backend endpoint.
	Archives   map[string]digest.Digest `json:"archives,omitempty"` // Archive digests by filename.
	UploadedAt time.Time                `json:"uploadedAt"`         // Time of the upload.
}

// Records entry as the release of version in the package directory dir.
//
// The record is read, updated and written back through a temporary file and
// a rename. Other versions' entries are preserved as they were. Failures wrap
// [ErrRecord].
func WriteRecord(dir, version string, entry Entry) error {
	path := filepath.Join(dir, RecordFile)

	record, err := readRaw(path)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}
	record[version] = data

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}
	if err := fsutil.WriteFileAtomic(path, append(out, '\n'), paths.DefaultFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrRecord, err)
	}
	return nil
}

// Reads the release record of the package directory dir.
//
// A missing record reads as empty. Entries that are not objects, such as
// bare hashes written by older tools, are returned with only Hash set.
func ReadRecord(dir string) (map[string]Entry, error) {
	record, err := readRaw(filepath.Join(dir, RecordFile))
	if err != nil {
		return nil, err
	}

	out := make(map[string]Entry, len(record))
	for version, raw := range record {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			var hash string
			if json.Unmarshal(raw, &hash) != nil {
				return nil, fmt.Errorf("%w: entry %s: %w", ErrRecord, version, err)
			}
			e.Hash = hash
		}
		out[version] = e
	}
	return out, nil
}

func readRaw(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecord, err)
	}

	record := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrRecord, path, err)
	}
	if record == nil {
		record = map[string]json.RawMessage{}
	}
	return record, nil
}

// Returns the sha256 digests of the named files in dir.
func DigestArchives(dir string, names []string) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest, len(names))
	for _, name := range names {
		d, err := digestFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRecord, err)
		}
		out[name] = d
	}
	return out, nil
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.SHA256.FromReader(f)
}
