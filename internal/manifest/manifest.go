package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"unicode"
)

// Name of the manifest file in a package directory.
const ManifestFile = "manifest.json"

// Top-level manifest keys that are rejected outright. Images come from the
// composition and the avatar is an asset file.
var forbiddenFields = map[string]string{
	"image":  "images must be declared in the composition",
	"avatar": "the avatar must be an asset file, not a manifest property",
}

// Package manifest.
//
// Only the fields the release pipeline reads are decoded into typed fields.
// Every other key is kept verbatim and re-emitted when the manifest is
// marshaled, so descriptions, licenses and the like survive the round trip.
type Manifest struct {
	Name            string   // Package name, lowercase.
	Version         string   // Semantic version of the release.
	UpstreamVersion string   // Version of the packaged upstream software, if any.
	Architectures   []string // Normalized target platforms, in declaration order.

	fields map[string]any // All top-level keys as decoded.
}

// Loads the manifest from a package directory.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return ParseManifest(data)
}

// Parses a JSON manifest.
//
// Returns [ErrConfiguration] when the document is not an object, declares a
// forbidden field, lacks a string name or version, has a name with uppercase
// characters, or declares architectures that are not a list of strings.
// Architecture values are returned as declared; normalization happens in
// [Normalize].
func ParseManifest(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrConfiguration, ManifestFile, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrConfiguration, ManifestFile)
	}

	for key, reason := range forbiddenFields {
		if _, ok := fields[key]; ok {
			return nil, fmt.Errorf("%w: manifest declares %q: %s", ErrConfiguration, key, reason)
		}
	}

	m := &Manifest{fields: fields}

	var err error
	if m.Name, err = requiredString(fields, "name"); err != nil {
		return nil, err
	}
	if m.Version, err = requiredString(fields, "version"); err != nil {
		return nil, err
	}
	if hasUpper(m.Name) {
		return nil, fmt.Errorf("%w: package name %q must be lowercase", ErrConfiguration, m.Name)
	}

	if raw, ok := fields["upstreamVersion"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: upstreamVersion must be a string", ErrConfiguration)
		}
		m.UpstreamVersion = s
	}

	if raw, ok := fields["architectures"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: architectures must be a list", ErrConfiguration)
		}
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: architectures[%d] must be a string", ErrConfiguration, i)
			}
			m.Architectures = append(m.Architectures, s)
		}
	}

	return m, nil
}

// Returns a copy that shares no mutable state with m.
//
// Unknown fields are copied shallowly; they are never modified in place.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Architectures = append([]string(nil), m.Architectures...)
	c.fields = maps.Clone(m.fields)
	return &c
}

// Returns the value of an arbitrary top-level key.
func (m *Manifest) Field(key string) (any, bool) {
	v, ok := m.fields[key]
	return v, ok
}

// Encodes the manifest as indented JSON with sorted keys.
//
// Typed fields override the preserved keys of the same name. Empty optional
// fields are omitted.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.fields)+4)
	maps.Copy(out, m.fields)

	out["name"] = m.Name
	out["version"] = m.Version
	delete(out, "upstreamVersion")
	if m.UpstreamVersion != "" {
		out["upstreamVersion"] = m.UpstreamVersion
	}
	delete(out, "architectures")
	if len(m.Architectures) > 0 {
		out["architectures"] = m.Architectures
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func requiredString(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: manifest has no %q", ErrConfiguration, key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: manifest %q must be a non-empty string", ErrConfiguration, key)
	}
	return s, nil
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
