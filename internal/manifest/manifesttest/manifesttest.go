// Package manifesttest writes package directories for tests.
package manifesttest

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// Composition with one built service and one external image.
const Compose = `services:
  app:
    build:
      context: .
      args:
        UPSTREAM_VERSION: 2.4.1
    restart: unless-stopped
  proxy:
    image: nginx:1.25
    ports:
      - "80:80"
`

// Contents of a package directory.
type Package struct {
	Manifest map[string]any    // Encoded as manifest.json. Omitted when nil.
	Compose  string            // Written to compose.yaml. Omitted when empty.
	Avatar   []byte            // Written to avatar.png. Omitted when nil.
	Files    map[string]string // Extra files, by name.
}

// Returns a manifest with a description and license, so it passes
// prerelease validation.
func Manifest(name, version string, archs ...string) map[string]any {
	m := map[string]any{
		"name":        name,
		"version":     version,
		"description": "Test package",
		"license":     "MIT",
	}
	if len(archs) > 0 {
		m["architectures"] = archs
	}
	return m
}

// Returns a PNG of the given size.
func PNG(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Returns a package named "foo" at version 1.0.0 with the given
// architectures, the default composition and a square avatar.
func Default(t testing.TB, archs ...string) Package {
	return Package{
		Manifest: Manifest("foo", "1.0.0", archs...),
		Compose:  Compose,
		Avatar:   PNG(t, 16, 16),
	}
}

// Writes p into dir.
func Write(t testing.TB, dir string, p Package) {
	t.Helper()

	if p.Manifest != nil {
		data, err := json.MarshalIndent(p.Manifest, "", "  ")
		if err != nil {
			t.Fatal(err)
		}
		writeFile(t, filepath.Join(dir, "manifest.json"), data)
	}
	if p.Compose != "" {
		writeFile(t, filepath.Join(dir, "compose.yaml"), []byte(p.Compose))
	}
	if p.Avatar != nil {
		writeFile(t, filepath.Join(dir, "avatar.png"), p.Avatar)
	}
	for name, content := range p.Files {
		writeFile(t, filepath.Join(dir, name), []byte(content))
	}
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}
