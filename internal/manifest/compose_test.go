package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseComposeBuildForms(t *testing.T) {
	c, err := ParseCompose([]byte(`
services:
  short:
    build: ./short
  long:
    build:
      context: ./long
      dockerfile: Containerfile
      args:
        - UPSTREAM_VERSION=1.2.3
        - EMPTY
      target: final
  mapped:
    build:
      context: .
      args:
        VERSION: 1.5
x-extension:
  keep: true
`))
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Services["short"].Build.Context; got != "./short" {
		t.Fatalf("short context = %q, want ./short", got)
	}

	long := c.Services["long"].Build
	if long.Context != "./long" || long.Dockerfile != "Containerfile" {
		t.Fatalf("long build = %+v", long)
	}
	if diff := cmp.Diff(Args{"UPSTREAM_VERSION": "1.2.3", "EMPTY": ""}, long.Args); diff != "" {
		t.Fatalf("list args mismatch (-want +got):\n%s", diff)
	}
	if long.Extra["target"] != "final" {
		t.Fatalf("long build extra = %v, want target preserved", long.Extra)
	}

	if got := c.Services["mapped"].Build.Args["VERSION"]; got != "1.5" {
		t.Fatalf("mapped VERSION = %q, want 1.5", got)
	}
	if _, ok := c.Extra["x-extension"]; !ok {
		t.Fatalf("top-level extension not preserved: %v", c.Extra)
	}
}

func TestComposeMarshalRoundTrip(t *testing.T) {
	src := []byte(`services:
  app:
    build:
      context: .
    environment:
      MODE: release
  db:
    image: postgres:16
`)
	c, err := ParseCompose(src)
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseCompose(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, again); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	second, err := again.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(second) != string(data) {
		t.Fatalf("encoding not stable:\n%s\n---\n%s", data, second)
	}
}

func TestComposeCloneIsDeep(t *testing.T) {
	c, err := ParseCompose([]byte("services:\n  app:\n    image: a:1\n"))
	if err != nil {
		t.Fatal(err)
	}
	clone, err := c.Clone()
	if err != nil {
		t.Fatal(err)
	}
	clone.Services["app"].Image = "b:2"
	if c.Services["app"].Image != "a:1" {
		t.Fatalf("original image changed to %q", c.Services["app"].Image)
	}
}

func TestFindCompose(t *testing.T) {
	dir := t.TempDir()

	if _, err := FindCompose(dir); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}

	for _, name := range []string{"docker-compose.yml", "compose.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("services: {}\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	path, err := FindCompose(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "compose.yml" {
		t.Fatalf("FindCompose = %q, want compose.yml to win", path)
	}
}
