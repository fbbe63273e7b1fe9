package manifest

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		mode    Mode
		wantErr bool
	}{
		{
			name:  "minimal normal",
			input: `{"name":"foo","version":"1.0.0"}`,
			mode:  Normal,
		},
		{
			name:    "minimal prerelease",
			input:   `{"name":"foo","version":"1.0.0"}`,
			mode:    Prerelease,
			wantErr: true,
		},
		{
			name:  "complete prerelease",
			input: `{"name":"foo","version":"1.0.0","description":"d","license":"MIT","architectures":["linux/amd64"]}`,
			mode:  Prerelease,
		},
		{
			name:    "build metadata in prerelease",
			input:   `{"name":"foo","version":"1.0.0+build.5","description":"d","license":"MIT"}`,
			mode:    Prerelease,
			wantErr: true,
		},
		{
			name:  "build metadata in normal",
			input: `{"name":"foo","version":"1.0.0+build.5"}`,
			mode:  Normal,
		},
		{
			name:    "duplicate architectures in prerelease",
			input:   `{"name":"foo","version":"1.0.0","description":"d","license":"MIT","architectures":["linux/amd64","linux/amd64"]}`,
			mode:    Prerelease,
			wantErr: true,
		},
		{
			name:    "invalid name characters",
			input:   `{"name":"foo bar","version":"1.0.0"}`,
			mode:    Normal,
			wantErr: true,
		},
		{
			name:    "not semver",
			input:   `{"name":"foo","version":"one"}`,
			mode:    Normal,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			err = Validate(m, tt.mode)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	m, err := ParseManifest([]byte(`{"name":"foo","version":"1.0.0"}`))
	if err != nil {
		t.Fatal(err)
	}

	err = Validate(m, Prerelease)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"description", "license"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q does not mention %s", err, field)
		}
	}
}
