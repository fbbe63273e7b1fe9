package manifest

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver"
	"github.com/xeipuuv/gojsonschema"
)

// Strictness of manifest validation.
type Mode int

const (

	// Structural checks applied when the package is loaded.
	Normal Mode = iota

	// Stricter checks applied to the finalized manifest of a release.
	Prerelease
)

//go:embed schema/manifest.schema.json
var manifestSchema []byte

//go:embed schema/prerelease.schema.json
var prereleaseSchema []byte

var schemas = sync.OnceValues(func() (map[Mode]*gojsonschema.Schema, error) {
	normal, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(manifestSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling manifest schema: %w", err)
	}
	pre, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(prereleaseSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling prerelease schema: %w", err)
	}
	return map[Mode]*gojsonschema.Schema{Normal: normal, Prerelease: pre}, nil
})

// Returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Prerelease:
		return "prerelease"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Validates a manifest.
//
// In [Normal] mode the manifest must match the base schema and carry a
// semantic version. [Prerelease] mode additionally requires a description
// and a license, a non-empty list of unique architectures when one is
// declared, and a version without build metadata. All violations are
// reported in a single [ErrValidation] error.
func Validate(m *Manifest, mode Mode) error {
	compiled, err := schemas()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	doc, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	checks := []Mode{Normal}
	if mode == Prerelease {
		checks = append(checks, Prerelease)
	}

	var problems []string
	for _, check := range checks {
		result, err := compiled[check].Validate(gojsonschema.NewBytesLoader(doc))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
	}

	v, err := semver.NewVersion(m.Version)
	if err != nil {
		problems = append(problems, fmt.Sprintf("version: %q is not a semantic version", m.Version))
	} else if mode == Prerelease && v.Metadata() != "" {
		problems = append(problems, fmt.Sprintf("version: %q carries build metadata", m.Version))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w (%s): %s", ErrValidation, mode, strings.Join(problems, "; "))
	}
	return nil
}
