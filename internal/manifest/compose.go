package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Composition filenames, in lookup order. The first one present wins.
var ComposeFiles = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yml",
	"docker-compose.yaml",
}

// Build argument that declares the upstream version of a service.
const UpstreamVersionArg = "UPSTREAM_VERSION"

// Composition descriptor.
//
// Only the keys the release pipeline reads or rewrites are typed. Everything
// else is kept in the inline maps and written back unchanged.
type Compose struct {
	Version  string              `yaml:"version,omitempty"`
	Services map[string]*Service `yaml:"services"`
	Extra    map[string]any      `yaml:",inline"`
}

// Service of a composition.
type Service struct {
	Image string         `yaml:"image,omitempty"`
	Build *Build         `yaml:"build,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

// Build section of a service.
//
// Accepts the short form, in which the section is just the context path.
type Build struct {
	Context    string         `yaml:"context,omitempty"`
	Dockerfile string         `yaml:"dockerfile,omitempty"`
	Args       Args           `yaml:"args,omitempty"`
	Extra      map[string]any `yaml:",inline"`
}

// Build arguments.
//
// Accepts both the mapping form and the KEY=VALUE list form. Always
// marshals as a mapping.
type Args map[string]string

// Decodes a build section in either its short or long form.
func (b *Build) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*b = Build{Context: value.Value}
		return nil
	}
	type plain Build
	return value.Decode((*plain)(b))
}

// Decodes build arguments in either the mapping or the list form.
func (a *Args) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		var m map[string]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		*a = m
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	m := make(Args, len(list))
	for _, item := range list {
		key, val, _ := strings.Cut(item, "=")
		m[key] = val
	}
	*a = m
	return nil
}

// Returns the path of the composition file in dir.
func FindCompose(dir string) (string, error) {
	for _, name := range ComposeFiles {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no composition file in %s (looked for %s)", ErrConfiguration, dir, strings.Join(ComposeFiles, ", "))
}

// Loads and decodes a composition file.
func LoadCompose(path string) (*Compose, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return ParseCompose(data)
}

// Decodes a composition document.
func ParseCompose(data []byte) (*Compose, error) {
	var c Compose
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decoding composition: %w", ErrConfiguration, err)
	}
	return &c, nil
}

// Encodes the composition as YAML with two-space indentation.
//
// Mapping keys are emitted in a stable order, so equal documents encode to
// equal bytes.
func (c *Compose) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Returns a deep copy of the composition.
func (c *Compose) Clone() (*Compose, error) {
	data, err := c.Marshal()
	if err != nil {
		return nil, err
	}
	return ParseCompose(data)
}

// Returns the service names in lexical order.
func (c *Compose) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
