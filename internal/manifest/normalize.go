package manifest

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/google/go-containerregistry/pkg/name"
)

// Name of the avatar asset in a package directory.
const AvatarFile = "avatar.png"

// Optional release assets copied into the build directory when present.
var OptionalAssets = []string{
	"setup-wizard.json",
	"setup.schema.json",
	"setup-target.json",
	"setup-ui.json",
	"disclaimer.md",
	"getting-started.md",
}

// Service names must be usable as the first component of an image
// repository.
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// Options for [Normalize].
type Options struct {
	UpstreamVersion string // Upstream version from the environment. A composition marker takes precedence.
}

// Image pulled from a registry rather than built from the package.
type ExternalImage struct {
	Service string // First service, in lexical order, that references the image.
	Source  string // Reference as declared in the composition.
	Target  string // Fully-qualified reference used by the release composition.
}

// Normalized package descriptors.
//
// Produced by [Normalize]. Nothing in a descriptor has been written to disk.
type Descriptor struct {
	Dir            string          // Package directory.
	Manifest       *Manifest       // Finalized manifest, upstream version injected.
	ComposePath    string          // Path of the source composition file.
	Compose        *Compose        // Composition as loaded.
	BuildCompose   *Compose        // Variant with locally buildable tags.
	ReleaseCompose *Compose        // Variant with build sections dropped and external images qualified.
	Images         []ExternalImage // External images, ordered by service name.
	Plan           Plan            // Archive strategy.
	AvatarPath     string          // Path of the located avatar.
}

// Returns the archives the descriptor's plan produces.
func (d *Descriptor) Archives() []Archive {
	return d.Plan.Archives(d.Manifest.Name, d.Manifest.Version)
}

// Returns the image references an archive must contain.
//
// Built services contribute their local tag and external services their
// qualified target. The list is ordered by service name and de-duplicated.
func (d *Descriptor) SaveRefs() []string {
	var refs []string
	for _, svc := range d.ReleaseCompose.ServiceNames() {
		ref := d.ReleaseCompose.Services[svc].Image
		if !slices.Contains(refs, ref) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Returns the local tag a buildable service is built as.
//
// The tag is "<service>.<name>:<version>".
func ImageTag(service, pkg, version string) string {
	return fmt.Sprintf("%s.%s:%s", service, pkg, version)
}

// Loads and normalizes the descriptors of the package in dir.
//
// Fails with [ErrConfiguration] on an invalid manifest or composition shape,
// or a missing avatar, and with [ErrValidation] on a malformed avatar or a
// manifest that does not pass [Normal] validation. Writes nothing.
func Normalize(dir string, opts Options) (*Descriptor, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	composePath, err := FindCompose(dir)
	if err != nil {
		return nil, err
	}
	compose, err := LoadCompose(composePath)
	if err != nil {
		return nil, err
	}
	if err := checkServices(compose); err != nil {
		return nil, err
	}

	archs, err := parseArchitectures(m.Architectures)
	if err != nil {
		return nil, err
	}

	final := m.Clone()
	final.Architectures = archs
	if v := upstreamVersion(compose); v != "" {
		final.UpstreamVersion = v
	} else if opts.UpstreamVersion != "" {
		final.UpstreamVersion = opts.UpstreamVersion
	}

	build, err := buildVariant(compose, final)
	if err != nil {
		return nil, err
	}
	release, images, err := releaseVariant(build)
	if err != nil {
		return nil, err
	}

	avatar, err := locateAvatar(dir)
	if err != nil {
		return nil, err
	}

	if err := Validate(final, Normal); err != nil {
		return nil, err
	}

	var plan Plan = SingleArch{}
	if len(archs) > 0 {
		plan = MultiArch{Architectures: archs}
	}

	return &Descriptor{
		Dir:            dir,
		Manifest:       final,
		ComposePath:    composePath,
		Compose:        compose,
		BuildCompose:   build,
		ReleaseCompose: release,
		Images:         images,
		Plan:           plan,
		AvatarPath:     avatar,
	}, nil
}

func checkServices(c *Compose) error {
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: composition declares no services", ErrConfiguration)
	}
	for _, svc := range c.ServiceNames() {
		s := c.Services[svc]
		if !serviceNamePattern.MatchString(svc) {
			return fmt.Errorf("%w: service name %q is not a valid image name component", ErrConfiguration, svc)
		}
		if s == nil || (s.Image == "" && s.Build == nil) {
			return fmt.Errorf("%w: service %q declares neither image nor build", ErrConfiguration, svc)
		}
	}
	return nil
}

// Returns the first upstream version marker in service order.
func upstreamVersion(c *Compose) string {
	for _, svc := range c.ServiceNames() {
		if b := c.Services[svc].Build; b != nil {
			if v := b.Args[UpstreamVersionArg]; v != "" {
				return v
			}
		}
	}
	return ""
}

// Returns a copy of c in which every buildable service is tagged with its
// local image name.
func buildVariant(c *Compose, m *Manifest) (*Compose, error) {
	out, err := c.Clone()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	for svc, s := range out.Services {
		if s.Build != nil {
			s.Image = ImageTag(svc, m.Name, m.Version)
		}
	}
	return out, nil
}

// Returns a copy of the build variant without build sections and with every
// external image fully qualified, along with the external images.
func releaseVariant(build *Compose) (*Compose, []ExternalImage, error) {
	out, err := build.Clone()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	var images []ExternalImage
	for _, svc := range out.ServiceNames() {
		s := out.Services[svc]
		if s.Build != nil {
			s.Build = nil
			continue
		}

		ref, err := name.ParseReference(s.Image)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: service %q image %q: %w", ErrConfiguration, svc, s.Image, err)
		}
		target := ref.Name()

		if !slices.ContainsFunc(images, func(img ExternalImage) bool { return img.Target == target }) {
			images = append(images, ExternalImage{Service: svc, Source: s.Image, Target: target})
		}
		s.Image = target
	}

	return out, images, nil
}

// Locates the avatar and checks that it is a square PNG.
func locateAvatar(dir string) (string, error) {
	path := filepath.Join(dir, AvatarFile)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: no %s in %s", ErrConfiguration, AvatarFile, dir)
		}
		return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not a valid PNG: %w", ErrValidation, AvatarFile, err)
	}
	if cfg.Width != cfg.Height {
		return "", fmt.Errorf("%w: %s must be square, got %dx%d", ErrValidation, AvatarFile, cfg.Width, cfg.Height)
	}

	return path, nil
}
