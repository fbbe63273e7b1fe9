package manifest

import (
	"fmt"
	"strings"

	"github.com/containerd/platforms"
)

// Architecture used when the manifest declares none.
const DefaultArchitecture = "linux/amd64"

// Extension of per-architecture image archives.
const archiveExt = ".txz"

// Extension of the legacy single-architecture image archive.
const legacyArchiveExt = ".tar.xz"

// Strategy for producing the image archives of a release.
//
// A plan is either [MultiArch] or [SingleArch]. It is selected once by
// [Normalize] and later stages switch on its concrete type.
type Plan interface {

	// Returns the archives the plan produces, in build order.
	Archives(name, version string) []Archive

	plan()
}

// Builds one archive per declared architecture, cross-building each one.
type MultiArch struct {
	Architectures []string // Normalized platforms, in declaration order.
}

// Builds a single archive for [DefaultArchitecture] with the native
// composition builder.
type SingleArch struct{}

// Image archive produced by a build.
type Archive struct {
	Architecture string // Platform the archive holds images for.
	Filename     string // Base name inside the build directory.
}

func (MultiArch) plan()  {}
func (SingleArch) plan() {}

// Returns one archive per architecture.
func (p MultiArch) Archives(name, version string) []Archive {
	out := make([]Archive, len(p.Architectures))
	for i, arch := range p.Architectures {
		out[i] = Archive{Architecture: arch, Filename: ArchiveName(name, version, arch)}
	}
	return out
}

// Returns the single legacy-named archive.
func (SingleArch) Archives(name, version string) []Archive {
	return []Archive{{Architecture: DefaultArchitecture, Filename: LegacyArchiveName(name, version)}}
}

// Returns the archive filename for an architecture.
//
// The name is "<name>_<version>_<slug>.txz", where slug is the platform with
// slashes replaced by dashes, so the filename alone identifies the platform.
func ArchiveName(name, version, arch string) string {
	return fmt.Sprintf("%s_%s_%s%s", name, version, Slug(arch), archiveExt)
}

// Returns the filename of the legacy single-architecture archive.
func LegacyArchiveName(name, version string) string {
	return fmt.Sprintf("%s_%s%s", name, version, legacyArchiveExt)
}

// Converts a platform string to a filesystem-safe slug.
//
// For example, "linux/arm/v7" becomes "linux-arm-v7".
func Slug(arch string) string {
	return strings.ReplaceAll(arch, "/", "-")
}

// Returns the filenames of the given archives.
func Filenames(archives []Archive) []string {
	out := make([]string, len(archives))
	for i, a := range archives {
		out[i] = a.Filename
	}
	return out
}

// Parses, normalizes and checks declared architectures.
//
// Each entry must be a Linux platform and appear once after normalization,
// so "linux/x86_64" and "linux/amd64" are duplicates.
func parseArchitectures(declared []string) ([]string, error) {
	seen := make(map[string]bool, len(declared))
	out := make([]string, 0, len(declared))

	for _, raw := range declared {
		if !strings.Contains(raw, "/") {
			return nil, fmt.Errorf("%w: architecture %q must be of the form os/arch", ErrConfiguration, raw)
		}
		p, err := platforms.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: architecture %q: %w", ErrConfiguration, raw, err)
		}
		if p.OS != "linux" {
			return nil, fmt.Errorf("%w: architecture %q is not a linux platform", ErrConfiguration, raw)
		}

		arch := platforms.Format(platforms.Normalize(p))
		if seen[arch] {
			return nil, fmt.Errorf("%w: architecture %q declared more than once", ErrConfiguration, arch)
		}
		seen[arch] = true
		out = append(out, arch)
	}

	return out, nil
}
