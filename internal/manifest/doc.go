// Package manifest loads and normalizes the descriptors of a release package.
//
// A package directory holds a JSON manifest (name, version, optional
// architecture list and upstream version) and a composition file describing
// the services and their images. [Normalize] validates both and derives
// everything the later release stages need without writing anything:
//
//   - the finalized manifest, with the upstream version injected,
//   - a build variant of the composition, in which every buildable service
//     is tagged with a locally buildable name,
//   - a release variant, in which external images are rewritten to
//     fully-qualified references and build sections are dropped,
//   - the ordered list of external images that must be present locally
//     before building,
//   - the build [Plan]: [MultiArch] when the manifest declares architectures,
//     [SingleArch] otherwise. The plan fixes the archive filenames.
//
// The loaded composition is never mutated; both variants are deep copies.
//
// Example usage:
//
//	desc, err := manifest.Normalize("./my-package", manifest.Options{
//	    UpstreamVersion: os.Getenv("UPSTREAM_VERSION"),
//	})
//	if err != nil {
//	    return err
//	}
//
//	for _, a := range desc.Archives() {
//	    fmt.Println(a.Architecture, a.Filename)
//	}
package manifest
