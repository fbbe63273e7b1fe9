// Package builddir prepares the build directory of a release.
//
// The build directory is the workspace that is later uploaded as a whole.
// [Prepare] leaves it holding exactly the expected image archives from a
// previous run plus freshly written release files:
//
//   - every entry whose name is not an expected archive filename is removed,
//     which purges stale artifacts and interrupted temporary files while
//     keeping archives a previous, partially failed run already produced,
//   - the build variant of the composition is written over the package's
//     source composition so local builds pick up the generated tags,
//   - the release variant of the composition and the finalized manifest are
//     written into the build directory,
//   - the manifest is validated in prerelease mode,
//   - the avatar and any present optional assets are copied in.
//
// All writes go through a temporary file and a rename.
package builddir
