// Package build produces the image archives of a release.
//
// [Run] walks the archives of a [manifest.Plan] and drives each one through
// the states Pending, Building and then Archived, TimedOut or Failed. An
// archive already present in the build directory is reused as is, which lets
// an interrupted release resume without rebuilding what it already produced.
//
// For a [manifest.MultiArch] plan each architecture is built with the
// engine's cross-platform builder; for [manifest.SingleArch] the native
// composition builder produces the legacy archive. In both cases the external
// images are made available for the target platform first, the build runs
// under the configured timeout, and the resulting images are saved,
// xz-compressed, into a temporary file that is renamed into place only once
// complete.
//
// Architectures are attempted one at a time. A failure does not stop the
// remaining architectures, and archives produced before or after it are
// kept. All failures are reported together.
//
// Example usage:
//
//	res, err := build.Run(ctx, rt, build.Options{
//	    Dir:         "build_1.0.0",
//	    ComposePath: "compose.yaml",
//	    Name:        "foo",
//	    Version:     "1.0.0",
//	    Plan:        manifest.MultiArch{Architectures: []string{"linux/amd64", "linux/arm64"}},
//	    Refs:        []string{"app.foo:1.0.0"},
//	    Timeout:     time.Hour,
//	})
//	if err != nil {
//	    return err
//	}
package build
