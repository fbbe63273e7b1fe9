// Package release records published releases.
//
// [WriteRecord] maintains the release record of a package directory, a JSON
// object in releases.json mapping each version to its content address,
// backend, archive digests and upload time. Entries for other versions are
// kept byte for byte; the entry for the written version is replaced.
//
// An [Index] mirrors every recorded release under the user's cache
// directory, one file per package version, so the daemon can list recent
// releases across packages.
//
// Housekeeping is expressed as a [Pruner]. [Maintain] runs one and turns any
// failure into a logged warning wrapping [ErrMaintenance]; it never fails a
// release.
package release
