// Package pipeline runs a release from package directory to recorded
// content address.
//
// [Run] executes five stages strictly in order. Each stage is a function
// taking its own input struct and the shared [Context], and returning an
// output struct along with the updated context:
//
//  1. normalize: load and validate the manifest and composition,
//  2. prepare: clean and populate the build directory,
//  3. build: produce the image archives,
//  4. upload: publish the build directory, unless uploads are skipped,
//  5. record: persist the content address and run housekeeping.
//
// The first failing stage ends the run. Configuration and validation errors
// surface before the build directory is touched; build and upload errors
// leave it in place so a later run resumes from the archives already
// produced. Housekeeping failures are collected as warnings on the context.
//
// Upload progress is delivered to [Deps.OnProgress] from a separate
// goroutine. The upload never waits for it.
package pipeline
