package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cruciblehq/cruxrel/internal/build"
	"github.com/cruciblehq/cruxrel/internal/builddir"
	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/cruciblehq/cruxrel/internal/release"
	"github.com/cruciblehq/cruxrel/internal/upload"
)

type normalizeInput struct {
	Dir             string // Package directory.
	UpstreamVersion string // Upstream version from the environment.
}

type normalizeOutput struct {
	Descriptor *manifest.Descriptor
}

// Loads and validates the package descriptors. Sets the name and version.
func normalize(in normalizeInput, c Context) (normalizeOutput, Context, error) {
	slog.Debug("stage", "name", "normalize", "dir", in.Dir)

	desc, err := manifest.Normalize(in.Dir, manifest.Options{UpstreamVersion: in.UpstreamVersion})
	if err != nil {
		return normalizeOutput{}, c, err
	}

	c.Name = desc.Manifest.Name
	c.Version = desc.Manifest.Version
	return normalizeOutput{Descriptor: desc}, c, nil
}

type prepareInput struct {
	Dir        string               // Build directory.
	Descriptor *manifest.Descriptor // Normalized descriptors.
}

type prepareOutput struct {
	Result *builddir.Result
}

// Cleans and populates the build directory. Sets the build directory.
func prepare(in prepareInput, c Context) (prepareOutput, Context, error) {
	slog.Debug("stage", "name", "prepare", "dir", in.Dir)

	res, err := builddir.Prepare(builddir.Options{Dir: in.Dir, Descriptor: in.Descriptor})
	if err != nil {
		return prepareOutput{}, c, err
	}

	c.BuildDir = res.Dir
	return prepareOutput{Result: res}, c, nil
}

type buildInput struct {
	Engine     build.Engine         // Container engine.
	Descriptor *manifest.Descriptor // Normalized descriptors.
	Timeout    time.Duration        // Limit per archive.
}

type buildOutput struct {
	Result *build.Result
}

// Produces the image archives. Sets the archives that reached the build
// directory, also on failure.
func buildImages(ctx context.Context, in buildInput, c Context) (buildOutput, Context, error) {
	slog.Debug("stage", "name", "build", "dir", c.BuildDir)

	desc := in.Descriptor
	res, err := build.Run(ctx, in.Engine, build.Options{
		Dir:         c.BuildDir,
		ComposePath: desc.ComposePath,
		Name:        desc.Manifest.Name,
		Version:     desc.Manifest.Version,
		Plan:        desc.Plan,
		Images:      desc.Images,
		Refs:        desc.SaveRefs(),
		Timeout:     in.Timeout,
	})
	if res != nil {
		c.Archives = nil
		for _, a := range res.Archives {
			if a.State == build.Archived {
				c.Archives = append(c.Archives, a.Filename)
			}
		}
	}
	if err != nil {
		return buildOutput{Result: res}, c, err
	}
	return buildOutput{Result: res}, c, nil
}

type uploadInput struct {
	Backend    upload.Backend        // Selected backend.
	OnProgress func(upload.Progress) // Progress observer.
}

type uploadOutput struct {
	Address string
}

// Uploads the build directory. Sets the content address.
func publish(ctx context.Context, in uploadInput, c Context) (uploadOutput, Context, error) {
	slog.Debug("stage", "name", "upload", "backend", in.Backend.Kind(), "provider", in.Backend.Provider())

	events, wait := observe(in.OnProgress)
	addr, err := in.Backend.Upload(ctx, upload.Request{
		Dir:     c.BuildDir,
		Name:    c.Name,
		Version: c.Version,
	}, events)
	wait()
	if err != nil {
		return uploadOutput{}, c, err
	}

	slog.Info("uploaded", "backend", in.Backend.Kind(), "address", addr)
	c.ContentAddress = addr
	return uploadOutput{Address: addr}, c, nil
}

type recordInput struct {
	Dir      string           // Package directory.
	Backend  upload.Backend   // Backend that produced the address.
	Address  string           // Content address.
	Archives []string         // Archive filenames to digest.
	Index    *release.Index   // Local index, optional.
	Pruner   release.Pruner   // Housekeeping, optional.
	Now      func() time.Time // Clock.
}

type recordOutput struct {
	Entry release.Entry
}

// Persists the release and runs housekeeping. Sets the release hash and any
// warnings.
func record(ctx context.Context, in recordInput, c Context) (recordOutput, Context, error) {
	slog.Debug("stage", "name", "record", "dir", in.Dir)

	digests, err := release.DigestArchives(c.BuildDir, in.Archives)
	if err != nil {
		return recordOutput{}, c, err
	}

	entry := release.Entry{
		Hash:       in.Address,
		Backend:    string(in.Backend.Kind()),
		Provider:   in.Backend.Provider(),
		Archives:   digests,
		UploadedAt: in.Now().UTC(),
	}
	if err := release.WriteRecord(in.Dir, c.Version, entry); err != nil {
		return recordOutput{}, c, err
	}
	c.ReleaseHash = in.Address

	if in.Index != nil {
		if err := in.Index.Put(c.Name, c.Version, entry); err != nil {
			c = warn(c, release.Maintain(ctx, failed{err}))
		}
	}
	c = warn(c, release.Maintain(ctx, in.Pruner))

	return recordOutput{Entry: entry}, c, nil
}

// Appends err, when not nil, to the context's warnings.
func warn(c Context, err error) Context {
	if err != nil {
		c.Warnings = append(append([]string(nil), c.Warnings...), err.Error())
	}
	return c
}

// Pruner reporting an error that already happened, so it is handled like
// any other housekeeping failure.
type failed struct{ err error }

func (f failed) Prune(context.Context) error { return f.err }
