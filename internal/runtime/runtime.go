package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/dustin/go-humanize"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Docker CLI executable, resolved through PATH.
	defaultBinary = "docker"

	// Grace period between interrupting a cancelled CLI process and
	// killing it.
	defaultWaitDelay = 10 * time.Second
)

// Subset of the docker API client used by the runtime.
type dockerClient interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
	ImageSave(ctx context.Context, imageIDs []string) (io.ReadCloser, error)
	BuildCachePrune(ctx context.Context, opts types.BuildCachePruneOptions) (*types.BuildCachePruneReport, error)
	Close() error
}

// Options for [New].
type Options struct {
	Binary    string        // Docker CLI executable. Defaults to "docker".
	Output    io.Writer     // Receives build and pull output. Discarded when nil.
	Env       []string      // Extra KEY=VALUE pairs for CLI invocations.
	WaitDelay time.Duration // Grace period before a cancelled CLI process is killed.
}

// Docker engine access.
type Runtime struct {
	client    dockerClient  // Docker API client.
	binary    string        // Docker CLI executable.
	output    io.Writer     // Build and pull output.
	env       []string      // Extra CLI environment.
	waitDelay time.Duration // Kill delay after interrupt.
}

// Creates a runtime connected to the docker daemon.
//
// The daemon address and TLS settings come from the standard DOCKER_*
// environment variables, and the API version is negotiated. The runtime must
// be closed when no longer needed.
func New(opts Options) (*Runtime, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return newRuntime(c, opts), nil
}

func newRuntime(c dockerClient, opts Options) *Runtime {
	rt := &Runtime{
		client:    c,
		binary:    opts.Binary,
		output:    opts.Output,
		env:       opts.Env,
		waitDelay: opts.WaitDelay,
	}
	if rt.binary == "" {
		rt.binary = defaultBinary
	}
	if rt.output == nil {
		rt.output = io.Discard
	}
	if rt.waitDelay == 0 {
		rt.waitDelay = defaultWaitDelay
	}
	return rt
}

// Closes the docker API client.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Makes an external image available locally for a platform.
//
// If target is already present for the platform nothing is pulled.
// Otherwise target is pulled for the platform. In both cases source, the
// reference as declared in the composition, is tagged to the same image so
// the build composition resolves it without a registry round trip. An image
// the registry does not know is reported as an error wrapping
// [errdefs.ErrNotFound].
func (rt *Runtime) EnsureImage(ctx context.Context, target, source, platform string) error {
	want, err := platforms.Parse(platform)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	present, err := rt.hasImage(ctx, target, want)
	if err != nil {
		return err
	}

	if present {
		slog.Debug("image present", "image", target, "platform", platform)
	} else {
		if err := rt.pull(ctx, target, platform); err != nil {
			return err
		}
	}

	if source != "" && source != target {
		if err := rt.client.ImageTag(ctx, target, source); err != nil {
			return fmt.Errorf("%w: tagging %s as %s: %w", ErrRuntime, target, source, err)
		}
	}

	return nil
}

// Reports whether ref exists locally with the wanted platform.
func (rt *Runtime) hasImage(ctx context.Context, ref string, want ocispec.Platform) (bool, error) {
	inspect, _, err := rt.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: inspecting %s: %w", ErrRuntime, ref, err)
	}

	have := ocispec.Platform{
		OS:           inspect.Os,
		Architecture: inspect.Architecture,
		Variant:      inspect.Variant,
	}
	return platforms.NewMatcher(want).Match(platforms.Normalize(have)), nil
}

// Pulls ref for a platform, rendering the daemon's progress messages.
func (rt *Runtime) pull(ctx context.Context, ref, platform string) error {
	auth, err := registryAuth(ref)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Info("pulling image", "image", ref, "platform", platform)

	rc, err := rt.client.ImagePull(ctx, ref, image.PullOptions{
		Platform:     platform,
		RegistryAuth: auth,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s: %w", errdefs.ErrNotFound, ref, err)
		}
		return fmt.Errorf("%w: pulling %s: %w", ErrRuntime, ref, err)
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, rt.output, 0, false, nil); err != nil {
		return pullStreamError(ref, err)
	}
	return nil
}

// Classifies an error reported in a pull's message stream.
//
// Only a registry answer that the image or platform does not exist maps to
// [errdefs.ErrNotFound]. Rate limits, network and auth failures are runtime
// errors.
func pullStreamError(ref string, err error) error {
	var jerr *jsonmessage.JSONError
	if errors.As(err, &jerr) && notFoundMessage(jerr) {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrNotFound, ref, err)
	}
	return fmt.Errorf("%w: pulling %s: %w", ErrRuntime, ref, err)
}

func notFoundMessage(e *jsonmessage.JSONError) bool {
	if e.Code == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "manifest unknown") || strings.Contains(msg, "no matching manifest")
}

// Writes the images named by refs to w as an uncompressed docker archive.
//
// A ref the daemon does not know is reported as an error wrapping
// [errdefs.ErrNotFound].
func (rt *Runtime) Save(ctx context.Context, refs []string, w io.Writer) error {
	rc, err := rt.client.ImageSave(ctx, refs)
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %w", errdefs.ErrNotFound, err)
		}
		return fmt.Errorf("%w: saving images: %w", ErrRuntime, err)
	}
	defer rc.Close()

	cr := newCountReader(rc)
	if _, err := io.Copy(w, cr); err != nil {
		return fmt.Errorf("%w: saving images: %w", ErrRuntime, err)
	}

	slog.Debug("images saved", "refs", refs, "size", humanize.Bytes(uint64(cr.Count())))
	return nil
}

// Removes build cache entries unused for longer than maxAge.
//
// Returns the number of bytes reclaimed.
func (rt *Runtime) PruneBuildCache(ctx context.Context, maxAge time.Duration) (uint64, error) {
	report, err := rt.client.BuildCachePrune(ctx, types.BuildCachePruneOptions{
		Filters: filters.NewArgs(filters.Arg("until", maxAge.String())),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: pruning build cache: %w", ErrRuntime, err)
	}

	slog.Debug("build cache pruned",
		"entries", len(report.CachesDeleted),
		"reclaimed", humanize.Bytes(report.SpaceReclaimed),
	)
	return report.SpaceReclaimed, nil
}

// Returns the encoded registry credentials for ref.
//
// Credentials are resolved from the local docker configuration. Anonymous
// access yields an empty string.
func registryAuth(ref string) (string, error) {
	r, err := name.ParseReference(ref)
	if err != nil {
		return "", err
	}

	a, err := authn.DefaultKeychain.Resolve(r.Context())
	if err != nil {
		return "", fmt.Errorf("resolving credentials for %s: %w", ref, err)
	}
	if a == authn.Anonymous {
		return "", nil
	}

	cfg, err := a.Authorization()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}
