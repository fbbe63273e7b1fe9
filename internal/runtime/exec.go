package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// Lines of stderr kept for error messages.
const stderrTail = 20

// Environment applied to every CLI invocation, below the caller's Env.
var baseEnv = []string{
	"DOCKER_BUILDKIT=1",
	"DOCKER_CLI_HINTS=false",
}

// Builds every buildable service of a composition for one platform and
// loads the results into the local image store.
//
// Uses "docker buildx bake", which reads the composition directly and can
// cross-build through emulation.
func (rt *Runtime) BuildPlatform(ctx context.Context, composePath, platform string) error {
	return rt.docker(ctx, filepath.Dir(composePath), bakeArgs(composePath, platform)...)
}

// Builds every buildable service of a composition for the host platform.
//
// Uses "docker compose build" without any cross-platform setting.
func (rt *Runtime) BuildNative(ctx context.Context, composePath string) error {
	return rt.docker(ctx, filepath.Dir(composePath), composeBuildArgs(composePath)...)
}

func bakeArgs(composePath, platform string) []string {
	return []string{
		"buildx", "bake",
		"--file", composePath,
		"--set", "*.platform=" + platform,
		"--load",
	}
}

func composeBuildArgs(composePath string) []string {
	return []string{
		"compose",
		"--file", composePath,
		"build",
	}
}

// Runs the docker CLI in dir.
//
// Output goes to the runtime's output writer. On cancellation the process is
// interrupted, then killed after the wait delay, and the context's error is
// returned. A non-zero exit is reported as [ErrCommand] with the tail of
// stderr.
func (rt *Runtime) docker(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, rt.binary, args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), mergeEnv(baseEnv, rt.env))
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = rt.waitDelay

	var stderr bytes.Buffer
	cmd.Stdout = rt.output
	cmd.Stderr = io.MultiWriter(rt.output, &stderr)

	slog.Debug("running docker", "args", args, "dir", dir)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("docker %s: %w", subcommand(args), ctxErr)
		}
		return fmt.Errorf("%w: docker %s: %w\n%s", ErrCommand, subcommand(args), err, tail(stderr.String(), stderrTail))
	}
	return nil
}

// Returns the leading non-flag arguments of a docker invocation.
func subcommand(args []string) string {
	var out []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			break
		}
		out = append(out, a)
	}
	return strings.Join(out, " ")
}

// Returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Merges override env vars on top of a base env slice.
//
// The result is sorted by key so invocations are reproducible.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}
