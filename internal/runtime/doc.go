// Package runtime drives the local docker engine.
//
// A [Runtime] combines the docker API client, used for image inspection,
// pulls, tags, saves and build cache pruning, with the docker CLI, used for
// the two build front ends the API does not expose: "docker buildx bake" for
// cross-platform builds and "docker compose build" for native builds.
//
// CLI invocations are bound to the caller's context. When the context is
// cancelled or its deadline passes, the process is interrupted and, if it
// has not exited after the configured wait delay, killed.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.Options{Output: os.Stderr})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	if err := rt.EnsureImage(ctx, "index.docker.io/library/nginx:1.25", "nginx:1.25", "linux/arm64"); err != nil {
//	    return err
//	}
//
//	if err := rt.BuildPlatform(ctx, "compose.yaml", "linux/arm64"); err != nil {
//	    return err
//	}
//
//	return rt.Save(ctx, []string{"app.foo:1.0.0"}, w)
package runtime
