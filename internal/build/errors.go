package build

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBuild        = errors.New("build failed")
	ErrBuildTimeout = errors.New("build timed out")
)

// Reports an architecture whose build exceeded its timeout.
//
// Matches both [ErrBuildTimeout] and [ErrBuild] with [errors.Is].
type TimeoutError struct {
	Architecture string        // Platform whose build was aborted.
	Elapsed      time.Duration // Time spent before the build was aborted.
	Timeout      time.Duration // Configured limit.
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("build for %s timed out after %s (limit %s)",
		e.Architecture, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrBuildTimeout || target == ErrBuild
}

// Reports an external image that could not be resolved for a platform.
//
// Matches [ErrBuild] with [errors.Is].
type MissingImageError struct {
	Reference    string // Image as declared in the composition.
	Architecture string // Platform the image was requested for.
	Err          error  // Engine error.
}

func (e *MissingImageError) Error() string {
	return fmt.Sprintf("image %s is not available for %s: %v", e.Reference, e.Architecture, e.Err)
}

func (e *MissingImageError) Is(target error) bool {
	return target == ErrBuild
}

func (e *MissingImageError) Unwrap() error {
	return e.Err
}
