package runtime

import "errors"

var (
	ErrRuntime = errors.New("runtime error")
	ErrCommand = errors.New("docker command failed")
)
