package release

import "errors"

var (

	// The release record could not be read or written.
	ErrRecord = errors.New("release record error")

	// Housekeeping failed. Never fatal.
	ErrMaintenance = errors.New("maintenance warning")
)
