package upload

import "errors"

var (
	ErrUpload  = errors.New("upload failed")
	ErrBackend = errors.New("invalid upload backend")
)
