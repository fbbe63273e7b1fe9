package manifest

import "errors"

var (

	// The manifest or composition has an invalid shape. Raised before any
	// file is written.
	ErrConfiguration = errors.New("invalid package configuration")

	// The manifest failed structural or schema validation.
	ErrValidation = errors.New("manifest validation failed")
)
