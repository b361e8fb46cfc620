package config

import "errors"

// Sentinel errors returned by Load and Validate. Match with errors.Is.
var (
	ErrLoadConfig         = errors.New("load config")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrMissingCredentials = errors.New("missing credentials")
)
