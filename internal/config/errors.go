package config

import "errors"

var (
	errDSNRequired   = errors.New("database dsn is required for sql drivers")
	errUnknownDriver = errors.New("unknown database driver")
)
