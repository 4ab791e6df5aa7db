package app

import "errors"

var (
	// ErrUsernameRequired indicates a registration without a remote
	// account name.
	ErrUsernameRequired = errors.New("inat username required")
)
