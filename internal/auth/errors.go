package auth

import "errors"

var (
	// ErrInvalidCredentials covers every authentication failure: missing,
	// expired, malformed, or tampered tokens, and wrong passwords. Callers
	// must not be able to distinguish the cause.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrForbidden indicates the principal authenticated but lacks the
	// scope, role, or permission the operation requires.
	ErrForbidden = errors.New("auth: forbidden")
)
