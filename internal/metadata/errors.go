package metadata

import "errors"

var (
	ErrNotFound = errors.New("metadata: not found")

	// ErrConflict covers uniqueness violations (duplicate email, duplicate
	// team slug, duplicate config name).
	ErrConflict = errors.New("metadata: resource conflict")

	// ErrVersionConflict means an optimistic update observed a stale
	// version. The resource is unchanged; the caller must re-read and
	// retry.
	ErrVersionConflict = errors.New("metadata: version conflict")

	// ErrLastAdmin rejects any operation that would leave a team with zero
	// active admins. Not retryable against the same target.
	ErrLastAdmin = errors.New("metadata: cannot remove the last admin from team")

	// ErrValidation marks malformed input: unknown role name, malformed
	// version token, oversized idempotency key. Recoverable by correcting
	// the request.
	ErrValidation = errors.New("metadata: invalid input")
)
