package types

import "errors"

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. update of old revision)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is returned on invalid input
	ErrBadRequest = errors.New("bad request")

	// ErrInternal (for unhandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrNotAuthorized is returned when the caller lacks permission
	ErrNotAuthorized = errors.New("not authorized")

	// ErrUserExists is returned when registering an email or key that is already taken
	ErrUserExists = errors.New("user already exists")

	// ErrUserDisabled is returned when a disabled account attempts to authenticate
	ErrUserDisabled = errors.New("user is disabled")

	// ErrKeyGeneration is returned when the underlying crypto primitive fails
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrKeyParse is returned on malformed armored key material
	ErrKeyParse = errors.New("malformed key material")

	// ErrChallengeExpired is returned when a challenge is verified past its expiry.
	// Never surfaced to clients as such; callers map it to a generic auth failure.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeConsumed is returned on a second consumption attempt.
	// Never surfaced to clients as such; callers map it to a generic auth failure.
	ErrChallengeConsumed = errors.New("challenge already consumed")

	// ErrDerivationUnavailable is returned when the identity material required
	// for mail-secret derivation is absent
	ErrDerivationUnavailable = errors.New("derivation material unavailable")

	// ErrTokenInvalid is returned on bad token signature or malformed token
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned on an expired token (drives refresh-vs-relogin)
	ErrTokenExpired = errors.New("token expired")
)
