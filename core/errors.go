package core

import "errors"

var (
	// ErrInvalidToken covers every temporary-token verification failure:
	// bad signature, expiry, wrong purpose. Callers cannot distinguish them.
	ErrInvalidToken = errors.New("invalid token")

	ErrTokenConsumed = errors.New("token already consumed")

	// ErrCodeRejected is the uniform soft failure for a wrong or expired
	// TOTP code.
	ErrCodeRejected = errors.New("wrong or expired OTP code")

	// ErrCeremonyFailed is the uniform failure for a WebAuthn ceremony:
	// signature, challenge, origin or relying-party mismatch.
	ErrCeremonyFailed = errors.New("passkey verification failed")

	// ErrCounterReplay signals a non-increasing signature counter, a
	// cloned-credential indicator.
	ErrCounterReplay = errors.New("credential counter did not increase")

	ErrNotFound       = errors.New("record not found")
	ErrNotOwner       = errors.New("credential belongs to another user")
	ErrNoSecret       = errors.New("2FA is not set up for this user")
	ErrSkipNotAllowed = errors.New("skipping setup is not allowed")
)
