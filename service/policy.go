package service

import (
	"context"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/ports"
)

// SkipPolicy evaluates the two pluggable per-user predicates: whether 2FA
// applies to a user at all, and whether the user may skip enrollment.
type SkipPolicy struct {
	applies     Predicate
	allowSkip   Predicate
	credentials ports.CredentialStore
}

// NewSkipPolicy builds the evaluator. Either predicate may be nil: applies
// defaults to "always", allowSkip to "never".
func NewSkipPolicy(applies, allowSkip Predicate, credentials ports.CredentialStore) *SkipPolicy {
	return &SkipPolicy{
		applies:     applies,
		allowSkip:   allowSkip,
		credentials: credentials,
	}
}

// Applies reports whether 2FA applies to the user at all.
func (p *SkipPolicy) Applies(user core.User) bool {
	if p.applies == nil {
		return true
	}
	return p.applies(user)
}

// MaySkipEnrollment reports whether the user may skip 2FA enrollment.
// Whatever the predicate says, skipping is force-denied once the user has a
// TOTP secret or any registered passkey: skipping is only meaningful before
// any factor exists.
func (p *SkipPolicy) MaySkipEnrollment(ctx context.Context, user core.User) (bool, error) {
	if user.HasTOTP() {
		return false, nil
	}

	creds, err := p.credentials.ListCredentials(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if len(creds) > 0 {
		return false, nil
	}

	if p.allowSkip == nil {
		return false, nil
	}
	return p.allowSkip(user), nil
}
