package ports

import (
	"context"
	"time"

	"github.com/soteria-auth/soteria/core"
)

// UserStore reads user records and writes the single 2FA-secret field.
// The backing store guarantees per-record atomicity only.
type UserStore interface {
	GetUser(ctx context.Context, id string) (core.User, error)
	GetUserByUsername(ctx context.Context, username string) (core.User, error)
	SetTOTPSecret(ctx context.Context, id, secret string) error
}

// CredentialStore persists passkey credential records.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred core.Credential) error
	GetCredential(ctx context.Context, id string) (core.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]core.Credential, error)
	UpdateCredentialMeta(ctx context.Context, id string, meta core.CredentialMeta) error
	DeleteCredential(ctx context.Context, id string) error
}

// ConsumedTokenStore records token JTIs that completed a state-changing
// transition, so a duplicate submission of the same token cannot succeed.
type ConsumedTokenStore interface {
	// ConsumeToken marks the token as used for the remainder of its
	// lifetime. It returns core.ErrTokenConsumed if the token was already
	// consumed; the check and the write are atomic.
	ConsumeToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsTokenConsumed(ctx context.Context, tokenID string) (bool, error)
}
