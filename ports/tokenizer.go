package ports

import "github.com/soteria-auth/soteria/core"

// Tokenizer converts between domain objects and signed temporary tokens.
// Every verification failure is reported as core.ErrInvalidToken so callers
// cannot distinguish an expired token from a forged or cross-purpose one.
type Tokenizer interface {
	// Pending-confirmation token operations
	PendingToToken(pending *core.PendingLogin, purpose core.Purpose) (string, error)
	TokenToPending(token string, purpose core.Purpose) (*core.PendingLogin, error)

	// Ceremony token operations
	CeremonyToToken(ceremony *core.Ceremony, purpose core.Purpose) (string, error)
	TokenToCeremony(token string, purpose core.Purpose) (*core.Ceremony, error)
}
