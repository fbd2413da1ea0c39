package tokenizer

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// PendingClaims combines standard claims with the pending-login payload.
// The purpose tag rides in the audience claim.
type PendingClaims struct {
	jwt.RegisteredClaims
	Username      string `json:"username"`
	IssuerName    string `json:"issuer_name,omitempty"`
	PendingSecret string `json:"pending_secret,omitempty"`
	CanSkipSetup  bool   `json:"can_skip_setup"`
	RememberDays  int    `json:"remember_days"`
}

// CeremonyClaims carry a serialized WebAuthn ceremony session.
type CeremonyClaims struct {
	jwt.RegisteredClaims
	Session json.RawMessage `json:"session"`
}
