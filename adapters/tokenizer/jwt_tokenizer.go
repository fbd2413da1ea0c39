package tokenizer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/ports"
)

// JWTTokenizer implements the Tokenizer interface using ES256-signed JWTs.
// The signing key is supplied externally and is the only state it holds.
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// PendingToToken converts a PendingLogin to a signed token tagged with purpose.
func (j *JWTTokenizer) PendingToToken(pending *core.PendingLogin, purpose core.Purpose) (string, error) {
	claims := PendingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   pending.UserID,
			ID:        pending.ID,
			ExpiresAt: jwt.NewNumericDate(pending.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(pending.IssuedAt),
			Audience:  jwt.ClaimStrings{string(purpose)},
		},
		Username:      pending.Username,
		IssuerName:    pending.Issuer,
		PendingSecret: pending.PendingSecret,
		CanSkipSetup:  pending.CanSkipSetup,
		RememberDays:  pending.RememberDays,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToPending verifies a token against the expected purpose and returns
// its PendingLogin payload. Any failure is core.ErrInvalidToken: callers
// must not be able to tell expired from forged from wrong-purpose.
func (j *JWTTokenizer) TokenToPending(tokenStr string, purpose core.Purpose) (*core.PendingLogin, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &PendingClaims{}, j.keyFunc, jwt.WithAudience(string(purpose)))
	if err != nil || !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*PendingClaims)
	if !ok {
		return nil, core.ErrInvalidToken
	}

	pending := &core.PendingLogin{
		ID:            claims.ID,
		UserID:        claims.Subject,
		Username:      claims.Username,
		Issuer:        claims.IssuerName,
		PendingSecret: claims.PendingSecret,
		CanSkipSetup:  claims.CanSkipSetup,
		RememberDays:  claims.RememberDays,
		IssuedAt:      claims.IssuedAt.Time,
		ExpiresAt:     claims.ExpiresAt.Time,
	}

	return pending, nil
}

// CeremonyToToken converts a Ceremony to a signed token tagged with purpose.
func (j *JWTTokenizer) CeremonyToToken(ceremony *core.Ceremony, purpose core.Purpose) (string, error) {
	claims := CeremonyClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ceremony.UserID,
			ID:        ceremony.ID,
			ExpiresAt: jwt.NewNumericDate(ceremony.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(ceremony.IssuedAt),
			Audience:  jwt.ClaimStrings{string(purpose)},
		},
		Session: ceremony.Session,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign ceremony token: %w", err)
	}

	return signedToken, nil
}

// TokenToCeremony verifies a ceremony token against the expected purpose.
// Failures are uniform, same as TokenToPending.
func (j *JWTTokenizer) TokenToCeremony(tokenStr string, purpose core.Purpose) (*core.Ceremony, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &CeremonyClaims{}, j.keyFunc, jwt.WithAudience(string(purpose)))
	if err != nil || !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*CeremonyClaims)
	if !ok {
		return nil, core.ErrInvalidToken
	}

	ceremony := &core.Ceremony{
		ID:        claims.ID,
		UserID:    claims.Subject,
		Session:   claims.Session,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	return ceremony, nil
}

func (j *JWTTokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	// Validate the signing method
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &j.signKey.PublicKey, nil
}
