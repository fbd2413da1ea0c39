package service

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPEngine generates enrollment secrets and verifies time-based codes.
// Verification failures are soft: the caller may retry until the outer
// token's TTL runs out.
type TOTPEngine struct {
	window uint // drift allowance in 30s steps on either side of now
}

// NewTOTPEngine creates an engine with the given time-step window. Negative
// windows fall back to the default of 1.
func NewTOTPEngine(timeStepWindow int) *TOTPEngine {
	if timeStepWindow < 0 {
		timeStepWindow = defaultTimeStepWindow
	}
	return &TOTPEngine{window: uint(timeStepWindow)}
}

// GenerateSecret produces a new random shared secret. The secret is opaque
// to the orchestrator; it is persisted only after the user confirms it.
func (e *TOTPEngine) GenerateSecret(issuer, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), nil
}

// Verify validates a submitted code against a secret, allowing the
// configured drift window.
func (e *TOTPEngine) Verify(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      e.window,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})

	return err == nil && ok
}
