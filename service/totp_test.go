package service

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTPEngine_GenerateSecret(t *testing.T) {
	engine := NewTOTPEngine(1)

	secret, err := engine.GenerateSecret("Acme", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)

	other, err := engine.GenerateSecret("Acme", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestTOTPEngine_Verify_CurrentCode(t *testing.T) {
	engine := NewTOTPEngine(1)

	secret, err := engine.GenerateSecret("Acme", "alice")
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	assert.True(t, engine.Verify(secret, code))
}

func TestTOTPEngine_Verify_CodeOutsideWindow(t *testing.T) {
	engine := NewTOTPEngine(1)

	secret, err := engine.GenerateSecret("Acme", "alice")
	require.NoError(t, err)

	// Two full steps in the past is one beyond the window of 1,
	// regardless of where now falls inside the current step.
	stale, err := totp.GenerateCode(secret, time.Now().UTC().Add(-2*30*time.Second))
	require.NoError(t, err)

	assert.False(t, engine.Verify(secret, stale))
}

func TestTOTPEngine_Verify_EmptyInputs(t *testing.T) {
	engine := NewTOTPEngine(1)

	assert.False(t, engine.Verify("", "123456"))
	assert.False(t, engine.Verify("JBSWY3DPEHPK3PXP", ""))
}

func TestTOTPEngine_Verify_WrongCode(t *testing.T) {
	engine := NewTOTPEngine(1)

	secret, err := engine.GenerateSecret("Acme", "alice")
	require.NoError(t, err)

	assert.False(t, engine.Verify(secret, "000000"))
}
