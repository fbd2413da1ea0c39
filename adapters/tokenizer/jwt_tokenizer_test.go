package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/ports"
)

func newTokenizer(t *testing.T) ports.Tokenizer {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	return NewJWTTokenizer(key)
}

func pendingFixture(ttl time.Duration) *core.PendingLogin {
	now := time.Now()
	return &core.PendingLogin{
		ID:            "jti-1",
		UserID:        "u1",
		Username:      "alice",
		Issuer:        "Acme",
		PendingSecret: "JBSWY3DPEHPK3PXP",
		CanSkipSetup:  true,
		RememberDays:  30,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}
}

func TestJWTTokenizer_PendingRoundTrip(t *testing.T) {
	tok := newTokenizer(t)
	pending := pendingFixture(time.Minute)

	signed, err := tok.PendingToToken(pending, core.PurposeConfirmation)
	require.NoError(t, err)

	got, err := tok.TokenToPending(signed, core.PurposeConfirmation)
	require.NoError(t, err)

	assert.Equal(t, pending.ID, got.ID)
	assert.Equal(t, pending.UserID, got.UserID)
	assert.Equal(t, pending.Username, got.Username)
	assert.Equal(t, pending.Issuer, got.Issuer)
	assert.Equal(t, pending.PendingSecret, got.PendingSecret)
	assert.Equal(t, pending.CanSkipSetup, got.CanSkipSetup)
	assert.Equal(t, pending.RememberDays, got.RememberDays)
}

func TestJWTTokenizer_PurposeMismatch(t *testing.T) {
	tok := newTokenizer(t)

	purposes := []core.Purpose{
		core.PurposeConfirmation,
		core.PurposePasskeyRegister,
		core.PurposePasskeyLogin,
	}

	for _, issued := range purposes {
		signed, err := tok.PendingToToken(pendingFixture(time.Minute), issued)
		require.NoError(t, err)

		for _, checked := range purposes {
			if checked == issued {
				continue
			}
			_, err := tok.TokenToPending(signed, checked)
			assert.ErrorIs(t, err, core.ErrInvalidToken,
				"token issued for %s accepted as %s", issued, checked)
		}
	}
}

func TestJWTTokenizer_ExpiredTokenYieldsNoPayload(t *testing.T) {
	tok := newTokenizer(t)

	signed, err := tok.PendingToToken(pendingFixture(-time.Second), core.PurposeConfirmation)
	require.NoError(t, err)

	got, err := tok.TokenToPending(signed, core.PurposeConfirmation)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	assert.Nil(t, got)
}

func TestJWTTokenizer_TamperedToken(t *testing.T) {
	tok := newTokenizer(t)

	signed, err := tok.PendingToToken(pendingFixture(time.Minute), core.PurposeConfirmation)
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"
	_, err = tok.TokenToPending(tampered, core.PurposeConfirmation)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestJWTTokenizer_ForeignKey(t *testing.T) {
	signer := newTokenizer(t)
	verifier := newTokenizer(t)

	signed, err := signer.PendingToToken(pendingFixture(time.Minute), core.PurposeConfirmation)
	require.NoError(t, err)

	_, err = verifier.TokenToPending(signed, core.PurposeConfirmation)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestJWTTokenizer_CeremonyRoundTrip(t *testing.T) {
	tok := newTokenizer(t)

	now := time.Now()
	ceremony := &core.Ceremony{
		ID:        "jti-2",
		UserID:    "u1",
		Session:   []byte(`{"challenge":"Y2hhbGxlbmdl"}`),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Minute),
	}

	signed, err := tok.CeremonyToToken(ceremony, core.PurposePasskeyRegister)
	require.NoError(t, err)

	got, err := tok.TokenToCeremony(signed, core.PurposePasskeyRegister)
	require.NoError(t, err)

	assert.Equal(t, ceremony.ID, got.ID)
	assert.Equal(t, ceremony.UserID, got.UserID)
	assert.JSONEq(t, string(ceremony.Session), string(got.Session))

	_, err = tok.TokenToCeremony(signed, core.PurposePasskeyLogin)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}
