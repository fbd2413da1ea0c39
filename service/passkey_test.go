package service

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soteria-auth/soteria/adapters/store"
	"github.com/soteria-auth/soteria/adapters/tokenizer"
	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/internal/logger"
)

func newPasskeyFixture(t *testing.T) (*PasskeyManager, *store.MemoryStore) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	opts := &PasskeyOptions{
		RPName:         "Acme",
		RPID:           "example.com",
		ExpectedOrigin: "https://example.com",
	}
	wrapped := &Options{SecretField: "totp_secret", Passkeys: opts}
	require.NoError(t, wrapped.Validate())

	mem := store.NewMemoryStore()
	manager, err := NewPasskeyManager(opts, mem, mem, tokenizer.NewJWTTokenizer(key), mem, nil, logger.New(0))
	require.NoError(t, err)

	return manager, mem
}

func TestCheckCounter(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		reported uint32
		wantErr  bool
	}{
		{name: "both zero, counter unsupported", stored: 0, reported: 0},
		{name: "strictly increasing", stored: 4, reported: 5},
		{name: "first non-zero use", stored: 0, reported: 1},
		{name: "equal is replay", stored: 5, reported: 5, wantErr: true},
		{name: "decreasing is replay", stored: 5, reported: 3, wantErr: true},
		{name: "reset to zero is replay", stored: 5, reported: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCounter(tt.stored, tt.reported)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrCounterReplay)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasskeyManager_BeginRegistration(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	user := core.User{ID: "u1", Username: "alice", DisplayName: "Alice"}
	mem.PutUser(user)

	existingID := base64.RawURLEncoding.EncodeToString([]byte("existing-cred"))
	require.NoError(t, mem.CreateCredential(context.Background(), core.Credential{
		ID:     existingID,
		UserID: "u1",
		Meta: core.CredentialMeta{
			PublicKey: base64.RawURLEncoding.EncodeToString([]byte("key")),
		},
	}))

	options, token, err := manager.BeginRegistration(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	assert.Equal(t, "example.com", options.Response.RelyingParty.ID)
	assert.Equal(t, "Acme", options.Response.RelyingParty.Name)
	assert.Equal(t, "alice", options.Response.User.Name)
	assert.Equal(t, "Alice", options.Response.User.DisplayName)
	assert.NotEmpty(t, options.Response.Challenge)
	assert.Equal(t, protocol.Platform, options.Response.AuthenticatorSelection.AuthenticatorAttachment)

	require.Len(t, options.Response.CredentialExcludeList, 1)
	assert.Equal(t, []byte("existing-cred"), []byte(options.Response.CredentialExcludeList[0].CredentialID))
}

func TestPasskeyManager_BeginLogin(t *testing.T) {
	manager, _ := newPasskeyFixture(t)

	options, token, err := manager.BeginLogin()
	require.NoError(t, err)

	assert.NotEmpty(t, token)
	assert.NotEmpty(t, options.Response.Challenge)
	assert.Equal(t, "example.com", options.Response.RelyingPartyID)
}

func TestPasskeyManager_FinishRegistration_RejectsForeignToken(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	user := core.User{ID: "u1", Username: "alice"}
	mem.PutUser(user)

	// A login-purpose token must not drive a registration.
	_, loginToken, err := manager.BeginLogin()
	require.NoError(t, err)

	_, err = manager.FinishRegistration(context.Background(), user, loginToken, bytes.NewReader(nil))
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestPasskeyManager_FinishRegistration_RejectsOtherUsersToken(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	alice := core.User{ID: "u1", Username: "alice"}
	bob := core.User{ID: "u2", Username: "bob"}
	mem.PutUser(alice)
	mem.PutUser(bob)

	_, token, err := manager.BeginRegistration(context.Background(), alice)
	require.NoError(t, err)

	_, err = manager.FinishRegistration(context.Background(), bob, token, bytes.NewReader(nil))
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestPasskeyManager_FinishRegistration_RejectsMalformedBody(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	user := core.User{ID: "u1", Username: "alice"}
	mem.PutUser(user)

	_, token, err := manager.BeginRegistration(context.Background(), user)
	require.NoError(t, err)

	_, err = manager.FinishRegistration(context.Background(), user, token, bytes.NewReader([]byte("{")))
	assert.ErrorIs(t, err, core.ErrCeremonyFailed)
}

func TestPasskeyManager_FinishRegistration_RejectsWrongOrigin(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	user := core.User{ID: "u1", Username: "alice"}
	mem.PutUser(user)

	_, token, err := manager.BeginRegistration(context.Background(), user)
	require.NoError(t, err)

	body := attestationBody(t, "https://evil.example")
	_, err = manager.FinishRegistration(context.Background(), user, token, bytes.NewReader(body))
	assert.ErrorIs(t, err, core.ErrCeremonyFailed)

	creds, err := mem.ListCredentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestPasskeyManager_FinishRegistration_TokenIsSingleUse(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	user := core.User{ID: "u1", Username: "alice"}
	mem.PutUser(user)

	options, token, err := manager.BeginRegistration(context.Background(), user)
	require.NoError(t, err)

	// A "none"-format attestation against the real challenge carries no
	// signature, so it verifies end to end.
	body := registrationBody(t, options.Response.Challenge.String(), "https://example.com",
		forgedAttestationObject(t, "example.com", []byte("new-credential")))

	cred, err := manager.FinishRegistration(context.Background(), user, token, bytes.NewReader(body))
	require.NoError(t, err)

	// Authentications have advanced the counter since registration.
	cred.Meta.Counter = 5
	require.NoError(t, mem.UpdateCredentialMeta(context.Background(), cred.ID, cred.Meta))

	_, err = manager.FinishRegistration(context.Background(), user, token, bytes.NewReader(body))
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	stored, err := mem.GetCredential(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stored.Meta.Counter)
}

func TestPasskeyManager_VerifyForUser_RejectsForeignCredential(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	mem.PutUser(core.User{ID: "u1", Username: "alice"})
	mem.PutUser(core.User{ID: "u2", Username: "bob"})

	rawID := []byte("bobs-credential")
	credID := base64.RawURLEncoding.EncodeToString(rawID)
	require.NoError(t, mem.CreateCredential(context.Background(), core.Credential{
		ID:     credID,
		UserID: "u2",
		Meta: core.CredentialMeta{
			PublicKey: base64.RawURLEncoding.EncodeToString([]byte("key")),
		},
	}))

	_, token, err := manager.BeginLogin()
	require.NoError(t, err)

	// A syntactically valid assertion naming bob's credential, submitted
	// during alice's step-up. Ownership is checked before any crypto.
	body := assertionBody(t, rawID)
	_, err = manager.VerifyForUser(context.Background(), "u1", token, bytes.NewReader(body))
	assert.ErrorIs(t, err, core.ErrCeremonyFailed)
}

func TestPasskeyManager_RenameAndDelete_Ownership(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	require.NoError(t, mem.CreateCredential(context.Background(), core.Credential{
		ID:     "cred1",
		UserID: "u1",
		Meta:   core.CredentialMeta{Label: "old"},
	}))

	assert.ErrorIs(t, manager.Rename(context.Background(), "u2", "cred1", "new"), core.ErrNotOwner)
	assert.ErrorIs(t, manager.Delete(context.Background(), "u2", "cred1"), core.ErrNotOwner)

	require.NoError(t, manager.Rename(context.Background(), "u1", "cred1", "new"))
	cred, err := mem.GetCredential(context.Background(), "cred1")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Meta.Label)

	require.NoError(t, manager.Delete(context.Background(), "u1", "cred1"))
	_, err = mem.GetCredential(context.Background(), "cred1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPasskeyManager_HasCredentials(t *testing.T) {
	manager, mem := newPasskeyFixture(t)

	has, err := manager.HasCredentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, mem.CreateCredential(context.Background(), core.Credential{ID: "cred1", UserID: "u1"}))

	has, err = manager.HasCredentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPasskeyManager_CeremonyTokenExpiry(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	opts := &PasskeyOptions{
		RPName:         "Acme",
		RPID:           "example.com",
		ExpectedOrigin: "https://example.com",
		ChallengeTTL:   -time.Second, // already expired at issuance
	}
	mem := store.NewMemoryStore()
	manager, err := NewPasskeyManager(opts, mem, mem, tokenizer.NewJWTTokenizer(key), mem, nil, logger.New(0))
	require.NoError(t, err)

	user := core.User{ID: "u1", Username: "alice"}
	mem.PutUser(user)

	_, token, err := manager.BeginRegistration(context.Background(), user)
	require.NoError(t, err)

	_, err = manager.FinishRegistration(context.Background(), user, token, bytes.NewReader(nil))
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

// attestationBody builds a registration response that decodes cleanly but
// carries no attested credential data, with the client data claiming the
// given origin. Tests using it only exercise checks that run before
// attestation verification.
func attestationBody(t *testing.T, origin string) []byte {
	t.Helper()

	// CBOR map {"fmt": "none", "attStmt": {}, "authData": 37 zero bytes}.
	attObj := append([]byte{
		0xa3,
		0x63, 'f', 'm', 't', 0x64, 'n', 'o', 'n', 'e',
		0x67, 'a', 't', 't', 'S', 't', 'm', 't', 0xa0,
		0x68, 'a', 'u', 't', 'h', 'D', 'a', 't', 'a', 0x58, 0x25,
	}, make([]byte, 37)...)

	return registrationBody(t, "Y2hhbGxlbmdl", origin, attObj)
}

// forgedAttestationObject builds a "none"-format attestation object with
// attested credential data for the given relying party: UP, UV and AT flags
// set, counter zero, zero AAGUID and an all-zero P-256 COSE key.
func forgedAttestationObject(t *testing.T, rpID string, credID []byte) []byte {
	t.Helper()

	rpHash := sha256.Sum256([]byte(rpID))

	// COSE_Key map {1: EC2, 3: ES256, -1: P-256, -2: x, -3: y}.
	coseKey := []byte{
		0xa5,
		0x01, 0x02,
		0x03, 0x26,
		0x20, 0x01,
		0x21, 0x58, 0x20,
	}
	coseKey = append(coseKey, make([]byte, 32)...)
	coseKey = append(coseKey, 0x22, 0x58, 0x20)
	coseKey = append(coseKey, make([]byte, 32)...)

	authData := make([]byte, 0, 55+len(credID)+len(coseKey))
	authData = append(authData, rpHash[:]...)
	authData = append(authData, 0x45)                // UP | UV | AT
	authData = append(authData, 0, 0, 0, 0)          // counter
	authData = append(authData, make([]byte, 16)...) // AAGUID
	authData = append(authData, byte(len(credID)>>8), byte(len(credID)))
	authData = append(authData, credID...)
	authData = append(authData, coseKey...)
	require.Less(t, len(authData), 256)

	// CBOR map {"fmt": "none", "attStmt": {}, "authData": <bytes>}.
	attObj := []byte{
		0xa3,
		0x63, 'f', 'm', 't', 0x64, 'n', 'o', 'n', 'e',
		0x67, 'a', 't', 't', 'S', 't', 'm', 't', 0xa0,
		0x68, 'a', 'u', 't', 'h', 'D', 'a', 't', 'a', 0x58, byte(len(authData)),
	}
	return append(attObj, authData...)
}

// registrationBody wraps an attestation object in the outer JSON shape of a
// registration response, with the client data claiming the given challenge
// and origin.
func registrationBody(t *testing.T, challenge, origin string, attObj []byte) []byte {
	t.Helper()

	id := base64.RawURLEncoding.EncodeToString([]byte("new-credential"))
	clientData := base64.RawURLEncoding.EncodeToString([]byte(
		`{"type":"webauthn.create","challenge":"` + challenge + `","origin":"` + origin + `"}`,
	))
	attestation := base64.RawURLEncoding.EncodeToString(attObj)

	return []byte(`{
		"id": "` + id + `",
		"rawId": "` + id + `",
		"type": "public-key",
		"response": {
			"clientDataJSON": "` + clientData + `",
			"attestationObject": "` + attestation + `"
		}
	}`)
}

// assertionBody builds the outer JSON shape of an authentication response.
// It carries no valid signature; tests using it only exercise checks that
// run before signature verification.
func assertionBody(t *testing.T, rawID []byte) []byte {
	t.Helper()

	id := base64.RawURLEncoding.EncodeToString(rawID)
	clientData := base64.RawURLEncoding.EncodeToString([]byte(
		`{"type":"webauthn.get","challenge":"Y2hhbGxlbmdl","origin":"https://example.com"}`,
	))
	authData := base64.RawURLEncoding.EncodeToString(make([]byte, 37))

	return []byte(`{
		"id": "` + id + `",
		"rawId": "` + id + `",
		"type": "public-key",
		"response": {
			"clientDataJSON": "` + clientData + `",
			"authenticatorData": "` + authData + `",
			"signature": "c2ln",
			"userHandle": ""
		}
	}`)
}
