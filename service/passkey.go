package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/internal/logger"
	"github.com/soteria-auth/soteria/ports"
)

// PasskeyManager runs the two WebAuthn ceremonies (registration and
// authentication) and keeps the credential records. Ceremony state travels
// inside signed tokens held by the client, never in server memory.
type PasskeyManager struct {
	webauthn    *webauthn.WebAuthn
	opts        *PasskeyOptions
	users       ports.UserStore
	credentials ports.CredentialStore
	tokenizer   ports.Tokenizer
	consumed    ports.ConsumedTokenStore
	events      ports.EventPublisher
	logger      *logger.Logger
}

// NewPasskeyManager builds the ceremony manager. Options must already be
// validated.
func NewPasskeyManager(
	opts *PasskeyOptions,
	users ports.UserStore,
	credentials ports.CredentialStore,
	tokenizer ports.Tokenizer,
	consumed ports.ConsumedTokenStore,
	events ports.EventPublisher,
	logger *logger.Logger,
) (*PasskeyManager, error) {
	selection := protocol.AuthenticatorSelection{
		UserVerification: protocol.UserVerificationRequirement(opts.UserVerification),
	}
	switch opts.AuthenticatorAttachment {
	case "platform":
		selection.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		selection.AuthenticatorAttachment = protocol.CrossPlatform
	case "both":
		// leave unset so the browser offers every authenticator type
	}
	if opts.RequireResidentKey {
		rrk := true
		selection.RequireResidentKey = &rrk
		selection.ResidentKey = protocol.ResidentKeyRequirementRequired
	} else {
		selection.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	}

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName:          opts.RPName,
		RPID:                   opts.RPID,
		RPOrigins:              []string{opts.ExpectedOrigin},
		AuthenticatorSelection: selection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	return &PasskeyManager{
		webauthn:    w,
		opts:        opts,
		users:       users,
		credentials: credentials,
		tokenizer:   tokenizer,
		consumed:    consumed,
		events:      events,
		logger:      logger,
	}, nil
}

// ceremonyUser adapts a user view plus its stored credentials to the shape
// the ceremony verification expects.
type ceremonyUser struct {
	user  core.User
	creds []core.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u *ceremonyUser) WebAuthnName() string { return u.user.Username }

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Username
}

func (u *ceremonyUser) WebAuthnIcon() string { return "" }

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		wc, err := toWebauthnCredential(c)
		if err != nil {
			continue
		}
		out = append(out, wc)
	}
	return out
}

// BeginRegistration starts a registration ceremony for an authenticated
// user. Already-registered credential ids are excluded so the authenticator
// offers a new one. The returned token carries the ceremony state.
func (m *PasskeyManager) BeginRegistration(ctx context.Context, user core.User) (*protocol.CredentialCreation, string, error) {
	creds, err := m.credentials.ListCredentials(ctx, user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list credentials: %w", err)
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		raw, err := base64.RawURLEncoding.DecodeString(c.ID)
		if err != nil {
			continue
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: raw,
			Transport:    toTransports(c.Meta.Transports),
		})
	}

	entity := &ceremonyUser{user: user, creds: creds}
	options, session, err := m.webauthn.BeginRegistration(entity, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin registration: %w", err)
	}

	token, err := m.issueCeremonyToken(session, user.ID, core.PurposePasskeyRegister)
	if err != nil {
		return nil, "", err
	}

	return options, token, nil
}

// FinishRegistration completes a registration ceremony: verifies the signed
// response against the token's challenge, the expected origin and the
// relying-party id, then persists the new credential with counter zero. The
// ceremony token is single-use; it is consumed once verification succeeds.
func (m *PasskeyManager) FinishRegistration(ctx context.Context, user core.User, ceremonyToken string, body io.Reader) (core.Credential, error) {
	session, ceremony, err := m.ceremonySession(ceremonyToken, core.PurposePasskeyRegister)
	if err != nil {
		return core.Credential{}, err
	}
	if string(session.UserID) != user.ID {
		return core.Credential{}, core.ErrInvalidToken
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		m.logger.Debug("registration response rejected", "user_id", user.ID, "error", err.Error())
		return core.Credential{}, core.ErrCeremonyFailed
	}

	// Exact origin match before any cryptographic verification.
	if parsed.Response.CollectedClientData.Origin != m.opts.ExpectedOrigin {
		m.logger.Info("registration origin mismatch",
			"user_id", user.ID,
			"origin", parsed.Response.CollectedClientData.Origin)
		return core.Credential{}, core.ErrCeremonyFailed
	}

	creds, err := m.credentials.ListCredentials(ctx, user.ID)
	if err != nil {
		return core.Credential{}, fmt.Errorf("failed to list credentials: %w", err)
	}

	entity := &ceremonyUser{user: user, creds: creds}
	verified, err := m.webauthn.CreateCredential(entity, *session, parsed)
	if err != nil {
		m.logger.Info("registration verification failed", "user_id", user.ID, "error", err.Error())
		return core.Credential{}, core.ErrCeremonyFailed
	}

	// The challenge is answered; the token must not complete a second
	// registration.
	if err := m.consumeCeremony(ctx, ceremony); err != nil {
		return core.Credential{}, err
	}

	now := time.Now()
	cred := core.Credential{
		ID:     base64.RawURLEncoding.EncodeToString(verified.ID),
		UserID: user.ID,
		Meta: core.CredentialMeta{
			PublicKey:  base64.RawURLEncoding.EncodeToString(verified.PublicKey),
			Algorithm:  coseAlgorithm(verified.PublicKey),
			Counter:    0,
			Transports: fromTransports(verified.Transport),
			AAGUID:     base64.RawURLEncoding.EncodeToString(verified.Authenticator.AAGUID),
			Label:      defaultLabel(verified),
			CreatedAt:  now,
		},
	}

	if err := m.credentials.CreateCredential(ctx, cred); err != nil {
		return core.Credential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	if m.events != nil {
		if err := m.events.PublishCredentialRegistered(ctx, user.ID, cred.ID); err != nil {
			m.logger.Error("failed to publish credential event", "error", err.Error())
		}
	}

	m.logger.Info("passkey registered", "user_id", user.ID, "credential_id", cred.ID)
	return cred, nil
}

// BeginLogin starts a discoverable-credential authentication ceremony. It is
// unbound to a user: the authenticator reports which credential answered.
func (m *PasskeyManager) BeginLogin() (*protocol.CredentialAssertion, string, error) {
	options, session, err := m.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin login: %w", err)
	}

	token, err := m.issueCeremonyToken(session, "", core.PurposePasskeyLogin)
	if err != nil {
		return nil, "", err
	}

	return options, token, nil
}

// FinishLogin completes a discoverable authentication ceremony and returns
// the owning user. The credential's counter and last-used timestamp are
// persisted on success.
func (m *PasskeyManager) FinishLogin(ctx context.Context, ceremonyToken string, body io.Reader) (core.User, error) {
	session, ceremony, err := m.ceremonySession(ceremonyToken, core.PurposePasskeyLogin)
	if err != nil {
		return core.User{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return core.User{}, core.ErrCeremonyFailed
	}

	var owner core.User
	var stored core.Credential
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		id := base64.RawURLEncoding.EncodeToString(rawID)
		cred, err := m.credentials.GetCredential(ctx, id)
		if err != nil {
			return nil, err
		}
		user, err := m.users.GetUser(ctx, cred.UserID)
		if err != nil {
			return nil, err
		}
		owner = user
		stored = cred
		return &ceremonyUser{user: user, creds: []core.Credential{cred}}, nil
	}

	if err := m.verifyAssertion(parsed, session, handler, &stored); err != nil {
		return core.User{}, err
	}

	if err := m.consumeCeremony(ctx, ceremony); err != nil {
		return core.User{}, err
	}

	if err := m.touchCredential(ctx, &stored, parsed.Response.AuthenticatorData.Counter); err != nil {
		return core.User{}, err
	}

	return owner, nil
}

// VerifyForUser completes an authentication ceremony during step-up: the
// credential must belong to the claimed user. Returns the verified
// credential id.
func (m *PasskeyManager) VerifyForUser(ctx context.Context, userID, ceremonyToken string, body io.Reader) (string, error) {
	session, ceremony, err := m.ceremonySession(ceremonyToken, core.PurposePasskeyLogin)
	if err != nil {
		return "", err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return "", core.ErrCeremonyFailed
	}

	id := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	stored, err := m.credentials.GetCredential(ctx, id)
	if err != nil {
		// Not-found is indistinguishable from a failed ceremony.
		return "", core.ErrCeremonyFailed
	}

	// Ownership check precedes cryptographic verification.
	if stored.UserID != userID {
		m.logger.Info("credential ownership mismatch", "user_id", userID, "credential_id", id)
		return "", core.ErrCeremonyFailed
	}

	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		user, err := m.users.GetUser(ctx, stored.UserID)
		if err != nil {
			return nil, err
		}
		return &ceremonyUser{user: user, creds: []core.Credential{stored}}, nil
	}

	if err := m.verifyAssertion(parsed, session, handler, &stored); err != nil {
		return "", err
	}

	if err := m.consumeCeremony(ctx, ceremony); err != nil {
		return "", err
	}

	if err := m.touchCredential(ctx, &stored, parsed.Response.AuthenticatorData.Counter); err != nil {
		return "", err
	}

	return id, nil
}

func (m *PasskeyManager) verifyAssertion(
	parsed *protocol.ParsedCredentialAssertionData,
	session *webauthn.SessionData,
	handler webauthn.DiscoverableUserHandler,
	stored *core.Credential,
) error {
	// Exact origin match before any cryptographic verification.
	if parsed.Response.CollectedClientData.Origin != m.opts.ExpectedOrigin {
		m.logger.Info("assertion origin mismatch", "origin", parsed.Response.CollectedClientData.Origin)
		return core.ErrCeremonyFailed
	}

	verified, err := m.webauthn.ValidateDiscoverableLogin(handler, *session, parsed)
	if err != nil {
		m.logger.Info("assertion verification failed", "error", err.Error())
		return core.ErrCeremonyFailed
	}

	if err := CheckCounter(stored.Meta.Counter, parsed.Response.AuthenticatorData.Counter); err != nil {
		m.logger.Error("counter replay detected", "credential_id", stored.ID)
		return err
	}
	if verified.Authenticator.CloneWarning {
		m.logger.Error("clone warning raised", "credential_id", stored.ID)
		return core.ErrCounterReplay
	}

	return nil
}

// CheckCounter enforces signature-counter monotonicity. Authenticators that
// do not implement counters always report zero; once either side is
// non-zero the new value must exceed the stored one.
func CheckCounter(stored, reported uint32) error {
	if stored == 0 && reported == 0 {
		return nil
	}
	if reported <= stored {
		return core.ErrCounterReplay
	}
	return nil
}

// touchCredential persists the authoritative new counter and last-used
// timestamp after a successful authentication.
func (m *PasskeyManager) touchCredential(ctx context.Context, cred *core.Credential, counter uint32) error {
	now := time.Now()
	cred.Meta.Counter = counter
	cred.Meta.LastUsedAt = &now

	if err := m.credentials.UpdateCredentialMeta(ctx, cred.ID, cred.Meta); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}

// List returns the user's registered credentials.
func (m *PasskeyManager) List(ctx context.Context, userID string) ([]core.Credential, error) {
	return m.credentials.ListCredentials(ctx, userID)
}

// Rename updates the human-readable label of a credential the user owns.
func (m *PasskeyManager) Rename(ctx context.Context, userID, credentialID, label string) error {
	cred, err := m.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if cred.UserID != userID {
		return core.ErrNotOwner
	}

	cred.Meta.Label = label
	return m.credentials.UpdateCredentialMeta(ctx, credentialID, cred.Meta)
}

// Delete removes a credential the user owns.
func (m *PasskeyManager) Delete(ctx context.Context, userID, credentialID string) error {
	cred, err := m.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if cred.UserID != userID {
		return core.ErrNotOwner
	}

	if err := m.credentials.DeleteCredential(ctx, credentialID); err != nil {
		return err
	}

	if m.events != nil {
		if err := m.events.PublishCredentialDeleted(ctx, userID, credentialID); err != nil {
			m.logger.Error("failed to publish credential event", "error", err.Error())
		}
	}

	return nil
}

// HasCredentials reports whether the user owns at least one passkey.
func (m *PasskeyManager) HasCredentials(ctx context.Context, userID string) (bool, error) {
	creds, err := m.credentials.ListCredentials(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(creds) > 0, nil
}

func (m *PasskeyManager) issueCeremonyToken(session *webauthn.SessionData, userID string, purpose core.Purpose) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ceremony session: %w", err)
	}

	now := time.Now()
	ceremony := &core.Ceremony{
		ID:        uuid.New().String(),
		UserID:    userID,
		Session:   data,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.opts.ChallengeTTL),
	}

	token, err := m.tokenizer.CeremonyToToken(ceremony, purpose)
	if err != nil {
		return "", fmt.Errorf("failed to sign ceremony token: %w", err)
	}

	return token, nil
}

func (m *PasskeyManager) ceremonySession(token string, purpose core.Purpose) (*webauthn.SessionData, *core.Ceremony, error) {
	ceremony, err := m.tokenizer.TokenToCeremony(token, purpose)
	if err != nil {
		return nil, nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(ceremony.Session, &session); err != nil {
		return nil, nil, core.ErrInvalidToken
	}
	if ceremony.UserID != "" {
		session.UserID = []byte(ceremony.UserID)
	}

	return &session, ceremony, nil
}

// consumeCeremony burns a ceremony token after its challenge has been
// answered. A second submission of the same token reads back as forged.
func (m *PasskeyManager) consumeCeremony(ctx context.Context, ceremony *core.Ceremony) error {
	ttl := time.Until(ceremony.ExpiresAt)
	if ttl <= 0 {
		return core.ErrInvalidToken
	}

	err := m.consumed.ConsumeToken(ctx, ceremony.ID, ttl)
	if errors.Is(err, core.ErrTokenConsumed) {
		return core.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("failed to consume ceremony token: %w", err)
	}
	return nil
}

func toWebauthnCredential(c core.Credential) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(c.ID)
	if err != nil {
		return webauthn.Credential{}, err
	}
	pub, err := base64.RawURLEncoding.DecodeString(c.Meta.PublicKey)
	if err != nil {
		return webauthn.Credential{}, err
	}

	return webauthn.Credential{
		ID:        id,
		PublicKey: pub,
		Transport: toTransports(c.Meta.Transports),
		Authenticator: webauthn.Authenticator{
			SignCount: c.Meta.Counter,
		},
	}, nil
}

func toTransports(in []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, 0, len(in))
	for _, t := range in {
		out = append(out, protocol.AuthenticatorTransport(t))
	}
	return out
}

func fromTransports(in []protocol.AuthenticatorTransport) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, string(t))
	}
	return out
}

// coseAlgorithm extracts the COSE algorithm identifier from an encoded
// public key. Zero means the key could not be decoded; verification would
// have failed first in that case.
func coseAlgorithm(publicKey []byte) int64 {
	parsed, err := webauthncose.ParsePublicKey(publicKey)
	if err != nil {
		return 0
	}

	switch key := parsed.(type) {
	case webauthncose.EC2PublicKeyData:
		return key.Algorithm
	case webauthncose.OKPPublicKeyData:
		return key.Algorithm
	case webauthncose.RSAPublicKeyData:
		return key.Algorithm
	default:
		return 0
	}
}

func defaultLabel(cred *webauthn.Credential) string {
	switch cred.Authenticator.Attachment {
	case protocol.Platform:
		return "This device"
	case protocol.CrossPlatform:
		return "Security key"
	default:
		return "Passkey"
	}
}
