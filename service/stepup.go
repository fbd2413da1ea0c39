package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/internal/logger"
	"github.com/soteria-auth/soteria/ports"
)

// Orchestrator is the step-up state machine. It runs after primary
// credentials are accepted and drives a login attempt to CONFIRMED or
// REJECTED through the TOTP engine, the passkey manager and the skip
// policy.
type Orchestrator struct {
	opts      *Options
	totp      *TOTPEngine
	passkeys  *PasskeyManager
	policy    *SkipPolicy
	users     ports.UserStore
	tokenizer ports.Tokenizer
	consumed  ports.ConsumedTokenStore
	events    ports.EventPublisher
	logger    *logger.Logger
}

// NewOrchestrator wires the state machine. opts must already be validated;
// passkeys may be nil when the passkey sub-configuration is absent.
func NewOrchestrator(
	opts *Options,
	totp *TOTPEngine,
	passkeys *PasskeyManager,
	policy *SkipPolicy,
	users ports.UserStore,
	tokenizer ports.Tokenizer,
	consumed ports.ConsumedTokenStore,
	events ports.EventPublisher,
	logger *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		opts:      opts,
		totp:      totp,
		passkeys:  passkeys,
		policy:    policy,
		users:     users,
		tokenizer: tokenizer,
		consumed:  consumed,
		events:    events,
		logger:    logger,
	}
}

// Proof is the client's submission to the confirmation endpoint: exactly
// one of Code, Skip, or a passkey assertion (ceremony token plus response
// body).
type Proof struct {
	Code          string
	Skip          bool
	CeremonyToken string
	Assertion     io.Reader
}

// Confirmation is the successful outcome of a confirmation attempt.
type Confirmation struct {
	User         core.User
	RememberDays int
	Method       string // "totp", "skip" or "passkey"
}

// Decide runs the DECIDING transition for a user whose primary credentials
// were just accepted. Every pass issues a fresh token; tokens are never
// reused across attempts.
func (o *Orchestrator) Decide(ctx context.Context, user core.User, rememberMe bool) (core.Decision, error) {
	rememberDays := 1
	if rememberMe {
		rememberDays = o.opts.RememberMeDays
	}

	// 1. 2FA does not apply to this user at all.
	if !o.policy.Applies(user) {
		return core.Decision{State: core.StateAllowed}, nil
	}

	// 2. Skip-allowed users pass until a factor exists; the evaluator
	// already force-denies once a secret or credential is present.
	canSkip, err := o.policy.MaySkipEnrollment(ctx, user)
	if err != nil {
		return core.Decision{}, fmt.Errorf("failed to evaluate skip policy: %w", err)
	}
	if canSkip {
		o.logger.Debug("step-up bypassed by skip policy", "user_id", user.ID)
		return core.Decision{State: core.StateAllowed}, nil
	}

	pending := &core.PendingLogin{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Username:     user.Username,
		Issuer:       o.opts.Issuer(),
		CanSkipSetup: canSkip,
		RememberDays: rememberDays,
	}

	now := time.Now()
	pending.IssuedAt = now
	pending.ExpiresAt = now.Add(o.opts.PendingTTL)

	// 3. No secret yet: generate a pending one and require setup.
	if !user.HasTOTP() {
		secret, err := o.totp.GenerateSecret(pending.Issuer, user.Username)
		if err != nil {
			return core.Decision{}, err
		}
		pending.PendingSecret = secret

		token, err := o.tokenizer.PendingToToken(pending, core.PurposeConfirmation)
		if err != nil {
			return core.Decision{}, fmt.Errorf("failed to issue pending token: %w", err)
		}

		o.logger.Debug("setup required", "user_id", user.ID)
		return core.Decision{
			State:      core.StateSetupRequired,
			Token:      token,
			RedirectTo: "/setup2fa",
		}, nil
	}

	// 4. Secret exists: require verification, no secret in the token.
	token, err := o.tokenizer.PendingToToken(pending, core.PurposeConfirmation)
	if err != nil {
		return core.Decision{}, fmt.Errorf("failed to issue pending token: %w", err)
	}

	o.logger.Debug("verification required", "user_id", user.ID)
	return core.Decision{
		State:      core.StateVerifyRequired,
		Token:      token,
		RedirectTo: "/confirm2fa",
	}, nil
}

// Confirm advances a pending login to CONFIRMED or leaves it retryable.
// The tokenStr is the confirmation cookie's value; proof is the client's
// submission. A nil error means CONFIRMED: the caller must clear the cookie
// and establish the session.
func (o *Orchestrator) Confirm(ctx context.Context, tokenStr string, proof Proof) (Confirmation, error) {
	pending, err := o.tokenizer.TokenToPending(tokenStr, core.PurposeConfirmation)
	if err != nil {
		return Confirmation{}, core.ErrInvalidToken
	}

	user, err := o.users.GetUser(ctx, pending.UserID)
	if err != nil {
		// A vanished user is indistinguishable from a failed attempt.
		return Confirmation{}, core.ErrCodeRejected
	}

	if pending.PendingSecret != "" {
		return o.confirmSetup(ctx, pending, user, proof)
	}
	return o.confirmVerification(ctx, pending, user, proof)
}

// confirmSetup handles a token carrying a pending secret: the user either
// skips enrollment (when allowed) or proves possession of the new secret.
// Skip and code verification are mutually exclusive. Either success path
// consumes the token.
func (o *Orchestrator) confirmSetup(ctx context.Context, pending *core.PendingLogin, user core.User, proof Proof) (Confirmation, error) {
	method := "totp"

	if proof.Skip {
		if !pending.CanSkipSetup {
			return Confirmation{}, core.ErrSkipNotAllowed
		}
		method = "skip"
	} else if !o.totp.Verify(pending.PendingSecret, proof.Code) {
		return Confirmation{}, core.ErrCodeRejected
	}

	// Consuming the token and persisting the secret are the state-changing
	// steps; the consumption record serializes concurrent duplicates.
	if err := o.consumeToken(ctx, pending); err != nil {
		return Confirmation{}, err
	}

	if !proof.Skip {
		if err := o.users.SetTOTPSecret(ctx, user.ID, pending.PendingSecret); err != nil {
			return Confirmation{}, fmt.Errorf("failed to persist secret: %w", err)
		}
	}

	return o.confirmed(ctx, user, pending.RememberDays, method)
}

// confirmVerification handles a token without a pending secret: the user
// proves either the stored TOTP secret or a registered passkey. Failures
// leave the token valid for retry.
func (o *Orchestrator) confirmVerification(ctx context.Context, pending *core.PendingLogin, user core.User, proof Proof) (Confirmation, error) {
	if proof.CeremonyToken != "" && proof.Assertion != nil {
		if o.passkeys == nil {
			return Confirmation{}, core.ErrCeremonyFailed
		}
		if _, err := o.passkeys.VerifyForUser(ctx, user.ID, proof.CeremonyToken, proof.Assertion); err != nil {
			return Confirmation{}, err
		}
		return o.confirmed(ctx, user, pending.RememberDays, "passkey")
	}

	if !o.totp.Verify(user.TOTPSecret, proof.Code) {
		return Confirmation{}, core.ErrCodeRejected
	}

	return o.confirmed(ctx, user, pending.RememberDays, "totp")
}

func (o *Orchestrator) confirmed(ctx context.Context, user core.User, rememberDays int, method string) (Confirmation, error) {
	if o.events != nil {
		if err := o.events.PublishLoginConfirmed(ctx, user.ID, method); err != nil {
			o.logger.Error("failed to publish login event", "error", err.Error())
		}
	}

	o.logger.Info("login confirmed", "user_id", user.ID, "method", method)
	return Confirmation{
		User:         user,
		RememberDays: rememberDays,
		Method:       method,
	}, nil
}

func (o *Orchestrator) consumeToken(ctx context.Context, pending *core.PendingLogin) error {
	ttl := time.Until(pending.ExpiresAt)
	if ttl <= 0 {
		return core.ErrInvalidToken
	}

	err := o.consumed.ConsumeToken(ctx, pending.ID, ttl)
	if errors.Is(err, core.ErrTokenConsumed) {
		return core.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	return nil
}

// VerifyCode re-checks a TOTP code for an already-authenticated user. Used
// by the ad-hoc verify endpoint; never touches session state.
func (o *Orchestrator) VerifyCode(ctx context.Context, userID, code string) error {
	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		return core.ErrCodeRejected
	}
	if !user.HasTOTP() {
		return core.ErrNoSecret
	}
	if !o.totp.Verify(user.TOTPSecret, code) {
		return core.ErrCodeRejected
	}
	return nil
}

// SkipAllowed reports whether the skip affordance should be offered for a
// pending token. Skip is only offered while enrollment is pending.
func (o *Orchestrator) SkipAllowed(tokenStr string) (bool, error) {
	pending, err := o.tokenizer.TokenToPending(tokenStr, core.PurposeConfirmation)
	if err != nil {
		return false, core.ErrInvalidToken
	}
	if pending.PendingSecret == "" {
		return false, nil
	}
	return pending.CanSkipSetup, nil
}

// PendingUserID resolves the user a pending token was issued for.
func (o *Orchestrator) PendingUserID(tokenStr string) (string, error) {
	pending, err := o.tokenizer.TokenToPending(tokenStr, core.PurposeConfirmation)
	if err != nil {
		return "", core.ErrInvalidToken
	}
	return pending.UserID, nil
}

// PendingSecret exposes the enrollment secret from a pending token so the
// setup UI can render it. Empty when the token is past enrollment.
func (o *Orchestrator) PendingSecret(tokenStr string) (string, error) {
	pending, err := o.tokenizer.TokenToPending(tokenStr, core.PurposeConfirmation)
	if err != nil {
		return "", core.ErrInvalidToken
	}
	return pending.PendingSecret, nil
}
