package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/internal/logger"
	"github.com/soteria-auth/soteria/ports"
	"github.com/soteria-auth/soteria/service"
)

// Client-facing failure messages. Authentication failures and validation
// failures read the same so the response carries no attack feedback.
const (
	msgWrongCode      = "Wrong or expired OTP code"
	msgSessionExpired = "Session expired, please retry from the start"
	msgCeremonyFailed = "Passkey verification failed"
	msgInvalidRequest = "Invalid request"
)

// StepUpHandlers contains HTTP handlers for the step-up flow endpoints.
type StepUpHandlers struct {
	orchestrator *service.Orchestrator
	opts         *service.Options
	primary      ports.PrimaryAuth
	sessions     ports.Sessions
	logger       *logger.Logger
}

// NewStepUpHandlers creates new step-up handlers
func NewStepUpHandlers(
	orchestrator *service.Orchestrator,
	opts *service.Options,
	primary ports.PrimaryAuth,
	sessions ports.Sessions,
	logger *logger.Logger,
) *StepUpHandlers {
	return &StepUpHandlers{
		orchestrator: orchestrator,
		opts:         opts,
		primary:      primary,
		sessions:     sessions,
		logger:       logger,
	}
}

// Login validates primary credentials through the host collaborator, then
// runs the deciding transition. It is the post-primary-login hook exposed
// as an endpoint.
func (h *StepUpHandlers) Login(c *gin.Context) {
	var req struct {
		Username   string `json:"username" binding:"required"`
		Password   string `json:"password" binding:"required"`
		RememberMe bool   `json:"rememberMe"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": msgInvalidRequest})
		return
	}

	user, err := h.primary.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	decision, err := h.orchestrator.Decide(c.Request.Context(), user, req.RememberMe)
	if err != nil {
		h.logger.Error("decision failed", "user_id", user.ID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	if decision.State == core.StateAllowed {
		rememberDays := 1
		if req.RememberMe {
			rememberDays = h.opts.RememberMeDays
		}
		if err := h.sessions.Establish(c.Writer, user, rememberDays); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"loginAllowed": true})
		return
	}

	// A fresh token is issued on every attempt, replacing any stale one.
	SetPendingCookie(c, decision.Token)
	c.JSON(http.StatusOK, gin.H{
		"loginAllowed": false,
		"redirectTo":   decision.RedirectTo,
	})
}

// InitSetupStatus returns the current pending token if any, plus the
// enrollment-suggestion period for the client's passkey prompt throttle.
func (h *StepUpHandlers) InitSetupStatus(c *gin.Context) {
	resp := gin.H{"status": "ok", "totpToken": nil}

	if h.opts.Passkeys != nil {
		period, _ := service.ParsePeriod(h.opts.Passkeys.SuggestionPeriod)
		resp["suggestionPeriodMs"] = period.Milliseconds()
	}

	if token := PendingCookie(c); token != "" {
		resp["totpToken"] = token
	}

	c.JSON(http.StatusOK, resp)
}

// ConfirmLogin completes the step-up flow: the confirmation token cookie
// plus one proof (TOTP code, skip, or passkey assertion with its ceremony
// token). On success the cookie is cleared and the session established.
func (h *StepUpHandlers) ConfirmLogin(c *gin.Context) {
	var req struct {
		Code          string          `json:"code"`
		Skip          bool            `json:"skip"`
		CeremonyToken string          `json:"ceremonyToken"`
		Credential    json.RawMessage `json:"credential"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": msgInvalidRequest})
		return
	}

	token := PendingCookie(c)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"error": msgSessionExpired})
		return
	}

	proof := service.Proof{
		Code:          req.Code,
		Skip:          req.Skip,
		CeremonyToken: req.CeremonyToken,
	}
	if len(req.Credential) > 0 {
		proof.Assertion = bytes.NewReader(req.Credential)
	}

	confirmation, err := h.orchestrator.Confirm(c.Request.Context(), token, proof)
	if err != nil {
		h.respondConfirmError(c, err)
		return
	}

	ClearPendingCookie(c)
	if err := h.sessions.Establish(c.Writer, confirmation.User, confirmation.RememberDays); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "allowedLogin": true})
}

// SkipAllow reports whether the skip affordance is currently offered, so
// the client can decide whether to render the skip button.
func (h *StepUpHandlers) SkipAllow(c *gin.Context) {
	token := PendingCookie(c)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": msgSessionExpired})
		return
	}

	allowed, err := h.orchestrator.SkipAllowed(token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": msgSessionExpired})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "skipAllowed": allowed})
}

// Verify re-checks a TOTP code for an already-authenticated user. Session
// state is never touched.
func (h *StepUpHandlers) Verify(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusOK, gin.H{"error": "Code is required"})
		return
	}

	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.orchestrator.VerifyCode(c.Request.Context(), user.ID, req.Code); err != nil {
		if errors.Is(err, core.ErrNoSecret) {
			c.JSON(http.StatusOK, gin.H{"error": core.ErrNoSecret.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"error": msgWrongCode})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// respondConfirmError maps service failures to the uniform client
// responses. Failed attempts leave the pending token valid for retry;
// invalid tokens require restarting from primary login.
func (h *StepUpHandlers) respondConfirmError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidToken):
		ClearPendingCookie(c)
		c.JSON(http.StatusOK, gin.H{"error": msgSessionExpired})
	case errors.Is(err, core.ErrSkipNotAllowed):
		c.JSON(http.StatusOK, gin.H{"error": core.ErrSkipNotAllowed.Error()})
	case errors.Is(err, core.ErrCeremonyFailed), errors.Is(err, core.ErrCounterReplay):
		c.JSON(http.StatusOK, gin.H{"error": msgCeremonyFailed})
	case errors.Is(err, core.ErrCodeRejected):
		c.JSON(http.StatusOK, gin.H{"error": msgWrongCode})
	default:
		h.logger.Error("confirmation failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
	}
}
