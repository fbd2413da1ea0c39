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

// PasskeyHandlers contains HTTP handlers for passkey management and the
// passkey login ceremonies.
type PasskeyHandlers struct {
	passkeys     *service.PasskeyManager
	orchestrator *service.Orchestrator
	opts         *service.Options
	sessions     ports.Sessions
	logger       *logger.Logger
}

// NewPasskeyHandlers creates new passkey handlers
func NewPasskeyHandlers(
	passkeys *service.PasskeyManager,
	orchestrator *service.Orchestrator,
	opts *service.Options,
	sessions ports.Sessions,
	logger *logger.Logger,
) *PasskeyHandlers {
	return &PasskeyHandlers{
		passkeys:     passkeys,
		orchestrator: orchestrator,
		opts:         opts,
		sessions:     sessions,
		logger:       logger,
	}
}

// RegisterRequest begins a registration ceremony for the session user.
func (h *PasskeyHandlers) RegisterRequest(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	options, token, err := h.passkeys.BeginRegistration(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("failed to begin registration", "user_id", user.ID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start registration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"options": options, "ceremonyToken": token})
}

// FinishRegistering completes a registration ceremony and stores the new
// credential.
func (h *PasskeyHandlers) FinishRegistering(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		CeremonyToken string          `json:"ceremonyToken" binding:"required"`
		Credential    json.RawMessage `json:"credential" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": msgInvalidRequest})
		return
	}

	cred, err := h.passkeys.FinishRegistration(c.Request.Context(), user, req.CeremonyToken, bytes.NewReader(req.Credential))
	if err != nil {
		if errors.Is(err, core.ErrInvalidToken) {
			c.JSON(http.StatusOK, gin.H{"error": msgSessionExpired})
			return
		}
		c.JSON(http.StatusOK, gin.H{"error": msgCeremonyFailed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "credential": credentialView(cred)})
}

// SignInRequest begins an authentication ceremony. It is anonymous: the
// credential answering the challenge identifies the user.
func (h *PasskeyHandlers) SignInRequest(c *gin.Context) {
	options, token, err := h.passkeys.BeginLogin()
	if err != nil {
		h.logger.Error("failed to begin login ceremony", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start ceremony"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"options": options, "ceremonyToken": token})
}

// ConfirmLoginWithPasskey is the direct passkey login that bypasses the
// password. Only mounted when the configuration flag allows it.
func (h *PasskeyHandlers) ConfirmLoginWithPasskey(c *gin.Context) {
	var req struct {
		CeremonyToken string          `json:"ceremonyToken" binding:"required"`
		Credential    json.RawMessage `json:"credential" binding:"required"`
		RememberMe    bool            `json:"rememberMe"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": msgInvalidRequest})
		return
	}

	user, err := h.passkeys.FinishLogin(c.Request.Context(), req.CeremonyToken, bytes.NewReader(req.Credential))
	if err != nil {
		if errors.Is(err, core.ErrInvalidToken) {
			c.JSON(http.StatusOK, gin.H{"error": msgSessionExpired})
			return
		}
		c.JSON(http.StatusOK, gin.H{"error": msgCeremonyFailed})
		return
	}

	rememberDays := 1
	if req.RememberMe {
		rememberDays = h.opts.RememberMeDays
	}
	if err := h.sessions.Establish(c.Writer, user, rememberDays); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "allowedLogin": true})
}

// List returns the session user's registered credentials.
func (h *PasskeyHandlers) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	creds, err := h.passkeys.List(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list passkeys"})
		return
	}

	views := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialView(cred))
	}

	c.JSON(http.StatusOK, gin.H{"passkeys": views})
}

// Rename updates the label of a credential the session user owns.
func (h *PasskeyHandlers) Rename(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		ID    string `json:"id" binding:"required"`
		Label string `json:"label" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": msgInvalidRequest})
		return
	}

	if err := h.passkeys.Rename(c.Request.Context(), user.ID, req.ID, req.Label); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "Passkey not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Delete removes a credential the session user owns.
func (h *PasskeyHandlers) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		ID string `json:"id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": msgInvalidRequest})
		return
	}

	if err := h.passkeys.Delete(c.Request.Context(), user.ID, req.ID); err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "Passkey not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CheckHasPasskeys is a UI hint during the step-up flow: it reports
// whether the pending user owns any passkey, identified by the pending
// token rather than a session.
func (h *PasskeyHandlers) CheckHasPasskeys(c *gin.Context) {
	token := PendingCookie(c)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": msgSessionExpired})
		return
	}

	userID, err := h.orchestrator.PendingUserID(token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": msgSessionExpired})
		return
	}

	has, err := h.passkeys.HasCredentials(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check passkeys"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "hasPasskeys": has})
}

func credentialView(cred core.Credential) gin.H {
	return gin.H{
		"id":         cred.ID,
		"label":      cred.Meta.Label,
		"transports": cred.Meta.Transports,
		"createdAt":  cred.Meta.CreatedAt,
		"lastUsedAt": cred.Meta.LastUsedAt,
	}
}
