package http

import (
	"github.com/gin-gonic/gin"

	"github.com/soteria-auth/soteria/internal/logger"
	"github.com/soteria-auth/soteria/ports"
	"github.com/soteria-auth/soteria/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(
	orchestrator *service.Orchestrator,
	passkeys *service.PasskeyManager,
	opts *service.Options,
	primary ports.PrimaryAuth,
	sessions ports.Sessions,
	log *logger.Logger,
) *gin.Engine {
	router := gin.Default()

	// Create handlers
	handlers := NewStepUpHandlers(orchestrator, opts, primary, sessions, log)

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", handlers.Login)
	}

	// Step-up routes driven by the pending cookie, no session yet
	stepup := router.Group("/stepup")
	{
		stepup.POST("/init-setup", handlers.InitSetupStatus)
		stepup.POST("/confirm-login", handlers.ConfirmLogin)
		stepup.GET("/skip-allow", handlers.SkipAllow)
		stepup.POST("/verify", SessionMiddleware(sessions), handlers.Verify)
	}

	if passkeys != nil {
		passkeyHandlers := NewPasskeyHandlers(passkeys, orchestrator, opts, sessions, log)

		stepup.POST("/check-has-passkeys", passkeyHandlers.CheckHasPasskeys)
		if opts.Passkeys.AllowDirectLogin {
			auth.POST("/login-with-passkey", passkeyHandlers.ConfirmLoginWithPasskey)
		}

		pk := router.Group("/passkeys")
		pk.POST("/sign-in-request", passkeyHandlers.SignInRequest)

		// Passkey management for an established session
		pk.Use(SessionMiddleware(sessions))
		{
			pk.POST("/register-request", passkeyHandlers.RegisterRequest)
			pk.POST("/finish-registering", passkeyHandlers.FinishRegistering)
			pk.GET("/list", passkeyHandlers.List)
			pk.POST("/rename", passkeyHandlers.Rename)
			pk.DELETE("/delete", passkeyHandlers.Delete)
		}
	}

	return router
}
