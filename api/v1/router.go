package v1

import (
	"sessionfleet/api/v1/accounts"
	"sessionfleet/api/v1/auth"
	"sessionfleet/api/v1/middleware"
	"sessionfleet/internal/config"
	"sessionfleet/internal/engine"
	"sessionfleet/internal/httpx"
	"sessionfleet/internal/pause"
	"sessionfleet/internal/secret"
	"sessionfleet/internal/session"
	"sessionfleet/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Deps carries everything the API surface needs.
type Deps struct {
	Config   *config.Config
	Engine   *engine.Manager
	Accounts *store.Accounts
	Pauses   *pause.Registry
	Factory  *session.Factory
	Sealer   *secret.Box
	Logger   *logrus.Entry

	// RequestRestart asks the composition root for a supervised restart.
	RequestRestart func()
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, d Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(d.Config))
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)
			protected.POST("/restart", restartHandler(d.RequestRestart))

			accountsHandler := accounts.NewHandler(d.Engine, d.Accounts, d.Pauses, d.Logger)
			flowHandler := accounts.NewFlowHandler(d.Engine, d.Factory, d.Accounts, d.Sealer, d.Logger)
			accountsGroup := protected.Group("/accounts")
			{
				accountsGroup.GET("", accountsHandler.List)
				accountsGroup.GET("/backup", accountsHandler.Backup)
				accountsGroup.POST("/onboard", accountsHandler.Onboard)
				accountsGroup.POST("/restore-all", accountsHandler.RestoreAll)
				accountsGroup.POST("/stop-all", accountsHandler.StopAll)
				accountsGroup.POST("/delete", accountsHandler.Delete)
				accountsGroup.POST("/rename", accountsHandler.Rename)
				accountsGroup.POST("/cadence", accountsHandler.SetCadence)
				accountsGroup.POST("/toggle-destroy", accountsHandler.ToggleDestroy)
				accountsGroup.POST("/pause", accountsHandler.Pause)
				accountsGroup.POST("/restore", accountsHandler.RestoreArchive)
				accountsGroup.POST("/refresh-profiles", accountsHandler.RefreshProfiles)
				accountsGroup.POST("/2fa/rotate", accountsHandler.RotateTwoFactor)

				accountsGroup.POST("/login-flow/start", flowHandler.Start)
				accountsGroup.POST("/login-flow/advance", flowHandler.Advance)

				// Registered last so it never shadows the fixed paths above.
				accountsGroup.GET("/:identifier", accountsHandler.Detail)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"username": username,
		"role":     role,
	})
}

// restartHandler acknowledges first, then triggers the supervised restart.
func restartHandler(requestRestart func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestRestart == nil {
			httpx.FailErr(c, httpx.ErrStateConflict("restart not available"))
			return
		}
		httpx.OKMsg(c, "restart initiated", nil)
		go requestRestart()
	}
}
