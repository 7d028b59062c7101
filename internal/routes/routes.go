package routes

import (
	"net/http"

	"github.com/lumenapp/lumen/internal/app"
	"github.com/lumenapp/lumen/internal/handler"
	"github.com/lumenapp/lumen/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	auth := handler.NewAuthHandler(app.AuthService, app.Cfg)
	user := handler.NewUserHandler(app.UserService)
	dashboard := handler.NewDashboardHandler()

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth - token lifecycle
	mux.HandleFunc("POST /api/auth/register", auth.Register)
	mux.HandleFunc("POST /api/auth/verify-email", auth.VerifyEmail)
	mux.HandleFunc("POST /api/auth/forgot-password", auth.ForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", auth.ResetPassword)

	// Auth - sessions
	mux.HandleFunc("POST /api/auth/login", auth.Login)
	mux.HandleFunc("POST /api/auth/token-login", auth.TokenLogin)
	mux.HandleFunc("POST /api/auth/logout", auth.Logout)

	// OAuth
	mux.HandleFunc("GET /auth/google", auth.GoogleAuth)
	mux.HandleFunc("GET /auth/google/callback", auth.GoogleCallback)
	mux.HandleFunc("GET /auth/github", auth.GitHubAuth)
	mux.HandleFunc("GET /auth/github/callback", auth.GitHubCallback)

	// Protected
	mux.HandleFunc("GET /api/user/me", middleware.RequireAuth(user.Me))
	mux.HandleFunc("PATCH /api/user/profile", middleware.RequireAuth(user.UpdateProfile))
	mux.HandleFunc("POST /api/user/password", middleware.RequireAuth(user.ChangePassword))
	mux.HandleFunc("GET /api/dashboard", middleware.RequireAuth(dashboard.Dashboard))

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.Config(app.Cfg),
		middleware.RequestLogging,
		middleware.AuthMiddleware(app.AuthService, app.UserService),
	)

	return handler
}
