package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bazarhub/server/internal/auth"
	"github.com/bazarhub/server/internal/http/handlers"
	"github.com/bazarhub/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(authHandler *handlers.AuthHandler, jwtService *auth.JWTService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/providers", authHandler.HandleProviders)
		r.Post("/otp/request", authHandler.HandleRequestOTP)
		r.Post("/login/phone", authHandler.HandlePhoneLogin)
		r.Post("/login/telegram", authHandler.HandleTelegramLogin)
		r.Post("/login/google", authHandler.HandleGoogleLogin)
		r.Post("/login/password", authHandler.HandlePasswordLogin)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)

		// Linking requires an authenticated account
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService))
			r.Post("/link/telegram", authHandler.HandleLinkTelegram)
			r.Post("/link/google", authHandler.HandleLinkGoogle)
			r.Delete("/link/{provider}", authHandler.HandleUnlink)
		})
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
