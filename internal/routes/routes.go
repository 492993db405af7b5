package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/crewshift/pinlock/internal/handlers"
	"github.com/crewshift/pinlock/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, lockoutHandler *handlers.LockoutHandler) {
	// Rate limiting config for unlock endpoints
	rateLimitConfig := middleware.DefaultUnlockRateLimit()

	router.Post("/attempts", lockoutHandler.RecordAttempt)
	router.Get("/stats", lockoutHandler.GetStats)

	router.Route("/principals/{id}", func(r chi.Router) {
		r.Get("/status", lockoutHandler.GetStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Post("/unlock", lockoutHandler.Unlock)
			r.Post("/emergency-unlock", lockoutHandler.EmergencyUnlock)
			r.Post("/manager-unlock", lockoutHandler.ManagerUnlock)
		})
	})
}
