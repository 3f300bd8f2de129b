// Package router wires the HTTP surface: public health and metrics, the
// authenticated chat endpoints and the admin API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/heartclinic/clinic-assistant/internal/chat"
	"github.com/heartclinic/clinic-assistant/internal/http/handlers"
	httpmiddleware "github.com/heartclinic/clinic-assistant/internal/http/middleware"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *chat.Handler
	AdminAppointments  *handlers.AdminAppointmentsHandler
	AdminClosures      *handlers.AdminClosuresHandler
	AdminMedications   *handlers.AdminMedicationsHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	CognitoRegion     string
	CognitoUserPoolID string
	CognitoClientID   string
	ProfileDirectory  httpmiddleware.ProfileDirectory
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	auth := httpmiddleware.CognitoAuth(httpmiddleware.CognitoConfig{
		Region:     cfg.CognitoRegion,
		UserPoolID: cfg.CognitoUserPoolID,
		ClientID:   cfg.CognitoClientID,
	}, cfg.ProfileDirectory, cfg.Logger)

	// Public endpoints.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Patient chat, behind Cognito auth.
	if cfg.ChatHandler != nil {
		r.Route("/chat", func(r chi.Router) {
			r.Use(auth)
			r.Post("/message", cfg.ChatHandler.HandleMessage)
			r.Get("/history", cfg.ChatHandler.HandleHistory)
			r.Get("/ws", cfg.ChatHandler.HandleWebSocket)
		})
	}

	// Admin API, behind auth plus the admin gate.
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth)
		r.Use(httpmiddleware.RequireAdmin())

		if cfg.AdminAppointments != nil {
			r.Get("/appointments", cfg.AdminAppointments.List)
			r.Patch("/appointments/{id}/status", cfg.AdminAppointments.SetStatus)
		}
		if cfg.AdminClosures != nil {
			r.Get("/closures", cfg.AdminClosures.List)
			r.Post("/closures", cfg.AdminClosures.Add)
			r.Delete("/closures/{date}", cfg.AdminClosures.Remove)
		}
		if cfg.AdminMedications != nil {
			r.Get("/patients", cfg.AdminMedications.Patients)
			r.Get("/medications", cfg.AdminMedications.List)
			r.Post("/medications", cfg.AdminMedications.Add)
		}
	})

	return r
}
