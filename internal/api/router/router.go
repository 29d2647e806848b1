package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/lawnloop/lawnloop-platform/internal/http/middleware"
	"github.com/lawnloop/lawnloop-platform/internal/messaging"
	"github.com/lawnloop/lawnloop-platform/internal/salesvoice"
	"github.com/lawnloop/lawnloop-platform/internal/voice"
	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger            *logging.Logger
	MessagingHandler  *messaging.Handler
	VoiceHandler      *voice.Handler
	SalesVoiceHandler *salesvoice.Handler
	MetricsHandler    http.Handler

	// Webhook rate limit; zero disables it.
	RatePerSecond float64
	Burst         int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/webhooks", func(hooks chi.Router) {
		if cfg.RatePerSecond > 0 && cfg.Burst > 0 {
			hooks.Use(httpmiddleware.RateLimit(cfg.RatePerSecond, cfg.Burst))
		}
		if cfg.MessagingHandler != nil {
			hooks.With(httpmiddleware.ProviderAck(cfg.Logger, "application/xml", httpmiddleware.AckTwiML)).
				Post("/sms", cfg.MessagingHandler.TwilioWebhook)
		}
		if cfg.VoiceHandler != nil {
			hooks.With(httpmiddleware.ProviderAck(cfg.Logger, "text/xml; charset=utf-8", httpmiddleware.AckTwiML)).
				Post("/voice", cfg.VoiceHandler.TwilioWebhook)
		}
		if cfg.SalesVoiceHandler != nil {
			hooks.With(httpmiddleware.ProviderAck(cfg.Logger, "application/json", httpmiddleware.AckJSON)).
				Post("/salescall", cfg.SalesVoiceHandler.Webhook)
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
