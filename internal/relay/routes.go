package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/", h.Root)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.Get("/health", h.Health)

	r.Post("/webhook", h.HandleWebhook)

	r.Get("/sessions", h.ListSessions)
	r.Delete("/sessions/{sessionID}", h.ClearSession)

	r.Post("/send-message", h.SendMessage)
	r.Post("/send-media", h.SendMedia)
	r.Post("/setup-webhook/{instance}", h.SetupWebhook)
	r.Get("/instances/{instance}", h.InstanceInfo)

	r.Post("/chat", h.Chat)
	r.Get("/journal", h.Journal)
}
