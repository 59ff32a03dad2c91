package messenger

import "github.com/go-chi/chi/v5"

const WebhookPath = "/api/messenger"

func RegisterRoutes(r chi.Router, h *Handler) {
	r.HandleFunc(WebhookPath, h.ServeWebhook)
}
