package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Vovarama1992/messenger-pos-bot/internal/logger"
	"github.com/Vovarama1992/messenger-pos-bot/internal/ordering"
)

const maxBodyBytes = 1 << 20

// ProfileConfigurer performs the one-off Messenger profile setup.
type ProfileConfigurer interface {
	SetupProfile(ctx context.Context) (json.RawMessage, error)
}

type Options struct {
	VerifyToken string
	AdminToken  string
	AppSecret   string
}

type Handler struct {
	svc     ordering.Service
	profile ProfileConfigurer
	opts    Options
	log     *slog.Logger
}

func NewHandler(svc ordering.Service, profile ProfileConfigurer, opts Options, log *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		profile: profile,
		opts:    opts,
		log:     log.With("component", "messenger_webhook"),
	}
}

// ServeWebhook is the single Messenger endpoint: GET for verification and
// profile setup, POST for event delivery.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("setup") == "profile" {
			h.setupProfile(w, r)
			return
		}
		h.verify(w, r)
	case http.MethodPost:
		if r.URL.Query().Get("setup") == "profile" {
			h.setupProfile(w, r)
			return
		}
		h.receive(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
	}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.opts.VerifyToken == "" ||
		q.Get("hub.mode") != "subscribe" ||
		q.Get("hub.verify_token") != h.opts.VerifyToken {
		h.log.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	h.log.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (h *Handler) setupProfile(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if h.opts.AdminToken == "" || token != h.opts.AdminToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	resp, err := h.profile.SetupProfile(r.Context())
	if err != nil {
		h.log.Error("profile setup failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.RecordFailure(h.log, logger.FailureDecode, err, "stage", "read_body")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if err := VerifySignature(h.opts.AppSecret, r.Header, body); err != nil {
		logger.RecordFailure(h.log, logger.FailureSignature, err)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		logger.RecordFailure(h.log, logger.FailureDecode, err, "stage", "decode_body")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if p.Object != objectPage {
		h.log.Debug("ignoring non-page object", "object", p.Object)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Events run one at a time so cart changes apply in delivery order.
	for _, entry := range p.Entry {
		for _, ev := range entry.Events() {
			h.handleEvent(r.Context(), ev)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleEvent runs one event. Errors and panics are recorded and never
// reach the HTTP response.
func (h *Handler) handleEvent(ctx context.Context, ev Event) {
	psid, in, ok := Classify(ev)
	if !ok {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.RecordFailure(h.log, logger.FailurePanic, fmt.Errorf("panic: %v", rec), "psid", psid)
		}
	}()

	if err := h.svc.HandleEvent(ctx, psid, in); err != nil {
		logger.RecordFailure(h.log, logger.FailureStoreWrite, err, "psid", psid)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
