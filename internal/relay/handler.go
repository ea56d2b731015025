package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/evolution"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	svc        *Service
	dispatcher *Dispatcher
	gateway    Gateway
	logger     *slog.Logger
}

func NewHandler(svc *Service, dispatcher *Dispatcher, gateway Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		svc:        svc,
		dispatcher: dispatcher,
		gateway:    gateway,
		logger:     logger.With("component", "http"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "WhatsApp AI bridge is running"})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"sessions":         h.svc.Store().Len(),
		"history_capacity": h.svc.Store().Capacity(),
	})
}

// HandleWebhook - вход от Evolution. Ответ не ждёт обработки, просто ACK.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body unreadable", "error", err)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	h.dispatcher.Submit(body)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.svc.Store().List()})
}

func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !h.svc.Store().Clear(id) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Session " + id + " cleared",
	})
}

type sendMessageRequest struct {
	Number  string         `json:"number"`
	Text    string         `json:"text"`
	Options map[string]any `json:"options,omitempty"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Number == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing number or text")
		return
	}

	data, err := h.gateway.SendText(r.Context(), req.Number, req.Text, req.Options)
	if err != nil {
		h.logger.Error("send message failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

type sendMediaRequest struct {
	Number   string         `json:"number"`
	Media    string         `json:"media"`
	Caption  string         `json:"caption,omitempty"`
	FileName string         `json:"fileName,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

func (h *Handler) SendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Number == "" || req.Media == "" {
		writeError(w, http.StatusBadRequest, "missing number or media")
		return
	}

	data, err := h.gateway.SendMedia(r.Context(), req.Number, evolution.Media{
		Media:    req.Media,
		Caption:  req.Caption,
		FileName: req.FileName,
	}, req.Options)
	if err != nil {
		h.logger.Error("send media failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

func (h *Handler) SetupWebhook(w http.ResponseWriter, r *http.Request) {
	data, err := h.gateway.SetWebhook(r.Context(), chi.URLParam(r, "instance"))
	if err != nil {
		h.logger.Error("setup webhook failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

func (h *Handler) InstanceInfo(w http.ResponseWriter, r *http.Request) {
	data, err := h.gateway.InstanceInfo(r.Context(), chi.URLParam(r, "instance"))
	if err != nil {
		h.logger.Error("instance info failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

type chatRequest struct {
	Messages []ai.Message `json:"messages"`
}

// Chat talks to the completion provider directly, bypassing sessions.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is empty")
		return
	}
	for _, m := range req.Messages {
		if m.Role != ai.RoleUser && m.Role != ai.RoleAssistant {
			writeError(w, http.StatusBadRequest, "role must be user or assistant")
			return
		}
	}

	res, err := h.svc.Completer().Complete(r.Context(), req.Messages, h.svc.cfg.Options)
	if err != nil {
		h.logger.Error("direct chat failed", "kind", ai.KindOf(err), "error", err)
		var ce *ai.CompletionError
		if errors.As(err, &ce) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": res.Content})
}

func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	j := h.svc.Journal()
	if j == nil {
		writeError(w, http.StatusNotFound, "journal is disabled")
		return
	}
	limit, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))

	entries, err := j.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("journal read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
