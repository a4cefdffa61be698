package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/RichardoC/creditchat/internal/conversation"
	"github.com/RichardoC/creditchat/internal/models"
	"go.uber.org/zap"
)

const defaultUsageLimit = 20

// Sessions resolves the conversation of a user.
type Sessions interface {
	Resolve(userID string) *conversation.Conversation
}

// UsageStore is the read side of the usage ledger.
type UsageStore interface {
	UsageSummary(ctx context.Context, customerID string) (models.UsageSummary, error)
	RecentUsage(ctx context.Context, customerID string, limit int) ([]models.UsageEntry, error)
}

type Handler struct {
	sessions Sessions
	usage    UsageStore
	userID   string
	logger   *zap.Logger
}

// NewHandler creates the HTTP handlers. Every request is served from the
// conversation of userID. usage may be nil when no ledger is configured.
func NewHandler(sessions Sessions, usage UsageStore, userID string, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		usage:    usage,
		userID:   userID,
		logger:   logger,
	}
}

type ChatRequest struct {
	Message string `json:"message"`
}

type SystemPromptRequest struct {
	Prompt string `json:"prompt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type HistoryResponse struct {
	Messages []models.Message `json:"messages"`
}

type UsageResponse struct {
	Summary models.UsageSummary `json:"summary"`
	Recent  []models.UsageEntry `json:"recent"`
}

// HandleChatStream streams the answer to a chat message as chunked plain text.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Message is required"})
		return
	}

	conv := h.sessions.Resolve(h.userID)
	rc := http.NewResponseController(w)

	started := false
	for fragment, err := range conv.StreamMessage(r.Context(), req.Message) {
		if err != nil {
			h.logger.Error("Error processing streaming chat",
				zap.Error(err),
				zap.Bool("partial", started),
				zap.String("path", r.URL.Path))
			if !started {
				h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to process message"})
			}
			return
		}

		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			h.logger.Debug("Client went away during stream", zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug("Failed to flush stream", zap.Error(err))
		}
	}

	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.sessions.Resolve(h.userID).Reset()
	h.logger.Debug("Conversation reset", zap.String("userId", h.userID))
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messages := h.sessions.Resolve(h.userID).History()
	if messages == nil {
		messages = []models.Message{}
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{Messages: messages})
}

func (h *Handler) HandleSystemPrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SystemPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Prompt is required"})
		return
	}

	h.sessions.Resolve(h.userID).UpdateSystemPrompt(req.Prompt)
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Handler) HandleBilling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.sessions.Resolve(h.userID).BillingInfo(r.Context())
	if snapshot == nil {
		h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Billing information unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// HandleUsage reports the ledger totals and the most recent turns. The number
// of turns is taken from the optional "limit" query parameter.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.usage == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Usage ledger disabled"})
		return
	}

	limit := defaultUsageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid limit"})
			return
		}
		limit = n
	}

	customerID := h.sessions.Resolve(h.userID).CustomerID()
	summary, err := h.usage.UsageSummary(r.Context(), customerID)
	if err != nil {
		h.logger.Error("Failed to get usage summary", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}
	recent, err := h.usage.RecentUsage(r.Context(), customerID, limit)
	if err != nil {
		h.logger.Error("Failed to get recent usage", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	h.writeJSON(w, http.StatusOK, UsageResponse{Summary: summary, Recent: recent})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
