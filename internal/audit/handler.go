package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler exposes the paginated audit export for external reporting tooling.
type Handler struct {
	logger *Logger
	log    *zap.Logger
}

func NewHandler(logger *Logger, log *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
		log:    log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit/events", h.listEvents)
}

type listResponse struct {
	Events   []Entry `json:"events"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		EventType: r.URL.Query().Get("event_type"),
	}

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		uid := uint(id)
		filter.UserID = &uid
	}

	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}

	entries, total, err := h.logger.List(filter)
	if err != nil {
		h.log.Error("failed to list security events", zap.Error(err))
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listResponse{
		Events:   entries,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}
