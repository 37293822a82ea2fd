package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"gradeup-exam-service/internal/app"
	"gradeup-exam-service/internal/domain"
)

// HistoryHandler serves past results of a user as JSON.
type HistoryHandler struct {
	service *app.ExamService
	log     zerolog.Logger
}

func NewHistoryHandler(service *app.ExamService, log zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{service: service, log: log.With().Str("component", "history").Logger()}
}

// ServeHTTP lists the user's results on GET and forgets them on DELETE.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		if err := h.service.ClearHistory(r.Context(), userID); err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("clear history")
			http.Error(w, "failed to clear history", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	results, err := h.service.History(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("load history")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []domain.ExamResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}
