package points

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"memberledger/internal/tiers"
	"memberledger/pkg/ledgerstore"
)

// Handler exposes the ledger service over HTTP.
type Handler struct {
	service Service
}

// NewHandler creates a handler over the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the points endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/points/events", h.handleRecordEvent)
	r.Get("/users/{id}/balance", h.handleGetBalance)
	r.Get("/users/{id}/entries", h.handleListEntries)
	return r
}

// RateLimit rejects requests beyond the limiter's budget with 429.
func RateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type recordEventRequest struct {
	UserID      string `json:"user_id"`
	Delta       int64  `json:"delta"`
	Type        string `json:"type"`
	Description string `json:"description"`
	RefID       string `json:"ref_id"`
}

func (h *Handler) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	result, err := h.service.RecordEvent(r.Context(), userID, req.Delta, EntryType(req.Type), req.Description, req.RefID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// A replayed duplicate returns the original result, not a fresh
	// creation.
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	view, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 50)

	entries, err := h.service.ListEntries(r.Context(), userID, page, perPage)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":  entries,
		"page":     page,
		"per_page": perPage,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidType), errors.Is(err, ErrZeroDelta):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledgerstore.ErrInsufficientPoints):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tiers.ErrNoMatchingTier):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, ledgerstore.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
