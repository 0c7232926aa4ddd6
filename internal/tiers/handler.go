package tiers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handler exposes the administrator CRUD surface for the tier table.
type Handler struct {
	store Store
}

// NewHandler creates an admin handler over the given store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/validate", h.handleValidate)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDeactivate)
	return r
}

type tierRequest struct {
	Name         string          `json:"name"`
	Level        int             `json:"level"`
	MinPoints    int64           `json:"min_points"`
	MaxPoints    *int64          `json:"max_points"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	Description  string          `json:"description"`
	Active       *bool           `json:"active"`
}

func (req *tierRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Level < 1 {
		return "level must be a positive integer"
	}
	if req.MinPoints < 0 {
		return "min_points must be non-negative"
	}
	if req.MaxPoints != nil && *req.MaxPoints <= req.MinPoints {
		return "max_points must be greater than min_points"
	}
	if req.DiscountRate.IsNegative() {
		return "discount_rate must be non-negative"
	}
	return ""
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	tier := Tier{
		Name:         req.Name,
		Level:        req.Level,
		MinPoints:    req.MinPoints,
		MaxPoints:    req.MaxPoints,
		DiscountRate: req.DiscountRate,
		Description:  req.Description,
		Active:       req.Active == nil || *req.Active,
	}
	if err := h.store.Create(r.Context(), &tier); err != nil {
		if errors.Is(err, ErrLevelTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tier)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tier ID")
		return
	}

	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	tier, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTierNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tier.Name = req.Name
	tier.Level = req.Level
	tier.MinPoints = req.MinPoints
	tier.MaxPoints = req.MaxPoints
	tier.DiscountRate = req.DiscountRate
	tier.Description = req.Description
	if req.Active != nil {
		tier.Active = *req.Active
	}

	if err := h.store.Update(r.Context(), tier); err != nil {
		switch {
		case errors.Is(err, ErrTierNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrLevelTaken):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tier ID")
		return
	}
	if err := h.store.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, ErrTierNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidate reports whether the active table classifies every
// non-negative balance into exactly one tier.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	table, err := h.store.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := Validate(table); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":  false,
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
