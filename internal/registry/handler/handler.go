// Package handler is the thin HTTP layer over the registry facade. It
// delegates to the service without embedding business logic so transport
// concerns remain isolated.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"hokhau/internal/registry/models"
	dErrors "hokhau/pkg/domain-errors"
)

// RegistryService is the facade surface the handlers call.
type RegistryService interface {
	GetMembershipInfo(ctx context.Context, residentCode string) (*models.MembershipInfo, error)
	SeparateHousehold(ctx context.Context, req *models.SeparationRequest) (*models.SeparationResult, error)
	AddToHousehold(ctx context.Context, residentCode string, householdID int64, relationship string) error
	GetChangeHistory(ctx context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error)
	GetHousehold(ctx context.Context, householdID int64) (*models.Household, []models.Membership, error)
}

type Handler struct {
	service RegistryService
	logger  *slog.Logger
}

func New(service RegistryService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register wires the registry routes onto the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/residents/{code}/membership", h.handleGetMembershipInfo)
	r.Post("/separations", h.handleSeparate)
	r.Get("/households/{id}", h.handleGetHousehold)
	r.Post("/households/{id}/members", h.handleAddMember)
	r.Get("/history", h.handleGetHistory)
}

func (h *Handler) handleGetMembershipInfo(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	info, err := h.service.GetMembershipInfo(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleSeparate(w http.ResponseWriter, r *http.Request) {
	var req models.SeparationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	result, err := h.service.SeparateHousehold(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeValidation, "household id must be numeric"))
		return
	}
	household, members, err := h.service.GetHousehold(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"household": household,
		"members":   members,
	})
}

type addMemberRequest struct {
	ResidentCode string `json:"resident_code"`
	Relationship string `json:"relationship"`
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeValidation, "household id must be numeric"))
		return
	}
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if err := h.service.AddToHousehold(r.Context(), req.ResidentCode, id, req.Relationship); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"resident_code": req.ResidentCode,
		"household_id":  id,
	})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.service.GetChangeHistory(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.ChangeEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func historyFilterFromQuery(r *http.Request) (models.HistoryFilter, error) {
	q := r.URL.Query()
	filter := models.HistoryFilter{ResidentCode: q.Get("resident_code")}

	if raw := q.Get("household_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "household_id must be numeric")
		}
		filter.HouseholdID = id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "from must be RFC3339")
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "to must be RFC3339")
		}
		filter.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "limit must be numeric")
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "offset must be numeric")
		}
		filter.Offset = n
	}
	filter.Normalize()
	return filter, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation so all endpoints share one
// JSON error envelope. Transient failures are flagged so UIs can offer a
// retry.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)
	if status >= http.StatusInternalServerError && h.logger != nil {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     string(code),
		"message":   err.Error(),
		"retryable": dErrors.IsRetryable(err),
	})
}
