package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Enqueuer schedules ApplyAdjustments on the worker.
type Enqueuer interface {
	EnqueueAuditApply(ctx context.Context, auditID, actorID int64) (string, error)
}

// Handler exposes audit endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer Enqueuer
}

// NewHandler builds the audit handler. enqueuer may be nil, in which case ?async=1 is refused.
func NewHandler(logger *slog.Logger, service *Service, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/audits", func(r chi.Router) {
		r.Get("/", h.listAudits)
		r.Post("/", h.createAudit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getAudit)
			r.Get("/items", h.listItems)
			r.Post("/items", h.addItem)
			r.Post("/complete", h.complete)
			r.Post("/cancel", h.cancel)
			r.Post("/apply", h.apply)
		})
	})
}

type createRequest struct {
	WarehouseType string `json:"warehouse_type" validate:"required"`
	Scope         string `json:"scope" validate:"required"`
	TargetID      int64  `json:"target_id" validate:"gte=0"`
	Notes         string `json:"notes" validate:"max=1000"`
}

type itemRequest struct {
	ItemID         int64            `json:"item_id" validate:"required,gt=0"`
	LocationID     int64            `json:"location_id" validate:"gte=0"`
	SystemQuantity *decimal.Decimal `json:"system_quantity"`
	ActualQuantity decimal.Decimal  `json:"actual_quantity"`
	Notes          string           `json:"notes" validate:"max=1000"`
}

func (h *Handler) createAudit(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := ParseScope(req.Scope)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.CreateAudit(r.Context(), CreateInput{
		WarehouseType: req.WarehouseType,
		Scope:         scope,
		TargetID:      req.TargetID,
		Notes:         req.Notes,
		ActorID:       actor,
	})
	if err != nil {
		h.fail(w, "create audit", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/audits/%d", a.ID))
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) listAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	offset, err := httpx.QueryInt64(r, "offset")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListAudits(r.Context(), Filter{
		WarehouseType: q.Get("warehouse_type"),
		Status:        Status(q.Get("status")),
		Limit:         int(limit),
		Offset:        int(offset),
	})
	if err != nil {
		h.fail(w, "list audits", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.GetAudit(r.Context(), id)
	if err != nil {
		h.fail(w, "get audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListItems(r.Context(), id)
	if err != nil {
		h.fail(w, "list audit items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddItem(r.Context(), AddItemInput{
		AuditID:        id,
		ItemID:         req.ItemID,
		LocationID:     req.LocationID,
		SystemQuantity: req.SystemQuantity,
		ActualQuantity: req.ActualQuantity,
		Notes:          req.Notes,
		ActorID:        actor,
	})
	if err != nil {
		h.fail(w, "add audit item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sum, err := h.service.CompleteAudit(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "complete audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	a, err := h.service.CancelAudit(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "cancel audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.applyAsync(w, r, id, actor)
		return
	}
	posted, err := h.service.ApplyAdjustments(r.Context(), id, actor)
	var partial *PartialApplyError
	if errors.As(err, &partial) {
		h.logger.Warn("audit apply stopped", slog.Int64("audit_id", id), slog.Any("error", err))
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:      "Partial Apply",
			Status:     http.StatusConflict,
			Detail:     partial.Error(),
			Extensions: partial.ProblemFields(),
		})
		return
	}
	if err != nil {
		h.fail(w, "apply audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"audit_id": id, "data": posted})
}

func (h *Handler) applyAsync(w http.ResponseWriter, r *http.Request, id, actor int64) {
	if h.enqueuer == nil {
		httpx.RespondError(w, fmt.Errorf("%w: asynchronous apply is not configured", shared.ErrValidation))
		return
	}
	if _, err := h.service.GetAudit(r.Context(), id); err != nil {
		h.fail(w, "apply audit", err)
		return
	}
	taskID, err := h.enqueuer.EnqueueAuditApply(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "enqueue audit apply", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"audit_id": id, "task_id": taskID})
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return actor, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("audit request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
