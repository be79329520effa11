package catalog

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Handler wires HTTP endpoints for catalog master data.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.createCategory)
	})
	r.Route("/locations", func(r chi.Router) {
		r.Get("/", h.listLocations)
		r.Post("/", h.createLocation)
		r.Delete("/{id}", h.deleteLocation)
	})
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Get("/lookup", h.lookupItem)
		r.Get("/low-stock", h.lowStock)
		r.Get("/{id}", h.getItem)
		r.Patch("/{id}", h.updateItem)
		r.Delete("/{id}", h.deleteItem)
	})
}

type categoryRequest struct {
	WarehouseType string `json:"warehouse_type" validate:"required"`
	Code          string `json:"code" validate:"required,max=10"`
	Name          string `json:"name" validate:"required,max=120"`
}

type locationRequest struct {
	WarehouseType string `json:"warehouse_type" validate:"required"`
	Code          string `json:"code" validate:"required,max=32"`
	Name          string `json:"name" validate:"required,max=120"`
	Description   string `json:"description" validate:"max=500"`
}

type itemRequest struct {
	CategoryID      int64           `json:"category_id" validate:"required,gt=0"`
	LocationID      int64           `json:"location_id" validate:"required,gt=0"`
	Name            string          `json:"name" validate:"required,max=200"`
	Barcode         string          `json:"barcode" validate:"max=64"`
	Unit            string          `json:"unit" validate:"max=16"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
}

type itemPatchRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=200"`
	Barcode     *string          `json:"barcode" validate:"omitempty,max=64"`
	Unit        *string          `json:"unit" validate:"omitempty,max=16"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	MinQuantity *decimal.Decimal `json:"min_quantity"`
	LocationID  *int64           `json:"location_id" validate:"omitempty,gt=0"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req categoryRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.CreateCategory(r.Context(), CategoryInput{WarehouseType: req.WarehouseType, Code: req.Code, Name: req.Name, ActorID: actor})
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListCategories(r.Context(), r.URL.Query().Get("warehouse_type"))
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req locationRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	l, err := h.service.CreateLocation(r.Context(), LocationInput{
		WarehouseType: req.WarehouseType,
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		ActorID:       actor,
	})
	if err != nil {
		h.fail(w, "create location", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, l)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListLocations(r.Context(), r.URL.Query().Get("warehouse_type"))
	if err != nil {
		h.fail(w, "list locations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) deleteLocation(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.SoftDeleteLocation(r.Context(), id, actor); err != nil {
		h.fail(w, "delete location", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	it, err := h.service.CreateItem(r.Context(), ItemInput{
		CategoryID:      req.CategoryID,
		LocationID:      req.LocationID,
		Name:            req.Name,
		Barcode:         req.Barcode,
		Unit:            req.Unit,
		UnitPrice:       req.UnitPrice,
		MinQuantity:     req.MinQuantity,
		InitialQuantity: req.InitialQuantity,
		ActorID:         actor,
	})
	if err != nil {
		h.fail(w, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, it)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ItemFilter{
		WarehouseType:   q.Get("warehouse_type"),
		Query:           q.Get("q"),
		IncludeInactive: q.Get("include_inactive") == "true",
	}
	var err error
	if filter.CategoryID, err = httpx.QueryInt64(r, "category_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.QueryInt64(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
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
	filter.Limit, filter.Offset = int(limit), int(offset)
	out, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.fail(w, "list items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	it, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) lookupItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		it  Item
		err error
	)
	switch {
	case strings.TrimSpace(q.Get("barcode")) != "":
		it, err = h.service.GetItemByBarcode(r.Context(), q.Get("barcode"))
	default:
		it, err = h.service.GetItemByCode(r.Context(), q.Get("warehouse_type"), q.Get("code"))
	}
	if err != nil {
		h.fail(w, "lookup item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.LowStock(r.Context(), r.URL.Query().Get("warehouse_type"))
	if err != nil {
		h.fail(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
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
	var req itemPatchRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	it, err := h.service.UpdateItem(r.Context(), id, ItemPatch{
		Name:        req.Name,
		Barcode:     req.Barcode,
		Unit:        req.Unit,
		UnitPrice:   req.UnitPrice,
		MinQuantity: req.MinQuantity,
		LocationID:  req.LocationID,
		ActorID:     actor,
	})
	if err != nil {
		h.fail(w, "update item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.SoftDeleteItem(r.Context(), id, actor); err != nil {
		h.fail(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("catalog request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
