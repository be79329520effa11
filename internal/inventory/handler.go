package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler exposes the transaction engine and stock queries over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.listTransactions)
		r.Post("/purchase", h.postPurchase)
		r.Post("/issue", h.postIssue)
		r.Post("/transfer", h.postTransfer)
		r.Post("/return", h.postReturn)
		r.Get("/number/{number}", h.getTransactionByNumber)
		r.Get("/{id}", h.getTransaction)
	})
	r.Route("/stock/{itemID}", func(r chi.Router) {
		r.Get("/", h.listStock)
		r.Get("/{locationID}", h.getStock)
	})
}

type purchaseRequest struct {
	ItemID        int64           `json:"item_id" validate:"required,gt=0"`
	LocationID    int64           `json:"location_id" validate:"gte=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	InvoiceNumber string          `json:"invoice_number" validate:"max=64"`
	Supplier      string          `json:"supplier" validate:"max=200"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

type recipientRequest struct {
	Kind string `json:"kind" validate:"required,oneof=employee equipment project"`
	ID   int64  `json:"id" validate:"gte=0"`
	Name string `json:"name" validate:"max=200"`
}

type issueRequest struct {
	ItemID     int64             `json:"item_id" validate:"required,gt=0"`
	LocationID int64             `json:"location_id" validate:"gte=0"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Recipient  *recipientRequest `json:"recipient" validate:"omitempty"`
	Notes      string            `json:"notes" validate:"max=1000"`
}

type transferRequest struct {
	ItemID         int64           `json:"item_id" validate:"required,gt=0"`
	FromLocationID int64           `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64           `json:"to_location_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity"`
	Notes          string          `json:"notes" validate:"max=1000"`
}

type returnRequest struct {
	ItemID        int64           `json:"item_id" validate:"required,gt=0"`
	LocationID    int64           `json:"location_id" validate:"gte=0"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reason        string          `json:"reason" validate:"required,max=500"`
	SourceIssueID int64           `json:"source_issue_id" validate:"gte=0"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

func (h *Handler) postPurchase(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req purchaseRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tx, err := h.service.PostPurchase(r.Context(), PurchaseInput{
		ItemID:         req.ItemID,
		LocationID:     req.LocationID,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		InvoiceNumber:  req.InvoiceNumber,
		Supplier:       req.Supplier,
		Notes:          req.Notes,
		ActorID:        actor,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	h.respondPosted(w, "purchase", tx, err)
}

func (h *Handler) postIssue(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req issueRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := IssueInput{
		ItemID:         req.ItemID,
		LocationID:     req.LocationID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		ActorID:        actor,
		IdempotencyKey: httpx.IdempotencyKey(r),
	}
	if req.Recipient != nil {
		input.Recipient = &Recipient{Kind: RecipientKind(req.Recipient.Kind), ID: req.Recipient.ID, Name: req.Recipient.Name}
	}
	tx, err := h.service.PostIssue(r.Context(), input)
	h.respondPosted(w, "issue", tx, err)
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transferRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tx, err := h.service.PostTransfer(r.Context(), TransferInput{
		ItemID:         req.ItemID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		ActorID:        actor,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	h.respondPosted(w, "transfer", tx, err)
}

func (h *Handler) postReturn(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req returnRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tx, err := h.service.PostReturn(r.Context(), ReturnInput{
		ItemID:         req.ItemID,
		LocationID:     req.LocationID,
		Quantity:       req.Quantity,
		Reason:         req.Reason,
		SourceIssueID:  req.SourceIssueID,
		Notes:          req.Notes,
		ActorID:        actor,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	h.respondPosted(w, "return", tx, err)
}

func (h *Handler) respondPosted(w http.ResponseWriter, op string, tx Transaction, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+fmt.Sprint(tx.ID))
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.fail(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) getTransactionByNumber(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetTransactionByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, "get transaction by number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func parseTransactionFilter(r *http.Request) (TransactionFilter, error) {
	q := r.URL.Query()
	filter := TransactionFilter{
		WarehouseType: strings.ToUpper(strings.TrimSpace(q.Get("warehouse_type"))),
		Type:          TransactionType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
	}
	ints := []struct {
		name string
		dst  *int64
	}{
		{"item_id", &filter.ItemID},
		{"location_id", &filter.LocationID},
		{"actor_id", &filter.ActorID},
	}
	for _, p := range ints {
		v, err := httpx.QueryInt64(r, p.name)
		if err != nil {
			return TransactionFilter{}, err
		}
		*p.dst = v
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		return TransactionFilter{}, err
	}
	offset, err := httpx.QueryInt64(r, "offset")
	if err != nil {
		return TransactionFilter{}, err
	}
	filter.Limit, filter.Offset = int(limit), int(offset)
	if filter.From, err = queryTime(q.Get("from")); err != nil {
		return TransactionFilter{}, err
	}
	if filter.To, err = queryTime(q.Get("to")); err != nil {
		return TransactionFilter{}, err
	}
	return filter, nil
}

// queryTime accepts RFC3339 timestamps or plain dates.
func queryTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time %q", shared.ErrValidation, raw)
	}
	return t, nil
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListStock(r.Context(), itemID)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	total := decimal.Zero
	for _, s := range out {
		total = total.Add(s.Quantity)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out, "total": total})
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	locationID, err := httpx.IDParam(r, "locationID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.service.GetStock(r.Context(), itemID, locationID)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, Stock{ItemID: itemID, LocationID: locationID, Quantity: qty})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("inventory request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
