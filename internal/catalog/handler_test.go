package catalog

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	r.Use(httpx.ActorMiddleware)
	h.MountRoutes(r)
	return r, f
}

func TestHandlerCreateItem(t *testing.T) {
	router, f := newTestRouter(t)

	body := `{"category_id":` + jsonInt(f.category.ID) + `,"location_id":` + jsonInt(f.location.ID) + `,"name":"Engine oil","unit_price":"10.00"}`
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body))
	req.Header.Set(httpx.HeaderActorID, "7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var it Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &it))
	require.Equal(t, "OIL-001", it.Code)
}

func TestHandlerRequiresActor(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/categories", strings.NewReader(`{"warehouse_type":"OG","code":"SP","name":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDuplicateCategoryConflict(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/categories", strings.NewReader(`{"warehouse_type":"OG","code":"oil","name":"Oils"}`))
	req.Header.Set(httpx.HeaderActorID, "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerLookupNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/lookup?barcode=nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
