package httpx

import (
	"context"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/jtj60/dorado-exchange-sub004/internal/engine"
	"github.com/jtj60/dorado-exchange-sub004/internal/notify"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeEngine implements only what each test needs; the embedded interface
// panics on anything else.
type fakeEngine struct {
	Engine
	intake func(engine.IntakeRequest) (orders.PurchaseOrder, error)
	accept func(string) (orders.PurchaseOrder, error)
	reject func(string, string) (orders.PurchaseOrder, error)
	view   func(string) (engine.View, error)
	purge  func(string) error
	label  func(string) (orders.Shipment, error)
}

func (f *fakeEngine) Intake(ctx context.Context, req engine.IntakeRequest) (orders.PurchaseOrder, error) {
	return f.intake(req)
}

func (f *fakeEngine) Accept(ctx context.Context, id string) (orders.PurchaseOrder, error) {
	return f.accept(id)
}

func (f *fakeEngine) Reject(ctx context.Context, id, notes string) (orders.PurchaseOrder, error) {
	return f.reject(id, notes)
}

func (f *fakeEngine) IssueReturnLabel(ctx context.Context, id string) (orders.Shipment, error) {
	return f.label(id)
}

func (f *fakeEngine) View(ctx context.Context, id string) (engine.View, error) {
	return f.view(id)
}

func (f *fakeEngine) Purge(ctx context.Context, id string) error {
	return f.purge(id)
}

type fakeStatus map[string]notify.CachedStatus

func (f fakeStatus) Get(ctx context.Context, id string) (notify.CachedStatus, bool, error) {
	s, ok := f[id]
	return s, ok, nil
}

func serve(t *testing.T, eng Engine, status StatusReader, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(zap.NewNop())
	(&OrdersHandler{Engine: eng, Status: status, Log: zap.NewNop()}).Register(r)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder(t *testing.T) {
	var got engine.IntakeRequest
	eng := &fakeEngine{intake: func(req engine.IntakeRequest) (orders.PurchaseOrder, error) {
		got = req
		return orders.PurchaseOrder{ID: "o-1", Number: 1, UserID: req.UserID, Status: orders.StatusInTransit}, nil
	}}
	body := `{"user_id":"u-1","refiner_fee":"10","spots_locked":true,"tracking_number":"IN-1",
		"items":[{"kind":"scrap","metal":"gold","gross_weight":"10","weight_unit":"g","purity":"0.585"}]}`

	rec := serve(t, eng, nil, http.MethodPost, "/purchase-orders", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "u-1", got.UserID)
	require.True(t, got.SpotsLocked)
	require.True(t, got.RefinerFee.Equal(decimal.NewFromInt(10)))
	require.Len(t, got.Items, 1)
	require.True(t, got.Items[0].Purity.Equal(decimal.RequireFromString("0.585")))

	var resp OrderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "o-1", resp.ID)
	require.Equal(t, orders.StatusInTransit, resp.Status)
}

func TestCreateOrderBadRequests(t *testing.T) {
	eng := &fakeEngine{}
	require.Equal(t, http.StatusBadRequest, serve(t, eng, nil, http.MethodPost, "/purchase-orders", "{").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, eng, nil, http.MethodPost, "/purchase-orders", `{"user_id":"u-1"}`).Code)
}

func TestErrorMapping(t *testing.T) {
	for i, tc := range []struct {
		err  error
		code int
	}{
		{&orders.TransitionError{OrderID: "o-1", From: orders.StatusCompleted, To: orders.StatusAccepted}, http.StatusConflict},
		{fmt.Errorf("%w: missing premium", orders.ErrIncompleteAppraisal), http.StatusUnprocessableEntity},
		{orders.Downstream("carrier tracking", fmt.Errorf("timeout")), http.StatusBadGateway},
		{orders.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("intake %q: %w", "k-1", orders.ErrAlreadyExists), http.StatusConflict},
		{fmt.Errorf("%w: bad totals", orders.ErrSettlementInconsistency), http.StatusInternalServerError},
	} {
		t.Run(fmt.Sprintf("%d_%s", i, http.StatusText(tc.code)), func(t *testing.T) {
			eng := &fakeEngine{accept: func(string) (orders.PurchaseOrder, error) { return orders.PurchaseOrder{}, tc.err }}
			rec := serve(t, eng, nil, http.MethodPost, "/purchase-orders/o-1/accept", "")
			require.Equal(t, tc.code, rec.Code)
			require.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRejectPassesNotes(t *testing.T) {
	eng := &fakeEngine{reject: func(id, notes string) (orders.PurchaseOrder, error) {
		require.Equal(t, "o-1", id)
		require.Equal(t, "too low", notes)
		return orders.PurchaseOrder{ID: id, Status: orders.StatusRejected, Notes: notes}, nil
	}}
	rec := serve(t, eng, nil, http.MethodPost, "/purchase-orders/o-1/reject", `{"notes":"too low"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"REJECTED"`)
}

func TestGetStatusPrefersCache(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	views := 0
	eng := &fakeEngine{view: func(id string) (engine.View, error) {
		views++
		return engine.View{Aggregate: orders.Aggregate{Order: orders.PurchaseOrder{ID: id, Status: orders.StatusReceived, UpdatedAt: at}}}, nil
	}}
	cache := fakeStatus{"o-1": {OrderID: "o-1", Status: orders.StatusOfferSent, UpdatedAt: at}}

	rec := serve(t, eng, cache, http.MethodGet, "/purchase-orders/o-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"OFFER_SENT"`)
	require.Zero(t, views)

	rec = serve(t, eng, cache, http.MethodGet, "/purchase-orders/o-2/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"RECEIVED"`)
	require.Equal(t, 1, views)
}

func TestGetOrderView(t *testing.T) {
	prem := decimal.Zero
	eng := &fakeEngine{view: func(id string) (engine.View, error) {
		return engine.View{Aggregate: orders.Aggregate{
			Order: orders.PurchaseOrder{ID: id, Status: orders.StatusReceived},
			Items: []orders.Item{{
				ID: "i-1", Kind: orders.KindBullion, Metal: orders.Silver, ProductID: "eagle-1oz",
				Quantity: 10, UnitContent: decimal.NewFromInt(1), PriceSide: orders.SideBid, RefinerPremium: &prem,
			}},
		}}, nil
	}}

	rec := serve(t, eng, nil, http.MethodGet, "/purchase-orders/o-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ViewResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "o-1", resp.Order.ID)
	require.Len(t, resp.Items, 1)
	require.True(t, resp.Items[0].Content.Equal(decimal.NewFromInt(10)))
	require.Nil(t, resp.Breakdown)
}

func TestPurge(t *testing.T) {
	eng := &fakeEngine{purge: func(id string) error { return nil }}
	rec := serve(t, eng, nil, http.MethodDelete, "/purchase-orders/o-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIssueReturnLabel(t *testing.T) {
	eng := &fakeEngine{label: func(id string) (orders.Shipment, error) {
		require.Equal(t, "o-1", id)
		return orders.Shipment{
			ID: "s-2", Direction: orders.ShipmentReturn, Carrier: "fedex",
			TrackingNumber: "RET-1", LabelID: "LBL-1", Status: "ACTIVE",
		}, nil
	}}
	rec := serve(t, eng, nil, http.MethodPost, "/purchase-orders/o-1/return-label", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ShipmentResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "LBL-1", resp.LabelID)
	require.Equal(t, orders.ShipmentReturn, resp.Direction)
}
