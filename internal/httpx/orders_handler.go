package httpx

import (
	"context"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/jtj60/dorado-exchange-sub004/internal/engine"
	"github.com/jtj60/dorado-exchange-sub004/internal/notify"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type Engine interface {
	Intake(ctx context.Context, req engine.IntakeRequest) (orders.PurchaseOrder, error)
	MarkReceived(ctx context.Context, orderID string) (orders.PurchaseOrder, error)
	CaptureRefinerSnapshot(ctx context.Context, orderID string, metal orders.Metal, bid, ask decimal.Decimal) (orders.Snapshot, error)
	SetRefinerPremium(ctx context.Context, orderID, itemID string, premium decimal.Decimal) (orders.Item, error)
	SendOffer(ctx context.Context, orderID string) (orders.PurchaseOrder, settlement.Breakdown, error)
	Accept(ctx context.Context, orderID string) (orders.PurchaseOrder, error)
	Reject(ctx context.Context, orderID, notes string) (orders.PurchaseOrder, error)
	IssueReturnLabel(ctx context.Context, orderID string) (orders.Shipment, error)
	Cancel(ctx context.Context, orderID string) (orders.PurchaseOrder, error)
	ConfirmPayout(ctx context.Context, orderID, method string) (orders.PurchaseOrder, error)
	Complete(ctx context.Context, orderID string) (orders.PurchaseOrder, error)
	Purge(ctx context.Context, orderID string) error
	View(ctx context.Context, orderID string) (engine.View, error)
	ResolveExpiredOffers(ctx context.Context, now time.Time) (engine.SweepReport, error)
}

type StatusReader interface {
	Get(ctx context.Context, orderID string) (notify.CachedStatus, bool, error)
}

type OrdersHandler struct {
	Engine Engine
	Status StatusReader
	Log    *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Delete("/", h.purge)
			r.Get("/status", h.getStatus)
			r.Post("/receive", h.receive)
			r.Put("/refiner-spots/{metal}", h.refinerSpot)
			r.Put("/items/{item}/refiner-premium", h.refinerPremium)
			r.Post("/offer", h.sendOffer)
			r.Post("/accept", h.accept)
			r.Post("/reject", h.reject)
			r.Post("/return-label", h.returnLabel)
			r.Post("/payout", h.payout)
			r.Post("/complete", h.complete)
			r.Post("/cancel", h.cancel)
		})
	})
	r.Post("/admin/sweep", h.sweep)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps engine failures onto HTTP status codes.
func (h *OrdersHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orders.ErrStateViolation), errors.Is(err, orders.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, orders.ErrIncompleteAppraisal), errors.Is(err, orders.ErrInvalidInput),
		errors.Is(err, orders.ErrNotDelivered):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrDownstreamFailure):
		code = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decode(w, r, &req) {
		return
	}
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		req.IdempotencyKey = k
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	o, err := h.Engine.Intake(r.Context(), req.toIntake())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResp(v))
}

// getStatus answers from the status cache and falls back to the store.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Status != nil {
		s, ok, err := h.Status.Get(r.Context(), id)
		if err != nil {
			h.Log.Warn("status cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	v, err := h.Engine.View(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notify.CachedStatus{OrderID: id, Status: v.Order.Status, UpdatedAt: v.Order.UpdatedAt})
}

func (h *OrdersHandler) receive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string) (orders.PurchaseOrder, error) {
		return h.Engine.MarkReceived(ctx, id)
	})
}

func (h *OrdersHandler) refinerSpot(w http.ResponseWriter, r *http.Request) {
	var req SpotReq
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Engine.CaptureRefinerSnapshot(r.Context(), chi.URLParam(r, "id"),
		orders.Metal(chi.URLParam(r, "metal")), req.Bid, req.Ask)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResp{
		Metal: s.Metal, Party: s.Party, Bid: s.Bid, Ask: s.Ask,
		ScrapMultiplier: s.ScrapMultiplier, CapturedAt: s.CapturedAt,
	})
}

func (h *OrdersHandler) refinerPremium(w http.ResponseWriter, r *http.Request) {
	var req PremiumReq
	if !decode(w, r, &req) {
		return
	}
	it, err := h.Engine.SetRefinerPremium(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "item"), req.Premium)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	content, _ := it.Content()
	writeJSON(w, http.StatusOK, ItemResp{
		ID: it.ID, Kind: it.Kind, Metal: it.Metal, Content: content,
		Premium: it.Premium, RefinerPremium: it.RefinerPremium,
		ProductID: it.ProductID, Quantity: it.Quantity,
	})
}

func (h *OrdersHandler) sendOffer(w http.ResponseWriter, r *http.Request) {
	o, b, err := h.Engine.SendOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderResp(o), "breakdown": b})
}

func (h *OrdersHandler) accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string) (orders.PurchaseOrder, error) {
		return h.Engine.Accept(ctx, id)
	})
}

func (h *OrdersHandler) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, id string) (orders.PurchaseOrder, error) {
		return h.Engine.Reject(ctx, id, req.Notes)
	})
}

func (h *OrdersHandler) returnLabel(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.IssueReturnLabel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentResp(s))
}

func (h *OrdersHandler) payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, id string) (orders.PurchaseOrder, error) {
		return h.Engine.ConfirmPayout(ctx, id, req.Method)
	})
}

func (h *OrdersHandler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string) (orders.PurchaseOrder, error) {
		return h.Engine.Complete(ctx, id)
	})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id string) (orders.PurchaseOrder, error) {
		return h.Engine.Cancel(ctx, id)
	})
}

func (h *OrdersHandler) purge(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Engine.ResolveExpiredOffers(r.Context(), time.Now().UTC())
	if err != nil && rep.Resolved() == 0 && len(rep.Skipped) == 0 {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id string) (orders.PurchaseOrder, error)) {
	o, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}
