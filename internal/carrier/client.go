// Package carrier is the HTTP client for the shipping carrier gateway.
package carrier

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/shopspring/decimal"
	"net/http"
	"net/url"
	"time"
)

// ErrChargeUnknown means the carrier has not invoiced the shipment yet.
var ErrChargeUnknown = errors.New("shipment charge not invoiced")

type Client struct {
	r *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &Client{r: r}
}

type chargeResp struct {
	TrackingNumber string          `json:"tracking_number"`
	Invoiced       bool            `json:"invoiced"`
	Amount         decimal.Decimal `json:"amount"`
}

type labelReq struct {
	OrderID   string `json:"order_id"`
	Direction string `json:"direction"`
}

func (c *Client) Tracking(ctx context.Context, trackingNumber string) (orders.Tracking, error) {
	if trackingNumber == "" {
		return orders.Tracking{}, fmt.Errorf("tracking: %w: empty tracking number", orders.ErrInvalidInput)
	}
	var out orders.Tracking
	resp, err := c.r.R().SetContext(ctx).
		SetResult(&out).
		Get("/v1/tracking/" + url.PathEscape(trackingNumber))
	if err := check("tracking", resp, err); err != nil {
		return orders.Tracking{}, err
	}
	return out, nil
}

func (c *Client) ShipmentCharge(ctx context.Context, trackingNumber string) (decimal.Decimal, error) {
	var out chargeResp
	resp, err := c.r.R().SetContext(ctx).
		SetResult(&out).
		Get("/v1/shipments/" + url.PathEscape(trackingNumber) + "/charge")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrChargeUnknown, trackingNumber)
	}
	if err := check("shipment charge", resp, err); err != nil {
		return decimal.Zero, err
	}
	if !out.Invoiced {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrChargeUnknown, trackingNumber)
	}
	if out.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("shipment charge: negative amount %s for %s", out.Amount, trackingNumber)
	}
	return out.Amount, nil
}

func (c *Client) CreateReturnLabel(ctx context.Context, orderID string) (orders.Label, error) {
	var out orders.Label
	resp, err := c.r.R().SetContext(ctx).
		SetHeader("Idempotency-Key", "return-label:"+orderID).
		SetBody(labelReq{OrderID: orderID, Direction: string(orders.ShipmentReturn)}).
		SetResult(&out).
		Post("/v1/labels")
	if err := check("create label", resp, err); err != nil {
		return orders.Label{}, err
	}
	if out.LabelID == "" || out.TrackingNumber == "" {
		return orders.Label{}, fmt.Errorf("create label: incomplete label for order %s", orderID)
	}
	return out, nil
}

// CancelLabel voids a label. Voiding an unknown label is not an error.
func (c *Client) CancelLabel(ctx context.Context, labelID string) error {
	resp, err := c.r.R().SetContext(ctx).
		Delete("/v1/labels/" + url.PathEscape(labelID))
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return check("cancel label", resp, err)
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: carrier status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}
