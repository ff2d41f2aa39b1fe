// Package payout is the HTTP client for the disbursement service.
package payout

import (
	"context"
	"fmt"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"net/http"
	"net/url"
	"time"
)

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

type payoutResp struct {
	ID    string             `json:"id"`
	State orders.PayoutState `json:"state"`
}

// Disburse asks the payout service to send req.Amount and returns its
// reference. A replay with the same idempotency key returns the same
// reference.
func (c *Client) Disburse(ctx context.Context, req orders.PayoutRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("disburse: %w: amount %s", orders.ErrInvalidInput, req.Amount)
	}
	var out payoutResp
	resp, err := c.r.R().SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(req).
		SetResult(&out).
		Post("/v1/payouts")
	if err := check("disburse", resp, err); err != nil {
		return "", err
	}
	if out.State == orders.PayoutFailed {
		return "", fmt.Errorf("disburse: payout %s failed", out.ID)
	}
	if out.ID == "" {
		return "", fmt.Errorf("disburse: no payout reference returned")
	}
	return out.ID, nil
}

func (c *Client) Status(ctx context.Context, ref string) (orders.PayoutState, error) {
	var out payoutResp
	resp, err := c.r.R().SetContext(ctx).
		SetResult(&out).
		Get("/v1/payouts/" + url.PathEscape(ref))
	if err := check("payout status", resp, err); err != nil {
		return "", err
	}
	return out.State, nil
}

// Cancel voids a payout that has not settled. Unknown references are
// ignored.
func (c *Client) Cancel(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	resp, err := c.r.R().SetContext(ctx).
		Post("/v1/payouts/" + url.PathEscape(ref) + "/cancel")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return check("cancel payout", resp, err)
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: payout status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}
