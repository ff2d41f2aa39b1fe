package tracking

import (
	"context"
	"errors"
	"fmt"
	"github.com/goccy/go-json"
	kafkax "github.com/jtj60/dorado-exchange-sub004/internal/kafka"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
	"time"
)

type fakeReceiver struct {
	err   error
	calls []string
}

func (r *fakeReceiver) MarkReceived(ctx context.Context, orderID string) (orders.PurchaseOrder, error) {
	r.calls = append(r.calls, orderID)
	return orders.PurchaseOrder{ID: orderID, Status: orders.StatusReceived}, r.err
}

type memDedup struct {
	seen     map[string]bool
	released []string
}

func (d *memDedup) Claim(ctx context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Release(ctx context.Context, id string) error {
	delete(d.seen, id)
	d.released = append(d.released, id)
	return nil
}

func delivered(t *testing.T, orderID string) (kafkago.Message, string) {
	t.Helper()
	env, err := kafkax.NewEnvelope(orders.EventShipmentDelivered, "carrier-gateway", orderID,
		orders.ShipmentDeliveredPayload{OrderID: orderID, TrackingNumber: "IN-1", DeliveredAt: time.Now().UTC()})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}, env.EventID
}

func newHandler() (*Handler, *fakeReceiver, *memDedup) {
	r := &fakeReceiver{}
	d := &memDedup{seen: map[string]bool{}}
	return &Handler{Engine: r, Dedup: d, Log: zap.NewNop()}, r, d
}

func TestHandleDeliveredOnce(t *testing.T) {
	h, r, _ := newHandler()
	m, _ := delivered(t, "o-1")

	require.NoError(t, h.Handle(context.Background(), m))
	require.NoError(t, h.Handle(context.Background(), m))
	require.Equal(t, []string{"o-1"}, r.calls)
}

func TestHandleAlreadyReceived(t *testing.T) {
	h, r, d := newHandler()
	r.err = &orders.TransitionError{OrderID: "o-1", From: orders.StatusReceived, To: orders.StatusReceived}
	m, _ := delivered(t, "o-1")

	require.NoError(t, h.Handle(context.Background(), m))
	require.Empty(t, d.released)
}

func TestHandleRetryableFailureReleasesClaim(t *testing.T) {
	h, r, d := newHandler()
	r.err = orders.Downstream("carrier tracking", errors.New("timeout"))
	m, id := delivered(t, "o-1")

	err := h.Handle(context.Background(), m)
	require.ErrorIs(t, err, orders.ErrDownstreamFailure)
	require.Equal(t, []string{id}, d.released)

	r.err = nil
	require.NoError(t, h.Handle(context.Background(), m))
	require.Len(t, r.calls, 2)
}

func TestHandleNotDeliveredIsRetried(t *testing.T) {
	h, r, _ := newHandler()
	r.err = fmt.Errorf("%w: IN-1 is IN_TRANSIT", orders.ErrNotDelivered)
	m, _ := delivered(t, "o-1")

	require.ErrorIs(t, h.Handle(context.Background(), m), orders.ErrNotDelivered)
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	h, r, _ := newHandler()
	env, err := kafkax.NewEnvelope(orders.EventOfferSent, "dorado-settlement", "o-1", map[string]string{})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), kafkago.Message{Value: b}))
	require.NoError(t, h.Handle(context.Background(), kafkago.Message{Value: []byte("garbage")}))
	require.Empty(t, r.calls)
}
