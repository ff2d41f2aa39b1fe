package notify

import (
	"context"
	"errors"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fakePublisher struct {
	err  error
	sent []orders.Envelope
}

func (p *fakePublisher) PublishEnvelope(env orders.Envelope) error {
	p.sent = append(p.sent, env)
	return p.err
}

type fakeCache struct {
	err     error
	put     map[string]orders.Status
	dropped []string
}

func (c *fakeCache) Put(ctx context.Context, t orders.Transition) error {
	if c.err != nil {
		return c.err
	}
	c.put[t.OrderID] = t.To
	return nil
}

func (c *fakeCache) Drop(ctx context.Context, orderID string) error {
	c.dropped = append(c.dropped, orderID)
	return c.err
}

func transition(event string, to orders.Status) orders.Transition {
	return orders.Transition{
		OrderID: "o-1", Number: 7, UserID: "u-1",
		From: orders.StatusOfferSent, To: to, Event: event,
		At: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestNotifyPublishesAndCaches(t *testing.T) {
	pub := &fakePublisher{}
	cache := &fakeCache{put: map[string]orders.Status{}}
	n := &Notifier{Producer: pub, Cache: cache, Service: "dorado-settlement"}

	require.NoError(t, n.Notify(context.Background(), transition(orders.EventOfferAccepted, orders.StatusAccepted)))

	require.Len(t, pub.sent, 1)
	env := pub.sent[0]
	require.Equal(t, orders.EventOfferAccepted, env.EventType)
	require.Equal(t, "o-1", env.CorrelationID)
	require.Equal(t, "dorado-settlement", env.Producer)
	require.Contains(t, string(env.Payload), `"to":"ACCEPTED"`)
	require.Equal(t, orders.StatusAccepted, cache.put["o-1"])
}

func TestNotifyPurgeDropsCache(t *testing.T) {
	cache := &fakeCache{put: map[string]orders.Status{}}
	n := &Notifier{Producer: &fakePublisher{}, Cache: cache}

	require.NoError(t, n.Notify(context.Background(), transition(orders.EventOrderPurged, orders.StatusCancelled)))
	require.Equal(t, []string{"o-1"}, cache.dropped)
	require.Empty(t, cache.put)
}

func TestNotifyJoinsFailures(t *testing.T) {
	errKafka := errors.New("kafka down")
	errRedis := errors.New("redis down")
	n := &Notifier{
		Producer: &fakePublisher{err: errKafka},
		Cache:    &fakeCache{err: errRedis, put: map[string]orders.Status{}},
	}

	err := n.Notify(context.Background(), transition(orders.EventOfferRejected, orders.StatusRejected))
	require.ErrorIs(t, err, errKafka)
	require.ErrorIs(t, err, errRedis)
}
