package kafka

import (
	"context"
	"errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
	"time"
)

func testConsumer() *Consumer {
	return &Consumer{log: zap.NewNop(), workers: 3, retryInitial: time.Millisecond, retryMax: 2 * time.Millisecond}
}

func TestProcessRetriesUntilHandled(t *testing.T) {
	c := testConsumer()
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("order locked")
		}
		return nil
	}

	require.True(t, c.process(context.Background(), h, kafka.Message{Partition: 1, Offset: 7}))
	require.Equal(t, 3, calls)
}

func TestProcessStopsWithContext(t *testing.T) {
	c := testConsumer()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(ctx context.Context, m kafka.Message) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("redis down")
	}

	require.False(t, c.process(ctx, h, kafka.Message{}))
	require.Equal(t, 2, calls)
}

func TestWorkerKeepsPartitionOnOneWorker(t *testing.T) {
	for p := 0; p < 12; p++ {
		w := worker(p, 3)
		require.Equal(t, w, worker(p, 3))
		require.GreaterOrEqual(t, w, 0)
		require.Less(t, w, 3)
	}
	require.Equal(t, 0, worker(0, 1))
	require.Equal(t, worker(4, 3), worker(7, 3))
}
