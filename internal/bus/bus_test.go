package bus_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nodehound/nodehound/internal/bus"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type ping struct {
	n int
}

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := bus.New()

	var got atomic.Int64
	bus.Subscribe(b, "ping", func(_ context.Context, ev ping) {
		got.Add(int64(ev.n))
	})
	bus.Subscribe(b, "ping", func(_ context.Context, ev ping) {
		got.Add(int64(ev.n))
	})

	b.Publish(t.Context(), "ping", ping{n: 21})
	b.Wait()
	require.EqualValues(t, 42, got.Load())
}

func TestPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()
	b := bus.New()
	b.Publish(t.Context(), "nobody-listens", ping{})
	b.Wait()
}

func TestNestedPublish(t *testing.T) {
	t.Parallel()
	b := bus.New()

	var mu sync.Mutex
	var order []string
	bus.Subscribe(b, "first", func(ctx context.Context, _ ping) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		b.Publish(ctx, "second", ping{})
	})
	bus.Subscribe(b, "second", func(_ context.Context, _ ping) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	b.Publish(t.Context(), "first", ping{})
	b.Wait()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestPanicDoesNotPoisonSiblings(t *testing.T) {
	t.Parallel()
	b := bus.New()

	var ok atomic.Bool
	bus.Subscribe(b, "ping", func(_ context.Context, _ ping) {
		panic("broken handler")
	})
	bus.Subscribe(b, "ping", func(_ context.Context, _ ping) {
		ok.Store(true)
	})

	b.Publish(t.Context(), "ping", ping{})
	b.Wait()
	require.True(t, ok.Load())
}

func TestTypeMismatchIsDropped(t *testing.T) {
	t.Parallel()
	b := bus.New()

	var called atomic.Bool
	bus.Subscribe(b, "ping", func(_ context.Context, _ ping) {
		called.Store(true)
	})
	b.Publish(t.Context(), "ping", "not a ping")
	b.Wait()
	require.False(t, called.Load())
}
