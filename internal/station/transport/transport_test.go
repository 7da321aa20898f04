package transport_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gridswap/go-station-ops/internal/station/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"swap.st1.identify", "swap.st1.identify", true},
		{"swap.st1.identify", "swap.st1.complete", false},
		{"swap.*.identify", "swap.st1.identify", true},
		{"swap.*.identify", "swap.st1.st2.identify", false},
		{"swap.>", "swap.st1.identify", true},
		{"swap.>", "swap", false},
		{"swap.st1.>", "swap.st1.identify.response", true},
		{"*", "swap", true},
		{"*", "swap.st1", false},
		{">", "swap.st1.anything", true},
		{"swap.st1", "swap.st1.identify", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, transport.Match(tc.pattern, tc.subject),
			"pattern %q subject %q", tc.pattern, tc.subject)
	}
}

func TestMemoryTransport_DeliversToMatchingSubscribers(t *testing.T) {
	bus := transport.NewMemoryTransport()

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(name string) transport.Handler {
		return func(subject string, payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], subject+":"+string(payload))
		}
	}

	require.NoError(t, bus.Subscribe("swap.st1.identify.response", record("exact")))
	require.NoError(t, bus.Subscribe("swap.*.identify.response", record("wildcard")))
	require.NoError(t, bus.Subscribe("swap.st2.>", record("other")))

	require.NoError(t, bus.Publish(context.Background(), "swap.st1.identify.response", []byte("ok")))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"swap.st1.identify.response:ok"}, got["exact"])
	assert.Equal(t, []string{"swap.st1.identify.response:ok"}, got["wildcard"])
	assert.Empty(t, got["other"])
}

func TestMemoryTransport_UnsubscribeStopsDelivery(t *testing.T) {
	bus := transport.NewMemoryTransport()

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Subscribe("a.b", func(string, []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	require.NoError(t, bus.Publish(context.Background(), "a.b", nil))
	bus.Drain()
	require.NoError(t, bus.Unsubscribe("a.b"))
	require.NoError(t, bus.Publish(context.Background(), "a.b", nil))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMemoryTransport_OfflinePublishFailsSynchronously(t *testing.T) {
	bus := transport.NewMemoryTransport()
	bus.SetOffline(true)

	err := bus.Publish(context.Background(), "a.b", nil)
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	// Subscriptions survive the outage.
	delivered := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe("a.b", func(string, []byte) { delivered <- struct{}{} }))

	bus.SetOffline(false)
	require.NoError(t, bus.Publish(context.Background(), "a.b", nil))
	bus.Drain()
	assert.Len(t, delivered, 1)
}
