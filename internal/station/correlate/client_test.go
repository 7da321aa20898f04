package correlate_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/station/correlate"
	"github.com/gridswap/go-station-ops/internal/station/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBus wraps the in-process bus and records every publish so tests
// can count backend-visible operations and answer them by hand.
type recordingBus struct {
	*transport.MemoryTransport

	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	subject string
	payload map[string]interface{}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{MemoryTransport: transport.NewMemoryTransport()}
}

func (b *recordingBus) Publish(ctx context.Context, subject string, payload []byte) error {
	var decoded map[string]interface{}
	_ = json.Unmarshal(payload, &decoded)

	b.mu.Lock()
	b.published = append(b.published, publishedMessage{subject: subject, payload: decoded})
	b.mu.Unlock()

	return b.MemoryTransport.Publish(ctx, subject, payload)
}

func (b *recordingBus) publishes(subject string) []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []publishedMessage
	for _, msg := range b.published {
		if msg.subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

// respond answers the last published request on subject with the given
// response fields, using the request's correlation id unless overridden.
func (b *recordingBus) respond(t *testing.T, subject string, fields map[string]interface{}) {
	t.Helper()

	msgs := b.publishes(subject)
	require.NotEmpty(t, msgs, "no request published on %s", subject)

	last := msgs[len(msgs)-1]
	if _, ok := fields["correlationId"]; !ok {
		fields["correlationId"] = last.payload["correlationId"]
	}

	body, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, b.MemoryTransport.Publish(context.Background(), subject+".response", body))
}

func newClient(bus transport.Transport, timeout time.Duration) *correlate.Client {
	return correlate.New(bus, time2.DefaultClock, timeout)
}

func TestRequest_ResolvesOnMatchingResponse(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.identify",
			Operation: "identify",
			Payload:   map[string]interface{}{"subscriptionCode": "SUB-1"},
		})
		require.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.identify")) == 1 },
		time.Second, time.Millisecond)

	req := bus.publishes("swap.st1.identify")[0]
	assert.NotEmpty(t, req.payload["correlationId"], "every request carries a fresh correlation id")

	bus.respond(t, "swap.st1.identify", map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"subscriberName": "Jane"},
	})

	out := <-done
	assert.True(t, out.Success)
	assert.False(t, out.IsIdempotent)
	assert.False(t, out.TimedOut)
}

func TestRequest_TimesOutAndUnsubscribes(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, 30*time.Millisecond)

	out, err := client.Request(context.Background(), correlate.Request{
		Subject:   "swap.st1.identify",
		Operation: "identify",
	})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.True(t, out.TimedOut)
	assert.Equal(t, "timed out", out.Message)

	// The response subject must be unsubscribed: a late response is dropped
	// without resolving anything or panicking.
	bus.respond(t, "swap.st1.identify", map[string]interface{}{"success": true})
	bus.Drain()
}

func TestRequest_TimeoutRunsOnInjectedClock(t *testing.T) {
	bus := newRecordingBus()
	clock := time2.NewMockClock(time.Now())
	client := correlate.New(bus, clock, time.Hour)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.identify",
			Operation: "identify",
		})
		require.NoError(t, err)
		done <- out
	}()

	// The deadline is armed on the injected clock, not a wall timer.
	require.Eventually(t, func() bool { return clock.WakeupsCount() > 0 },
		time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	clock.Advance(time.Hour)

	out := <-done
	assert.True(t, out.TimedOut, "advancing the clock past the deadline must time the wait out")
	assert.False(t, out.Success)
}

func TestRequest_IgnoresForeignCorrelationID(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, 80*time.Millisecond)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.identify",
			Operation: "identify",
		})
		require.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.identify")) == 1 },
		time.Second, time.Millisecond)

	// A response for someone else's request must never resolve this wait.
	bus.respond(t, "swap.st1.identify", map[string]interface{}{
		"correlationId": "1700000000000-deadbeef",
		"success":       true,
	})

	out := <-done
	assert.True(t, out.TimedOut, "foreign correlation id must not resolve the wait")
}

func TestRequest_AcceptsTruncatedCorrelationID(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.identify",
			Operation: "identify",
		})
		require.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.identify")) == 1 },
		time.Second, time.Millisecond)

	full := bus.publishes("swap.st1.identify")[0].payload["correlationId"].(string)
	bus.respond(t, "swap.st1.identify", map[string]interface{}{
		"correlationId": full[:len(full)-3],
		"success":       true,
	})

	out := <-done
	assert.True(t, out.Success, "a truncated-but-unambiguous correlation id still matches")
}

func TestRequest_PublishFailureIsSynchronous(t *testing.T) {
	bus := newRecordingBus()
	bus.SetOffline(true)
	client := newClient(bus, time.Second)

	start := time.Now()
	out, err := client.Request(context.Background(), correlate.Request{
		Subject:   "swap.st1.identify",
		Operation: "identify",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Nil(t, out)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no wait may be started")
}

func TestRequest_ErrorSignalBeatsSuccessFlag(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.complete",
			Operation: "complete",
		})
		require.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.complete")) == 1 },
		time.Second, time.Millisecond)

	bus.respond(t, "swap.st1.complete", map[string]interface{}{
		"success": true,
		"signals": []string{correlate.SignalValidationFailed},
		"message": "battery id not recognized",
	})

	out := <-done
	assert.False(t, out.Success, "an error signal takes precedence over the nominal success flag")
	assert.Equal(t, "battery id not recognized", out.Message)
}

func TestRequest_IdempotentSignalResolvesAsSuccess(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.complete",
			Operation: "complete",
		})
		require.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.complete")) == 1 },
		time.Second, time.Millisecond)

	bus.respond(t, "swap.st1.complete", map[string]interface{}{
		"success": false,
		"signals": []string{correlate.SignalIdempotentOperationDetected},
	})

	out := <-done
	assert.True(t, out.Success, "idempotent detection means success regardless of the nominal flag")
	assert.True(t, out.IsIdempotent)
}

func TestRequest_IdempotencyKeyPreventsDuplicatePublish(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	var wg sync.WaitGroup
	outcomes := make(chan *correlate.Outcome, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := client.Request(context.Background(), correlate.Request{
				Subject:        "swap.st1.complete",
				Operation:      "complete",
				IdempotencyKey: "order-9:settlement",
				Payload:        map[string]interface{}{"amount": 96},
			})
			require.NoError(t, err)
			outcomes <- out
		}()
	}

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.complete")) >= 1 },
		time.Second, time.Millisecond)
	// Give the second caller a moment to attach rather than publish.
	time.Sleep(20 * time.Millisecond)

	bus.respond(t, "swap.st1.complete", map[string]interface{}{"success": true})
	wg.Wait()

	assert.Len(t, bus.publishes("swap.st1.complete"), 1,
		"a client-side retry before any response must not produce a second backend-visible operation")

	close(outcomes)
	for out := range outcomes {
		assert.True(t, out.Success)
	}
}

func TestRequest_IdempotencyKeyTravelsInPayload(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, 30*time.Millisecond)

	_, err := client.Request(context.Background(), correlate.Request{
		Subject:        "swap.st1.complete",
		Operation:      "complete",
		IdempotencyKey: "order-9:settlement",
	})
	require.NoError(t, err)

	msgs := bus.publishes("swap.st1.complete")
	require.Len(t, msgs, 1)
	assert.Equal(t, "order-9:settlement", msgs[0].payload["idempotencyKey"],
		"the business idempotency key must reach the backend so its own check can fire")
}

func TestRequest_LateDuplicateResponseIsIgnored(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	done := make(chan *correlate.Outcome, 1)
	go func() {
		out, err := client.Request(context.Background(), correlate.Request{
			Subject:   "swap.st1.identify",
			Operation: "identify",
		})
		require.NoError(t, err)
		done <- out
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.identify")) == 1 },
		time.Second, time.Millisecond)

	bus.respond(t, "swap.st1.identify", map[string]interface{}{"success": true})
	out := <-done
	require.True(t, out.Success)

	// The duplicate arrives after resolution: nothing to resolve, no panic.
	bus.respond(t, "swap.st1.identify", map[string]interface{}{"success": false})
	bus.Drain()
}

func TestRequest_AbandonedWaitIgnoresLateResponse(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := client.Request(ctx, correlate.Request{
			Subject:   "swap.st1.identify",
			Operation: "identify",
		})
		done <- err
	}()

	require.Eventually(t, func() bool { return len(bus.publishes("swap.st1.identify")) == 1 },
		time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	bus.respond(t, "swap.st1.identify", map[string]interface{}{"success": true})
	bus.Drain()
}

func TestRequest_ConcurrentRequestsAreIndependent(t *testing.T) {
	bus := newRecordingBus()
	client := newClient(bus, time.Second)

	subjects := []string{"swap.st1.identify", "swap.st2.identify"}
	outs := make([]chan *correlate.Outcome, len(subjects))

	for i, subject := range subjects {
		outs[i] = make(chan *correlate.Outcome, 1)
		ch := outs[i]
		subj := subject
		go func() {
			out, err := client.Request(context.Background(), correlate.Request{
				Subject:   subj,
				Operation: "identify",
			})
			require.NoError(t, err)
			ch <- out
		}()
	}

	require.Eventually(t, func() bool {
		return len(bus.publishes(subjects[0])) == 1 && len(bus.publishes(subjects[1])) == 1
	}, time.Second, time.Millisecond)

	// Answer in reverse order; each wait resolves on its own correlation id.
	bus.respond(t, subjects[1], map[string]interface{}{"success": true})
	bus.respond(t, subjects[0], map[string]interface{}{"success": false, "message": "no such subscription"})

	first := <-outs[0]
	second := <-outs[1]
	assert.False(t, first.Success)
	assert.Equal(t, "no such subscription", first.Message)
	assert.True(t, second.Success)
}
