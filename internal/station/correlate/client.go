package correlate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/gridswap/go-station-ops/internal/station/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client provides request/response correlation over a publish/subscribe
// bus: subscribe to the response subject, publish the request carrying a
// fresh correlation id, resolve the wait when a matching response arrives.
//
// Requests on different correlation ids are fully independent and may be in
// flight concurrently; the client never serializes them. Callers that need
// ordering between two requests await the first before issuing the second.
type Client struct {
	bus     transport.Transport
	clock   time2.Clock
	timeout time.Duration

	mu       sync.Mutex
	subjects map[string]map[string]*pendingWait // response subject → correlation id → wait
	inflight map[string]*pendingWait            // business idempotency key → wait
}

// Request describes one correlated operation.
type Request struct {
	// Subject the request is published on.
	Subject string
	// ResponseSubject overrides the derived response subject
	// (Subject + ".response").
	ResponseSubject string
	// Operation labels metrics and logs.
	Operation string
	// IdempotencyKey, when set, de-duplicates client-side: a retry issued
	// while the first attempt is still in flight attaches to the existing
	// wait instead of publishing a second backend-visible operation. This is
	// a business-level key (e.g. order reference + operation), never the
	// transport correlation id.
	IdempotencyKey string
	// Timeout overrides the client default (30s).
	Timeout time.Duration
	// Payload is the request body; the correlation id (and idempotency key,
	// when present) are injected before publishing.
	Payload map[string]interface{}
}

type pendingWait struct {
	correlationID string
	done          chan struct{}
	once          sync.Once
	outcome       *Outcome
}

func (w *pendingWait) resolve(out *Outcome) {
	w.once.Do(func() {
		w.outcome = out
		close(w.done)
	})
}

// New creates a correlation client with the given default timeout.
func New(bus transport.Transport, clock time2.Clock, timeout time.Duration) *Client {
	ensureMetrics()
	return &Client{
		bus:      bus,
		clock:    clock,
		timeout:  timeout,
		subjects: map[string]map[string]*pendingWait{},
		inflight: map[string]*pendingWait{},
	}
}

// Request publishes req and waits for the correlated response.
//
// A transport failure at publish time fails synchronously: no wait is
// started. A missing response resolves as a timed-out Outcome, not an error,
// because the operation may have succeeded server-side. Responses with a
// non-matching correlation id never resolve the wait, and a response
// arriving after the wait already resolved is ignored.
func (c *Client) Request(ctx context.Context, req Request) (*Outcome, error) {
	respSubject := req.ResponseSubject
	if respSubject == "" {
		respSubject = req.Subject + ".response"
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	correlationID := newCorrelationID(c.clock.Now())
	wait := &pendingWait{
		correlationID: correlationID,
		done:          make(chan struct{}),
	}

	existing, err := c.register(respSubject, wait, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Client-side idempotency guard: attach to the in-flight wait for
		// the same business operation instead of publishing a duplicate.
		log.Debug().Str("operation", req.Operation).Str("idempotencyKey", req.IdempotencyKey).
			Msg("Attaching to in-flight correlated request")
		return c.await(ctx, existing, timeout)
	}

	payload := make(map[string]interface{}, len(req.Payload)+2)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload["correlationId"] = correlationID
	if req.IdempotencyKey != "" {
		payload["idempotencyKey"] = req.IdempotencyKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.unregister(respSubject, wait, req.IdempotencyKey)
		return nil, errors.Wrap(err, "marshal request payload")
	}

	start := c.clock.Now()
	if err := c.bus.Publish(ctx, req.Subject, body); err != nil {
		c.unregister(respSubject, wait, req.IdempotencyKey)
		return nil, errors.Wrapf(err, "publish %s", req.Subject)
	}

	defer c.unregister(respSubject, wait, req.IdempotencyKey)

	select {
	case <-wait.done:
	case <-c.clock.After(timeout):
		wait.resolve(&Outcome{Success: false, TimedOut: true, Message: "timed out"})
		<-wait.done
	case <-ctx.Done():
		// Abandoned by the caller; the deferred unregister drops the
		// subscription so a late response is ignored.
		return nil, errors.Wrapf(ctx.Err(), "request %s abandoned", req.Operation)
	}

	c.observe(req.Operation, wait.outcome, c.clock.Now().Sub(start))
	return wait.outcome, nil
}

// await blocks on an already in-flight wait owned by another caller.
func (c *Client) await(ctx context.Context, wait *pendingWait, timeout time.Duration) (*Outcome, error) {
	select {
	case <-wait.done:
		return wait.outcome, nil
	case <-c.clock.After(timeout):
		return &Outcome{Success: false, TimedOut: true, Message: "timed out"}, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "request abandoned")
	}
}

// register claims the wait under the response subject. When an in-flight
// wait already holds the same idempotency key, that wait is returned instead
// and nothing is registered: the caller attaches to it.
func (c *Client) register(respSubject string, wait *pendingWait, idempotencyKey string) (*pendingWait, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idempotencyKey != "" {
		if existing, ok := c.inflight[idempotencyKey]; ok {
			return existing, nil
		}
	}

	waiters, ok := c.subjects[respSubject]
	if !ok {
		waiters = map[string]*pendingWait{}
		c.subjects[respSubject] = waiters

		subject := respSubject
		if err := c.bus.Subscribe(subject, func(_ string, payload []byte) {
			c.dispatch(subject, payload)
		}); err != nil {
			delete(c.subjects, respSubject)
			return nil, errors.Wrapf(err, "subscribe %s", respSubject)
		}
	}

	waiters[wait.correlationID] = wait
	if idempotencyKey != "" {
		c.inflight[idempotencyKey] = wait
	}

	return nil, nil
}

func (c *Client) unregister(respSubject string, wait *pendingWait, idempotencyKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if waiters, ok := c.subjects[respSubject]; ok {
		delete(waiters, wait.correlationID)
		if len(waiters) == 0 {
			delete(c.subjects, respSubject)
			if err := c.bus.Unsubscribe(respSubject); err != nil {
				log.Warn().Err(err).Str("subject", respSubject).Msg("Failed to unsubscribe response subject")
			}
		}
	}

	if idempotencyKey != "" && c.inflight[idempotencyKey] == wait {
		delete(c.inflight, idempotencyKey)
	}
}

func (c *Client) dispatch(respSubject string, payload []byte) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Warn().Err(err).Str("subject", respSubject).Msg("Dropping undecodable response")
		return
	}
	if resp.CorrelationID == "" {
		return
	}

	c.mu.Lock()
	var matchedWaits []*pendingWait
	for _, wait := range c.subjects[respSubject] {
		if matches(wait.correlationID, resp.CorrelationID) {
			matchedWaits = append(matchedWaits, wait)
		}
	}
	c.mu.Unlock()

	if len(matchedWaits) == 0 {
		// Late or foreign response: ignored by design.
		return
	}

	outcome := evaluate(resp)
	for _, wait := range matchedWaits {
		wait.resolve(outcome)
	}
}

// newCorrelationID builds a time-prefixed random id. Uniqueness is
// probabilistic, not coordinated; collisions are accepted as negligible for
// this use.
func newCorrelationID(now time.Time) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(suffix[:]))
}
