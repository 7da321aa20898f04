package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisTransport implements the bus over Redis pub/sub. One PSUBSCRIBE
// connection carries every subscription; go-redis re-issues the active
// patterns itself after a reconnect, which gives us the silent re-arm the
// correlation protocol relies on.
type RedisTransport struct {
	client *redis.Client
	prefix string

	mu       sync.RWMutex
	handlers map[string]Handler

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisTransport starts the receive loop. prefix namespaces every channel
// this service touches (e.g. "station").
func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	ctx, cancel := context.WithCancel(context.Background())

	t := &RedisTransport{
		client:   client,
		prefix:   prefix,
		handlers: map[string]Handler{},
		pubsub:   client.PSubscribe(ctx),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go t.receive(ctx)

	return t
}

func (t *RedisTransport) channel(subject string) string {
	return t.prefix + "." + subject
}

// pattern translates a subscription subject into a Redis glob pattern.
// Redis globs are not token-aware, so the translated pattern over-matches;
// the receive loop re-checks with Match before dispatching.
func (t *RedisTransport) pattern(subject string) string {
	p := strings.ReplaceAll(subject, ">", "*")
	return t.channel(p)
}

func (t *RedisTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := t.client.Publish(ctx, t.channel(subject), payload).Err(); err != nil {
		return errors.Wrapf(ErrNotConnected, "publish %s: %v", subject, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(subject string, handler Handler) error {
	t.mu.Lock()
	t.handlers[subject] = handler
	t.mu.Unlock()

	if err := t.pubsub.PSubscribe(context.Background(), t.pattern(subject)); err != nil {
		t.mu.Lock()
		delete(t.handlers, subject)
		t.mu.Unlock()
		return errors.Wrapf(err, "subscribe %s", subject)
	}

	return nil
}

func (t *RedisTransport) Unsubscribe(subject string) error {
	t.mu.Lock()
	delete(t.handlers, subject)
	t.mu.Unlock()

	if err := t.pubsub.PUnsubscribe(context.Background(), t.pattern(subject)); err != nil {
		return errors.Wrapf(err, "unsubscribe %s", subject)
	}

	return nil
}

// Close tears down the receive loop and the pub/sub connection.
func (t *RedisTransport) Close() error {
	t.cancel()
	err := t.pubsub.Close()
	<-t.done
	return err
}

func (t *RedisTransport) receive(ctx context.Context) {
	defer close(t.done)

	ch := t.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			subject := strings.TrimPrefix(msg.Channel, t.prefix+".")
			payload := []byte(msg.Payload)

			t.mu.RLock()
			var matched []Handler
			for pattern, handler := range t.handlers {
				if Match(pattern, subject) {
					matched = append(matched, handler)
				}
			}
			t.mu.RUnlock()

			if len(matched) == 0 {
				log.Debug().Str("subject", subject).Msg("Dropping message without subscriber")
				continue
			}

			for _, handler := range matched {
				handler(subject, payload)
			}
		}
	}
}
