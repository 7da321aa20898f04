package transport

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process bus with the same matching semantics as
// the Redis transport. It backs tests and the offline CLI path.
//
// Delivery is asynchronous (one goroutine per delivery) to keep the timing
// behavior of a real bus: handlers never run on the publisher's stack.
type MemoryTransport struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	offline  bool

	wg sync.WaitGroup
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		handlers: map[string]Handler{},
	}
}

func (m *MemoryTransport) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.RLock()
	if m.offline {
		m.mu.RUnlock()
		return ErrNotConnected
	}

	var matched []Handler
	for pattern, handler := range m.handlers {
		if Match(pattern, subject) {
			matched = append(matched, handler)
		}
	}
	m.mu.RUnlock()

	for _, handler := range matched {
		h := handler
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			h(subject, payload)
		}()
	}

	return nil
}

func (m *MemoryTransport) Subscribe(subject string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = handler
	return nil
}

func (m *MemoryTransport) Unsubscribe(subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, subject)
	return nil
}

// SetOffline simulates a transport outage: publishes fail synchronously
// while offline. Subscriptions stay registered, mirroring the silent re-arm
// a real transport performs on reconnect.
func (m *MemoryTransport) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Drain waits for all in-flight deliveries to finish. Test helper.
func (m *MemoryTransport) Drain() {
	m.wg.Wait()
}
