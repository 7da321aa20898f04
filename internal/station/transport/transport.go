package transport

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned when a publish is attempted while the bus is
// unreachable. The failure is synchronous: no wait is ever started for a
// request that never left the device.
var ErrNotConnected = errors.New("transport not connected")

// Handler consumes one message delivered on a subscribed subject.
type Handler func(subject string, payload []byte)

// Transport is the asynchronous bus this engine talks over. Subjects are
// dot-separated tokens; subscription subjects may use "*" to match a single
// token and a trailing ">" to match any remainder. No delivery-order or
// at-most-once guarantee is assumed.
//
// Implementations re-arm all active subscriptions silently after a
// reconnect, so a wait outstanding across a connection loss still sees its
// response.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(subject string, handler Handler) error
	Unsubscribe(subject string) error
}

// Match reports whether a concrete subject matches a subscription pattern.
// "*" matches exactly one token, a trailing ">" matches one or more
// remaining tokens.
func Match(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		switch tok {
		case ">":
			// Only valid as the last token; matches the non-empty rest.
			return i == len(pt)-1 && len(st) > i
		case "*":
			if i >= len(st) {
				return false
			}
		default:
			if i >= len(st) || st[i] != tok {
				return false
			}
		}
	}

	return len(pt) == len(st)
}
