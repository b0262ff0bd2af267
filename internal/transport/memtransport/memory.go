// Package memtransport implements transport.Transport in-process, for tests
// that exercise the control surface and manager without a live NATS server.
// Subjects are matched with a NATS-style wildcard: '*' matches one token,
// '>' matches the remaining tokens.
package memtransport

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/coscene-io/zenoh-recorder-go/internal/transport"
)

var errNoReplier = errors.New("memtransport: no replier registered for subject")

type subscription struct {
	t       *Transport
	id      int
	pattern *regexp.Regexp
	handler transport.Handler
	replier transport.ReplyHandler
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.subs, s.id)
	return nil
}

// Transport is an in-memory transport.Transport.
type Transport struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
}

// New builds an empty Transport.
func New() *Transport {
	return &Transport{subs: make(map[int]*subscription)}
}

func subjectToPattern(subject string) *regexp.Regexp {
	tokens := strings.Split(subject, ".")
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok {
		case "*":
			parts = append(parts, `[^.]+`)
		case ">":
			parts = append(parts, `.+`)
		default:
			parts = append(parts, regexp.QuoteMeta(tok))
		}
	}
	return regexp.MustCompile("^" + strings.Join(parts, `\.`) + "$")
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(subject string, handler transport.Handler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	sub := &subscription{t: t, id: id, pattern: subjectToPattern(subject), handler: handler}
	t.subs[id] = sub
	return sub, nil
}

// RegisterReplier implements transport.Transport.
func (t *Transport) RegisterReplier(subject string, handler transport.ReplyHandler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	sub := &subscription{t: t, id: id, pattern: subjectToPattern(subject), replier: handler}
	t.subs[id] = sub
	return sub, nil
}

// Publish implements transport.Transport, delivering to Subscribe handlers
// matching the subject.
func (t *Transport) Publish(subject string, payload []byte) error {
	t.mu.RLock()
	matches := t.matchingHandlers(subject)
	t.mu.RUnlock()

	for _, h := range matches {
		h(transport.Message{Subject: subject, Payload: payload})
	}
	return nil
}

func (t *Transport) matchingHandlers(subject string) []transport.Handler {
	var out []transport.Handler
	for _, s := range t.subs {
		if s.handler != nil && s.pattern.MatchString(subject) {
			out = append(out, s.handler)
		}
	}
	return out
}

// Request sends payload to subject and returns the first matching
// replier's response. It is not part of the transport.Transport interface
// (which models only fire-and-forget delivery to the control surface's own
// replier registrations) but is useful for tests driving the control
// surface directly.
func (t *Transport) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	t.mu.RLock()
	var replier transport.ReplyHandler
	for _, s := range t.subs {
		if s.replier != nil && s.pattern.MatchString(subject) {
			replier = s.replier
			break
		}
	}
	t.mu.RUnlock()

	if replier == nil {
		return nil, errNoReplier
	}
	return replier(ctx, transport.Message{Subject: subject, Payload: payload}), nil
}

// Close is a no-op for the in-memory transport.
func (t *Transport) Close() error {
	return nil
}
