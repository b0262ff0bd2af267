// Package transport abstracts the publish/subscribe middleware the
// recorder consumes: a subscribe primitive for sample delivery and a
// request/reply primitive for the control surface. Zenoh (the original
// middleware) has no Go client; NATS's subject/request-reply model is the
// closest available substitute and is what this package's concrete
// implementation uses.
package transport

import "context"

// Message is one inbound transport message: a subject/topic plus payload
// bytes. Middleware-specific metadata (e.g. Zenoh key expressions, NATS
// headers) is intentionally not modeled here.
type Message struct {
	Subject string
	Payload []byte
}

// Handler processes one inbound Message.
type Handler func(msg Message)

// ReplyHandler processes one inbound request and returns the reply payload.
type ReplyHandler func(ctx context.Context, msg Message) []byte

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// Transport is the full contract the recorder needs from the p/s layer:
// fire-and-forget subscribe for sample ingestion, and request/reply-style
// "queryable" registration for the control surface.
type Transport interface {
	// Subscribe delivers every message published on subject (which may be
	// a wildcard pattern) to handler, until the returned Subscription is
	// unsubscribed.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// Publish sends a fire-and-forget message.
	Publish(subject string, payload []byte) error

	// RegisterReplier registers handler to answer every request received on
	// subject (which may be a wildcard pattern), replying on the same
	// request's implicit reply channel.
	RegisterReplier(subject string, handler ReplyHandler) (Subscription, error)

	// Close releases the underlying connection.
	Close() error
}
