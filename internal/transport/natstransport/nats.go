// Package natstransport implements transport.Transport over a NATS
// connection: Subscribe/Publish for sample delivery, and request/reply
// subscriptions for the control surface's command and status queries.
package natstransport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/coscene-io/zenoh-recorder-go/internal/logging"
	"github.com/coscene-io/zenoh-recorder-go/internal/transport"
)

// Config configures the NATS connection.
type Config struct {
	URLs           []string
	ReconnectWait  time.Duration
	MaxReconnects  int
	RequestTimeout time.Duration
}

// Transport wraps a *nats.Conn to implement transport.Transport.
type Transport struct {
	conn    *nats.Conn
	log     *logging.Logger
	timeout time.Duration
}

// Connect dials NATS with reconnect and status-change logging, mirroring
// the connection-status handler wiring used by the pack's own NATS event
// bus.
func Connect(cfg Config, log *logging.Logger) (*Transport, error) {
	url := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		url = cfg.URLs[0]
		for _, u := range cfg.URLs[1:] {
			url += "," + u
		}
	}

	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	opts := []nats.Option{
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			log.Warn("nats connection closed")
		}),
		nats.ErrorHandler(func(c *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("nats async error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Transport{conn: conn, log: log, timeout: timeout}, nil
}

type subWrapper struct{ sub *nats.Subscription }

func (s subWrapper) Unsubscribe() error { return s.sub.Unsubscribe() }

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(subject string, handler transport.Handler) (transport.Subscription, error) {
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(transport.Message{Subject: msg.Subject, Payload: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %q: %w", subject, err)
	}
	return subWrapper{sub}, nil
}

// Publish implements transport.Transport.
func (t *Transport) Publish(subject string, payload []byte) error {
	return t.conn.Publish(subject, payload)
}

// RegisterReplier implements transport.Transport by subscribing and, for
// every inbound request, running handler on its own goroutine and
// publishing the result on msg.Reply.
func (t *Transport) RegisterReplier(subject string, handler transport.ReplyHandler) (transport.Subscription, error) {
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			t.log.Warn("received request with no reply subject, dropping", zap.String("subject", msg.Subject))
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()

			reply := handler(ctx, transport.Message{Subject: msg.Subject, Payload: msg.Data})
			if err := t.conn.Publish(msg.Reply, reply); err != nil {
				t.log.Error("failed to publish reply", zap.String("subject", msg.Subject), zap.Error(err))
			}
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("registering replier on %q: %w", subject, err)
	}
	return subWrapper{sub}, nil
}

// Close drains and closes the connection.
func (t *Transport) Close() error {
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}
