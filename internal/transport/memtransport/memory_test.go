package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscene-io/zenoh-recorder-go/internal/transport"
)

func TestPublishDeliversToExactSubscriber(t *testing.T) {
	tr := New()
	received := make(chan transport.Message, 1)
	sub, err := tr.Subscribe("recorder.sample.a", func(msg transport.Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, tr.Publish("recorder.sample.a", []byte("payload")))

	select {
	case msg := <-received:
		assert.Equal(t, "payload", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestWildcardSingleTokenMatches(t *testing.T) {
	tr := New()
	received := make(chan string, 4)
	_, err := tr.Subscribe("recorder.status.*", func(msg transport.Message) {
		received <- msg.Subject
	})
	require.NoError(t, err)

	require.NoError(t, tr.Publish("recorder.status.rec-1", nil))
	require.NoError(t, tr.Publish("recorder.status.rec-2.extra", nil))

	select {
	case subj := <-received:
		assert.Equal(t, "recorder.status.rec-1", subj)
	case <-time.After(time.Second):
		t.Fatal("expected delivery for single-token match")
	}

	select {
	case subj := <-received:
		t.Fatalf("unexpected delivery for multi-token subject: %s", subj)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWildcardMultiTokenMatches(t *testing.T) {
	tr := New()
	received := make(chan string, 1)
	_, err := tr.Subscribe("recorder.status.>", func(msg transport.Message) {
		received <- msg.Subject
	})
	require.NoError(t, err)

	require.NoError(t, tr.Publish("recorder.status.rec-1.detail", nil))

	select {
	case subj := <-received:
		assert.Equal(t, "recorder.status.rec-1.detail", subj)
	case <-time.After(time.Second):
		t.Fatal("expected delivery for multi-token match")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := New()
	received := make(chan struct{}, 1)
	sub, err := tr.Subscribe("recorder.sample.a", func(msg transport.Message) {
		received <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, tr.Publish("recorder.sample.a", nil))

	select {
	case <-received:
		t.Fatal("handler fired after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	tr := New()
	_, err := tr.RegisterReplier("recorder.control.device-1", func(ctx context.Context, msg transport.Message) []byte {
		return append([]byte("echo:"), msg.Payload...)
	})
	require.NoError(t, err)

	reply, err := tr.Request(context.Background(), "recorder.control.device-1", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))
}

func TestRequestWithNoReplierErrors(t *testing.T) {
	tr := New()
	_, err := tr.Request(context.Background(), "recorder.control.unknown", nil)
	assert.ErrorIs(t, err, errNoReplier)
}
