package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscene-io/zenoh-recorder-go/internal/buffer"
	"github.com/coscene-io/zenoh-recorder-go/internal/errs"
	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
)

type collectingQueue struct {
	mu    sync.Mutex
	tasks []buffer.Task
}

func (c *collectingQueue) TryEnqueue(t buffer.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return true
}

func (c *collectingQueue) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func newTestSession(q *collectingQueue) *Session {
	return newTestSessionWithTopics(q, nil)
}

func newTestSessionWithTopics(q *collectingQueue, topics []string) *Session {
	factory := func(recordingID, topic string) *buffer.Buffer {
		return buffer.New(recordingID, topic, buffer.Policy{MaxBytes: 1 << 20, MinSamplesToFlush: 1}, q, nil)
	}
	return New("rec-1", Metadata{DeviceID: "d1", RequestedTopics: topics}, factory)
}

func TestStateTransitionTable(t *testing.T) {
	q := &collectingQueue{}

	t.Run("pause from recording succeeds", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Pause())
		assert.Equal(t, StatePaused, s.State())
	})

	t.Run("pause from paused is illegal", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Pause())
		err := s.Pause()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrStateIllegal))
		assert.Equal(t, StatePaused, s.State())
	})

	t.Run("resume from recording is illegal", func(t *testing.T) {
		s := newTestSession(q)
		err := s.Resume()
		require.Error(t, err)
		assert.Equal(t, StateRecording, s.State())
	})

	t.Run("resume from paused succeeds", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Pause())
		require.NoError(t, s.Resume())
		assert.Equal(t, StateRecording, s.State())
	})

	t.Run("cancel from any non-terminal state succeeds", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Cancel())
		assert.Equal(t, StateCancelled, s.State())
	})

	t.Run("cancel from terminal is illegal", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Cancel())
		err := s.Cancel()
		require.Error(t, err)
	})

	t.Run("finish from recording transitions via uploading", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Finish())
		assert.Equal(t, StateUploading, s.State())
		require.NoError(t, s.MarkFinished())
		assert.Equal(t, StateFinished, s.State())
	})

	t.Run("second finish is illegal", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Finish())
		require.NoError(t, s.MarkFinished())
		err := s.Finish()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrStateIllegal))
	})

	t.Run("finish from terminal is illegal", func(t *testing.T) {
		s := newTestSession(q)
		require.NoError(t, s.Cancel())
		err := s.Finish()
		require.Error(t, err)
	})
}

func TestCancelDoesNotFlushNewData(t *testing.T) {
	q := &collectingQueue{}
	s := newTestSession(q)

	s.HandleSample(serializer.Sample{Topic: "/a", Payload: []byte("x")})
	require.NoError(t, s.Cancel())

	assert.Zero(t, q.Count())
}

func TestPausedSamplesAreDiscarded(t *testing.T) {
	q := &collectingQueue{}
	s := newTestSession(q)

	require.NoError(t, s.Pause())
	s.HandleSample(serializer.Sample{Topic: "/a", Payload: []byte("discarded")})
	require.NoError(t, s.Resume())
	s.HandleSample(serializer.Sample{Topic: "/a", Payload: []byte("kept")})

	require.NoError(t, s.Finish())
	require.Equal(t, 1, q.Count())
	assert.Len(t, q.tasks[0].Samples, 1)
	assert.Equal(t, "kept", string(q.tasks[0].Samples[0].Payload))
}

func TestStatusIsPureRead(t *testing.T) {
	q := &collectingQueue{}
	s := newTestSession(q)
	s.HandleSample(serializer.Sample{Topic: "/a", Payload: []byte("x")})

	snap1 := s.Status()
	snap2 := s.Status()
	assert.Equal(t, snap1.State, snap2.State)
	assert.Equal(t, snap1.TotalRecordedSamples, snap2.TotalRecordedSamples)
	assert.Equal(t, StateRecording, s.State())
}

func TestActiveTopicsReportedBeforeFirstSample(t *testing.T) {
	q := &collectingQueue{}
	s := newTestSessionWithTopics(q, []string{"/a", "/b"})

	snap := s.Status()
	assert.ElementsMatch(t, []string{"/a", "/b"}, snap.ActiveTopics)
}

func TestFinishForceFlushesAllBuffers(t *testing.T) {
	q := &collectingQueue{}
	s := newTestSession(q)

	s.HandleSample(serializer.Sample{Topic: "/a", Payload: []byte("1")})
	s.HandleSample(serializer.Sample{Topic: "/b", Payload: []byte("2")})

	require.NoError(t, s.Finish())
	assert.Equal(t, 2, q.Count())
}
