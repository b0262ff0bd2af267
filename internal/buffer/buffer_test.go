package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []Task
	full  bool
}

func (f *fakeQueue) TryEnqueue(t Task) bool {
	if f.full {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return true
}

func (f *fakeQueue) Tasks() []Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

type fakeDropCounter struct {
	mu     sync.Mutex
	drops  int
}

func (f *fakeDropCounter) OnQueueFull(recordingID, topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops++
}

func TestPushTriggersSizeFlush(t *testing.T) {
	q := &fakeQueue{}
	b := New("rec-1", "/a", Policy{MaxBytes: 10, MinSamplesToFlush: 1}, q, nil)

	b.Push(serializer.Sample{Topic: "/a", Payload: []byte("12345")})
	assert.Empty(t, q.Tasks())

	b.Push(serializer.Sample{Topic: "/a", Payload: []byte("67890")})
	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Len(t, tasks[0].Samples, 2)

	sc, bc := b.Stats()
	assert.Zero(t, sc)
	assert.Zero(t, bc)
}

func TestPushTriggersAgeFlush(t *testing.T) {
	q := &fakeQueue{}
	b := New("rec-1", "/a", Policy{MaxAge: 10 * time.Millisecond, MinSamplesToFlush: 1}, q, nil)

	b.Push(serializer.Sample{Topic: "/a", Payload: []byte("x")})
	assert.Empty(t, q.Tasks())

	time.Sleep(15 * time.Millisecond)
	b.Push(serializer.Sample{Topic: "/a", Payload: []byte("y")})

	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Len(t, tasks[0].Samples, 2)
}

func TestForceFlushDrainsRemainder(t *testing.T) {
	q := &fakeQueue{}
	b := New("rec-1", "/a", Policy{MaxBytes: 1 << 20, MinSamplesToFlush: 1}, q, nil)

	b.Push(serializer.Sample{Topic: "/a", Payload: []byte("x")})
	assert.True(t, b.ForceFlush())
	assert.False(t, b.ForceFlush())

	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Len(t, tasks[0].Samples, 1)
}

func TestPushOrderPreserved(t *testing.T) {
	q := &fakeQueue{}
	b := New("rec-1", "/a", Policy{MaxBytes: 1 << 20, MinSamplesToFlush: 1}, q, nil)

	for i := 0; i < 5; i++ {
		b.Push(serializer.Sample{Topic: "/a", Payload: []byte{byte(i)}})
	}
	b.ForceFlush()

	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Samples, 5)
	for i, s := range tasks[0].Samples {
		assert.Equal(t, byte(i), s.Payload[0])
	}
}

func TestQueueFullIncrementsDropCounter(t *testing.T) {
	q := &fakeQueue{full: true}
	drops := &fakeDropCounter{}
	b := New("rec-1", "/a", Policy{MaxBytes: 1, MinSamplesToFlush: 1}, q, drops)

	b.Push(serializer.Sample{Topic: "/a", Payload: []byte("x")})

	drops.mu.Lock()
	defer drops.mu.Unlock()
	assert.Equal(t, 1, drops.drops)
}

func TestConcurrentPushesAreSerialized(t *testing.T) {
	q := &fakeQueue{}
	b := New("rec-1", "/a", Policy{MaxBytes: 1 << 30, MinSamplesToFlush: 1}, q, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Push(serializer.Sample{Topic: "/a", Payload: []byte("x")})
		}()
	}
	wg.Wait()

	sc, _ := b.Stats()
	assert.Equal(t, int64(100), sc)
}
