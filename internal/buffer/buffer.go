// Package buffer implements the per-(recording, topic) double-buffered
// accumulator: pushes append to an active sample list; crossing a size or
// age threshold atomically swaps the active list out, drains it into a
// flush task, and best-effort enqueues the task onto a shared bounded queue.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
)

// Task is an immutable unit of work handed from a Buffer to the flush
// queue: an owned sample list for one (recording, topic).
type Task struct {
	RecordingID string
	Topic       string
	Samples     []serializer.Sample
}

// Policy controls when a Buffer triggers a flush.
type Policy struct {
	MaxBytes          int64
	MaxAge            time.Duration
	MinSamplesToFlush int
}

// Queue is the minimal contract a Buffer needs from the shared flush-task
// queue: a non-blocking, best-effort enqueue.
type Queue interface {
	TryEnqueue(Task) bool
}

// DropCounter is an optional sink for dropped-enqueue counting (wired to
// the owning session's aggregate stats).
type DropCounter interface {
	OnQueueFull(recordingID, topic string)
}

// Buffer is a double-buffered accumulator for one (recording, topic) pair.
//
// The active list is guarded by a mutex (not a lock-free structure): the
// critical section is append-and-maybe-swap, which is short enough that a
// mutex never becomes a bottleneck relative to the network-bound flush
// path it feeds.
type Buffer struct {
	recordingID string
	topic       string
	policy      Policy
	queue       Queue
	drops       DropCounter

	mu            sync.Mutex
	active        []serializer.Sample
	activeBytes   int64
	lastFlushTime time.Time

	totalSamples atomic.Int64
	totalBytes   atomic.Int64
}

// New builds a Buffer for one (recordingID, topic) pair.
func New(recordingID, topic string, policy Policy, queue Queue, drops DropCounter) *Buffer {
	return &Buffer{
		recordingID:   recordingID,
		topic:         topic,
		policy:        policy,
		queue:         queue,
		drops:         drops,
		lastFlushTime: time.Now(),
	}
}

// Push appends sample to the active list, updates counters, and triggers a
// flush if a threshold is crossed.
func (b *Buffer) Push(sample serializer.Sample) {
	b.mu.Lock()
	b.active = append(b.active, sample)
	b.activeBytes += int64(len(sample.Payload))
	b.totalSamples.Add(1)
	b.totalBytes.Add(int64(len(sample.Payload)))

	shouldFlush := b.shouldFlushLocked()
	var task *Task
	if shouldFlush {
		task = b.swapLocked()
	}
	b.mu.Unlock()

	if task != nil {
		b.enqueue(*task)
	}
}

func (b *Buffer) shouldFlushLocked() bool {
	if len(b.active) < b.policy.MinSamplesToFlush {
		return false
	}
	if b.policy.MaxBytes > 0 && b.activeBytes >= b.policy.MaxBytes {
		return true
	}
	if b.policy.MaxAge > 0 && time.Since(b.lastFlushTime) >= b.policy.MaxAge {
		return true
	}
	return false
}

// swapLocked must be called with b.mu held. It takes ownership of the
// active list, resets counters, and returns a Task ready to enqueue outside
// the lock.
func (b *Buffer) swapLocked() *Task {
	if len(b.active) == 0 {
		return nil
	}
	samples := b.active
	b.active = nil
	b.activeBytes = 0
	b.lastFlushTime = time.Now()

	return &Task{RecordingID: b.recordingID, Topic: b.topic, Samples: samples}
}

func (b *Buffer) enqueue(task Task) bool {
	if !b.queue.TryEnqueue(task) {
		if b.drops != nil {
			b.drops.OnQueueFull(b.recordingID, b.topic)
		}
		return false
	}
	return true
}

// ForceFlush unconditionally swaps and enqueues any buffered samples. Used
// during session termination. Returns true if a non-empty task was
// enqueued.
func (b *Buffer) ForceFlush() bool {
	b.mu.Lock()
	task := b.swapLocked()
	b.mu.Unlock()

	if task == nil {
		return false
	}
	return b.enqueue(*task)
}

// Stats returns the active-buffer sample and byte counters.
func (b *Buffer) Stats() (sampleCount, byteCount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.active)), b.activeBytes
}

// TotalStats returns the lifetime sample and byte counts pushed through
// this buffer, independent of flush state.
func (b *Buffer) TotalStats() (totalSamples, totalBytes int64) {
	return b.totalSamples.Load(), b.totalBytes.Load()
}
