// Package flush implements the bounded flush-task queue and the fixed pool
// of workers that drain it: each worker serializes a task's samples and
// writes the resulting frame to the storage backend with retry.
package flush

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/coscene-io/zenoh-recorder-go/internal/buffer"
	"github.com/coscene-io/zenoh-recorder-go/internal/logging"
	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
	"github.com/coscene-io/zenoh-recorder-go/internal/storage"
)

// CompressionSelector resolves the compression type/level for a given
// recording id at flush time, so a session's choice at start_recording is
// honored without threading it through every task.
type CompressionSelector interface {
	CompressionFor(recordingID string) (serializer.CompressionType, serializer.CompressionLevel)
}

// Pool is a fixed-size worker pool draining a bounded flush-task queue.
type Pool struct {
	queue      chan buffer.Task
	numWorkers int
	storage    storage.Client
	retryCfg   storage.RetryConfig
	compress   CompressionSelector
	log        *logging.Logger
	ser        *serializer.Serializer

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}

	enqueued atomic.Int64
	dropped  atomic.Int64
	flushed  atomic.Int64
	failed   atomic.Int64
}

// NewPool builds a Pool with the given queue capacity and worker count. It
// does not start consuming until Start is called.
func NewPool(capacity, numWorkers int, client storage.Client, retryCfg storage.RetryConfig, compress CompressionSelector, log *logging.Logger) *Pool {
	return &Pool{
		queue:      make(chan buffer.Task, capacity),
		numWorkers: numWorkers,
		storage:    client,
		retryCfg:   retryCfg,
		compress:   compress,
		log:        log,
		ser:        serializer.New(),
		done:       make(chan struct{}),
	}
}

// TryEnqueue implements buffer.Queue: a non-blocking, best-effort send.
func (p *Pool) TryEnqueue(t buffer.Task) bool {
	select {
	case p.queue <- t:
		p.enqueued.Add(1)
		return true
	default:
		p.dropped.Add(1)
		p.log.Warn("flush queue full, dropping flush task",
			zap.String("recording_id", t.RecordingID),
			zap.String("topic", t.Topic))
		return false
	}
}

// SetCompressionSelector wires the selector after construction, resolving
// the constructor-order cycle between Pool and its owning manager (the
// manager needs a *Pool to build, and the pool needs the manager to resolve
// a session's compression choice).
func (p *Pool) SetCompressionSelector(compress CompressionSelector) {
	p.compress = compress
}

// Start launches the worker goroutines. Safe to call once.
func (p *Pool) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.WithFields(zap.Int("worker_id", id))

	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(log, task)
		case <-p.done:
			// Drain remaining tasks best-effort before exiting.
			for {
				select {
				case task := <-p.queue:
					p.process(log, task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(log *logging.Logger, task buffer.Task) {
	ct, level := serializer.CompressionZstdLike, serializer.LevelDefault
	if p.compress != nil {
		ct, level = p.compress.CompressionFor(task.RecordingID)
	}

	frame, err := p.ser.Encode(task.Topic, task.RecordingID, task.Samples, ct, level, nil)
	if err != nil {
		log.Error("serialization failed, dropping flush task",
			zap.String("recording_id", task.RecordingID),
			zap.String("topic", task.Topic),
			zap.Error(err))
		p.failed.Add(1)
		return
	}

	entry := storage.TopicToEntry(task.Topic)
	labels := map[string]string{
		"recording_id": task.RecordingID,
		"topic":        task.Topic,
		"compression":  ct.String(),
		"format":       "mcap",
		"count":        strconv.Itoa(len(task.Samples)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err = storage.WriteWithRetry(ctx, p.storage, log, entry, time.Now().UnixMicro(), frame, labels, p.retryCfg)
	if err != nil {
		log.Error("flush task abandoned after storage write failure",
			zap.String("recording_id", task.RecordingID),
			zap.String("topic", task.Topic),
			zap.Error(err))
		p.failed.Add(1)
		return
	}
	p.flushed.Add(1)
}

// Shutdown signals workers to stop accepting new work once the queue is
// drained, waiting up to deadline.
func (p *Pool) Shutdown(deadline time.Duration) {
	p.doneOnce.Do(func() { close(p.done) })

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(deadline):
		p.log.Warn("flush pool shutdown deadline exceeded, workers may still be running")
	}
}

// Stats returns cumulative queue/worker counters.
func (p *Pool) Stats() (enqueued, dropped, flushed, failed int64) {
	return p.enqueued.Load(), p.dropped.Load(), p.flushed.Load(), p.failed.Load()
}
