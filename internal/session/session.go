// Package session implements the recording session state machine: one
// Session owns a recording's subscriptions, its per-topic buffers, and its
// aggregate counters, and enforces the legal state-transition table.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/coscene-io/zenoh-recorder-go/internal/buffer"
	"github.com/coscene-io/zenoh-recorder-go/internal/errs"
	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
)

// State is one of the five recording lifecycle states.
type State int

const (
	StateRecording State = iota
	StatePaused
	StateUploading
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateUploading:
		return "uploading"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Metadata describes a recording's caller-supplied identity and settings.
type Metadata struct {
	Scene            string
	Skills           []string
	Organization     string
	TaskID           string
	DeviceID         string
	DataCollectorID  string
	CompressionType  serializer.CompressionType
	CompressionLevel serializer.CompressionLevel
	RequestedTopics  []string
}

// TopicStats is a per-topic lifetime sample/byte count, surfaced in
// Snapshot.PerTopicStats as a supplemental breakdown beyond the aggregate
// counters. The control surface's StatusResponse does not include it.
type TopicStats struct {
	SampleCount int64
	ByteCount   int64
}

// BufferFactory builds a Buffer for one topic of a session, wiring in the
// shared flush queue and drop counter.
type BufferFactory func(recordingID, topic string) *buffer.Buffer

// Unsubscriber detaches a session's transport subscription for one topic
// pattern.
type Unsubscriber func()

// Session owns one recording's state, buffers, and subscriptions.
type Session struct {
	ID       string
	Metadata Metadata

	mu    sync.Mutex
	state State

	bufferFactory BufferFactory
	buffers       map[string]*buffer.Buffer
	unsubscribers []Unsubscriber

	drops map[string]int64

	startTime time.Time
	endTime   time.Time
}

// New builds a Session in the Recording state.
func New(id string, metadata Metadata, bufferFactory BufferFactory) *Session {
	return &Session{
		ID:            id,
		Metadata:      metadata,
		state:         StateRecording,
		bufferFactory: bufferFactory,
		buffers:       make(map[string]*buffer.Buffer),
		drops:         make(map[string]int64),
		startTime:     time.Now(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddUnsubscriber registers a cleanup callback invoked on cancel/finish.
func (s *Session) AddUnsubscriber(u Unsubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribers = append(s.unsubscribers, u)
}

// bufferFor lazily creates the topic buffer for topic, under the session lock.
func (s *Session) bufferFor(topic string) *buffer.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[topic]
	if !ok {
		b = s.bufferFactory(s.ID, topic)
		s.buffers[topic] = b
	}
	return b
}

// OnQueueFull implements buffer.DropCounter.
func (s *Session) OnQueueFull(recordingID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[topic]++
}

// HandleSample routes an inbound sample to its topic buffer, unless the
// session is paused (in which case the sample is silently discarded) or
// terminal (in which case it is also discarded — no subscription should be
// live by then, but this guards against a race during teardown).
func (s *Session) HandleSample(sample serializer.Sample) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateRecording {
		return
	}
	s.bufferFor(sample.Topic).Push(sample)
}

// Pause transitions Recording->Paused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return fmt.Errorf("%w: cannot pause from state %s", errs.ErrStateIllegal, s.state)
	}
	s.state = StatePaused
	return nil
}

// Resume transitions Paused->Recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: cannot resume from state %s", errs.ErrStateIllegal, s.state)
	}
	s.state = StateRecording
	return nil
}

// Cancel transitions any non-terminal state to Cancelled, dropping
// subscriptions and discarding buffered samples without flushing.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.isTerminalLocked() {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel from state %s", errs.ErrStateIllegal, s.state)
	}
	s.state = StateCancelled
	s.endTime = time.Now()
	unsubs := s.unsubscribers
	s.unsubscribers = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	return nil
}

// Finish transitions Recording|Paused -> Uploading, force-flushes every
// topic buffer, and (once the caller has waited for flushes to drain)
// should be followed by MarkFinished.
func (s *Session) Finish() error {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot finish from state %s", errs.ErrStateIllegal, s.state)
	}
	s.state = StateUploading
	unsubs := s.unsubscribers
	s.unsubscribers = nil
	buffers := make([]*buffer.Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		buffers = append(buffers, b)
	}
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, b := range buffers {
		b.ForceFlush()
	}
	return nil
}

// MarkFinished transitions Uploading -> Finished, recording the end time.
// Called by the manager once all of this recording's flush tasks have
// drained (or a bounded wait has expired).
func (s *Session) MarkFinished() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUploading {
		return fmt.Errorf("%w: cannot mark finished from state %s", errs.ErrStateIllegal, s.state)
	}
	s.state = StateFinished
	s.endTime = time.Now()
	return nil
}

func (s *Session) isTerminalLocked() bool {
	return s.state == StateFinished || s.state == StateCancelled
}

// Snapshot is a point-in-time, side-effect-free view of session status.
type Snapshot struct {
	State               State
	Metadata            Metadata
	ActiveTopics        []string
	BufferSizeBytes      int64
	TotalRecordedBytes   int64
	TotalRecordedSamples int64
	PerTopicStats        map[string]TopicStats
	DropCounts           map[string]int64
	StartTime            time.Time
	EndTime               time.Time
}

// Status returns a Snapshot. It never mutates session state.
func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	perTopic := make(map[string]TopicStats, len(s.buffers))
	var bufferBytes, totalBytes, totalSamples int64

	for topic, b := range s.buffers {
		_, bytes := b.Stats()
		bufferBytes += bytes

		samples, bytesLifetime := b.TotalStats()
		perTopic[topic] = TopicStats{SampleCount: samples, ByteCount: bytesLifetime}
		totalBytes += bytesLifetime
		totalSamples += samples
	}

	// ActiveTopics is the requested subscription set, unioned with any
	// buffer created outside it (e.g. a wildcard pattern resolving to a
	// concrete topic at delivery time). Requested topics must be reported
	// even before their first sample arrives.
	seen := make(map[string]bool, len(s.Metadata.RequestedTopics)+len(s.buffers))
	topics := make([]string, 0, len(s.Metadata.RequestedTopics)+len(s.buffers))
	for _, topic := range s.Metadata.RequestedTopics {
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	for topic := range s.buffers {
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}

	drops := make(map[string]int64, len(s.drops))
	for k, v := range s.drops {
		drops[k] = v
	}

	return Snapshot{
		State:                s.state,
		Metadata:             s.Metadata,
		ActiveTopics:         topics,
		BufferSizeBytes:      bufferBytes,
		TotalRecordedBytes:   totalBytes,
		TotalRecordedSamples: totalSamples,
		PerTopicStats:        perTopic,
		DropCounts:           drops,
		StartTime:            s.startTime,
		EndTime:              s.endTime,
	}
}
