// Package control wires the recorder's two request/reply endpoints onto a
// transport.Transport: a command channel keyed by device id, and a status
// channel keyed by recording id. Handlers decode JSON, dispatch to the
// manager, and encode a JSON reply. They run inline in whatever goroutine
// the transport calls them on; the NATS transport gives each request its
// own goroutine so a slow handler cannot block others.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/coscene-io/zenoh-recorder-go/internal/logging"
	"github.com/coscene-io/zenoh-recorder-go/internal/manager"
	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
	"github.com/coscene-io/zenoh-recorder-go/internal/session"
	"github.com/coscene-io/zenoh-recorder-go/internal/transport"
)

// CommandRequest is the wire form of a command query.
type CommandRequest struct {
	Command          string   `json:"command"`
	RecordingID      string   `json:"recording_id,omitempty"`
	DeviceID         string   `json:"device_id"`
	Scene            string   `json:"scene,omitempty"`
	Organization     string   `json:"organization,omitempty"`
	TaskID           string   `json:"task_id,omitempty"`
	DataCollectorID  string   `json:"data_collector_id,omitempty"`
	Skills           []string `json:"skills"`
	Topics           []string `json:"topics"`
	CompressionType  string   `json:"compression_type,omitempty"`
	CompressionLevel string   `json:"compression_level,omitempty"`
}

// CommandResponse is the wire form of a command reply.
type CommandResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RecordingID string `json:"recording_id,omitempty"`
	BucketName  string `json:"bucket_name,omitempty"`
}

// StatusResponse is the wire form of a status reply.
type StatusResponse struct {
	Success              bool              `json:"success"`
	Message              string            `json:"message"`
	Status               string            `json:"status"`
	Scene                string            `json:"scene,omitempty"`
	Skills               []string          `json:"skills,omitempty"`
	Organization         string            `json:"organization,omitempty"`
	TaskID               string            `json:"task_id,omitempty"`
	DeviceID             string            `json:"device_id,omitempty"`
	DataCollectorID      string            `json:"data_collector_id,omitempty"`
	ActiveTopics         []string          `json:"active_topics"`
	BufferSizeBytes      int32             `json:"buffer_size_bytes"`
	TotalRecordedBytes   int64             `json:"total_recorded_bytes"`
	TotalRecordedSamples int64             `json:"total_recorded_samples,omitempty"`
	DropCounts           map[string]int64  `json:"drop_counts,omitempty"`
}

// Surface binds the manager onto a transport's command and status subjects.
type Surface struct {
	mgr        *manager.Manager
	bucketName string
	log        *logging.Logger
}

// New builds a Surface. bucketName is echoed on successful start responses
// (empty when the active storage backend has no single bucket identity).
func New(mgr *manager.Manager, bucketName string, log *logging.Logger) *Surface {
	return &Surface{mgr: mgr, bucketName: bucketName, log: log}
}

// Register installs the command and status repliers on t: the command
// replier on the wildcard subject `<keyPrefix>.*` and the status replier on
// `<statusKey>.*`. The command replier answers commands sent to
// `<keyPrefix>.<device_id>` for any device id; it is not restricted to one
// device, and the subject's device token is not compared with the request's
// device_id.
func (s *Surface) Register(t transport.Transport, keyPrefix, statusKey string) (transport.Subscription, transport.Subscription, error) {
	cmdSub, err := t.RegisterReplier(keyPrefix+".*", s.handleCommand)
	if err != nil {
		return nil, nil, fmt.Errorf("registering command replier: %w", err)
	}

	statusSub, err := t.RegisterReplier(statusKey+".*", s.handleStatus)
	if err != nil {
		cmdSub.Unsubscribe()
		return nil, nil, fmt.Errorf("registering status replier: %w", err)
	}

	return cmdSub, statusSub, nil
}

func (s *Surface) handleCommand(ctx context.Context, msg transport.Message) []byte {
	var req CommandRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return s.encodeCommand(CommandResponse{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
	}

	resp := s.dispatchCommand(ctx, req)
	return s.encodeCommand(resp)
}

func (s *Surface) dispatchCommand(ctx context.Context, req CommandRequest) CommandResponse {
	if req.DeviceID == "" {
		return CommandResponse{Success: false, Message: "device_id is required"}
	}

	switch req.Command {
	case "start":
		return s.handleStart(ctx, req)
	case "pause":
		return s.simpleResult(req.RecordingID, s.mgr.Pause(req.RecordingID))
	case "resume":
		return s.simpleResult(req.RecordingID, s.mgr.Resume(req.RecordingID))
	case "cancel":
		return s.simpleResult(req.RecordingID, s.mgr.Cancel(req.RecordingID))
	case "finish":
		return s.simpleResult(req.RecordingID, s.mgr.Finish(req.RecordingID))
	default:
		return CommandResponse{Success: false, Message: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Surface) handleStart(ctx context.Context, req CommandRequest) CommandResponse {
	ct := serializer.CompressionZstdLike
	if req.CompressionType != "" {
		parsed, err := serializer.ParseCompressionType(req.CompressionType)
		if err != nil {
			return CommandResponse{Success: false, Message: err.Error()}
		}
		ct = parsed
	}

	level := serializer.LevelDefault
	if req.CompressionLevel != "" {
		parsed, err := serializer.ParseCompressionLevel(req.CompressionLevel)
		if err != nil {
			return CommandResponse{Success: false, Message: err.Error()}
		}
		level = parsed
	}

	sess, err := s.mgr.Start(ctx, manager.StartRequest{
		RecordingID:      req.RecordingID,
		DeviceID:         req.DeviceID,
		Scene:            req.Scene,
		Skills:           req.Skills,
		Organization:     req.Organization,
		TaskID:           req.TaskID,
		DataCollectorID:  req.DataCollectorID,
		Topics:           req.Topics,
		CompressionType:  ct,
		CompressionLevel: level,
	})
	if err != nil {
		return CommandResponse{Success: false, Message: err.Error()}
	}

	return CommandResponse{Success: true, Message: "recording started", RecordingID: sess.ID, BucketName: s.bucketName}
}

func (s *Surface) simpleResult(recordingID string, err error) CommandResponse {
	if err != nil {
		return CommandResponse{Success: false, Message: err.Error(), RecordingID: recordingID}
	}
	return CommandResponse{Success: true, Message: "ok", RecordingID: recordingID}
}

func (s *Surface) encodeCommand(resp CommandResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to encode command response", zap.Error(err))
		return []byte(`{"success":false,"message":"internal encoding error"}`)
	}
	return data
}

// handleStatus extracts the recording id as the final dot-delimited token
// of the inbound subject and emits a status snapshot.
func (s *Surface) handleStatus(ctx context.Context, msg transport.Message) []byte {
	id := recordingIDFromSubject(msg.Subject)
	if id == "" {
		return s.encodeStatus(StatusResponse{Success: false, Message: "no recording id in subject", Status: "idle"})
	}

	result := s.mgr.GetStatus(id)
	if !result.Found {
		return s.encodeStatus(StatusResponse{Success: false, Message: fmt.Sprintf("recording %q not found", id), Status: "idle"})
	}

	snap := result.Snapshot
	return s.encodeStatus(StatusResponse{
		Success:              true,
		Message:              "ok",
		Status:               statusString(snap.State),
		Scene:                snap.Metadata.Scene,
		Skills:               snap.Metadata.Skills,
		Organization:         snap.Metadata.Organization,
		TaskID:               snap.Metadata.TaskID,
		DeviceID:             snap.Metadata.DeviceID,
		DataCollectorID:      snap.Metadata.DataCollectorID,
		ActiveTopics:         snap.ActiveTopics,
		BufferSizeBytes:      int32(snap.BufferSizeBytes),
		TotalRecordedBytes:   snap.TotalRecordedBytes,
		TotalRecordedSamples: snap.TotalRecordedSamples,
		DropCounts:           snap.DropCounts,
	})
}

func (s *Surface) encodeStatus(resp StatusResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to encode status response", zap.Error(err))
		return []byte(`{"success":false,"message":"internal encoding error","status":"idle"}`)
	}
	return data
}

func recordingIDFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func statusString(st session.State) string {
	switch st {
	case session.StateRecording:
		return "recording"
	case session.StatePaused:
		return "paused"
	case session.StateUploading:
		return "uploading"
	case session.StateFinished:
		return "finished"
	case session.StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}
