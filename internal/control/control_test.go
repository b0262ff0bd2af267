package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscene-io/zenoh-recorder-go/internal/buffer"
	"github.com/coscene-io/zenoh-recorder-go/internal/flush"
	"github.com/coscene-io/zenoh-recorder-go/internal/logging"
	"github.com/coscene-io/zenoh-recorder-go/internal/manager"
	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
	"github.com/coscene-io/zenoh-recorder-go/internal/session"
	"github.com/coscene-io/zenoh-recorder-go/internal/storage"
	"github.com/coscene-io/zenoh-recorder-go/internal/transport/memtransport"
)

type fakeStorage struct {
	mu     sync.Mutex
	writes int
}

func (f *fakeStorage) Initialize(ctx context.Context) error { return nil }
func (f *fakeStorage) WriteRecord(ctx context.Context, entry string, timestampUs int64, data []byte, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return nil
}
func (f *fakeStorage) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeStorage) BackendType() string                  { return "fake" }

func newTestSurface(t *testing.T) (*Surface, *memtransport.Transport) {
	t.Helper()
	store := &fakeStorage{}
	pool := flush.NewPool(100, 2, store, storage.DefaultRetryConfig(1), nil, logging.Default())

	mt := memtransport.New()

	mgr := manager.New(manager.Config{
		Subscriber: func(ctx context.Context, pattern string, onSample func(serializer.Sample)) (session.Unsubscriber, error) {
			return func() {}, nil
		},
		Storage:           store,
		Pool:              pool,
		BufferPolicy:      buffer.Policy{MaxBytes: 1 << 20, MinSamplesToFlush: 1},
		FinishWaitTimeout: 2 * time.Second,
		Logger:            logging.Default(),
	})
	pool.Start()

	surface := New(mgr, "my-bucket", logging.Default())
	_, _, err := surface.Register(mt, "recorder.control", "recorder.status")
	require.NoError(t, err)

	return surface, mt
}

func TestStartCommandRoundTrip(t *testing.T) {
	_, mt := newTestSurface(t)

	req := CommandRequest{Command: "start", DeviceID: "d1", Topics: []string{"/a"}, Skills: []string{}}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	reply, err := mt.Request(context.Background(), "recorder.control.d1", payload)
	require.NoError(t, err)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RecordingID)
	assert.Equal(t, "my-bucket", resp.BucketName)
}

func TestStartCommandMissingDeviceIDFails(t *testing.T) {
	_, mt := newTestSurface(t)

	req := CommandRequest{Command: "start", Topics: []string{"/a"}}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	reply, err := mt.Request(context.Background(), "recorder.control.d1", payload)
	require.NoError(t, err)

	var resp CommandResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.False(t, resp.Success)
}

func TestStatusForUnknownRecordingReturnsIdle(t *testing.T) {
	_, mt := newTestSurface(t)

	reply, err := mt.Request(context.Background(), "recorder.status.nope", nil)
	require.NoError(t, err)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "idle", resp.Status)
}

func TestFullLifecycleViaControlSurface(t *testing.T) {
	_, mt := newTestSurface(t)

	startReq := CommandRequest{Command: "start", DeviceID: "d1", Topics: []string{"/a"}}
	payload, _ := json.Marshal(startReq)
	reply, err := mt.Request(context.Background(), "recorder.control.d1", payload)
	require.NoError(t, err)

	var startResp CommandResponse
	require.NoError(t, json.Unmarshal(reply, &startResp))
	require.True(t, startResp.Success)

	statusPayload, err := mt.Request(context.Background(), "recorder.status."+startResp.RecordingID, nil)
	require.NoError(t, err)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(statusPayload, &status))
	assert.True(t, status.Success)
	assert.Equal(t, "recording", status.Status)
	assert.Equal(t, []string{"/a"}, status.ActiveTopics)

	finishReq := CommandRequest{Command: "finish", RecordingID: startResp.RecordingID, DeviceID: "d1"}
	finishPayload, _ := json.Marshal(finishReq)
	finishReply, err := mt.Request(context.Background(), "recorder.control.d1", finishPayload)
	require.NoError(t, err)
	var finishResp CommandResponse
	require.NoError(t, json.Unmarshal(finishReply, &finishResp))
	assert.True(t, finishResp.Success)

	statusPayload2, err := mt.Request(context.Background(), "recorder.status."+startResp.RecordingID, nil)
	require.NoError(t, err)
	var status2 StatusResponse
	require.NoError(t, json.Unmarshal(statusPayload2, &status2))
	assert.Equal(t, "finished", status2.Status)
}
