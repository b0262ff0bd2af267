// Command recorder runs the zenoh-recorder-go service: it subscribes to
// configured topics over the transport, buffers and flushes batches into
// the configured storage backend, and answers control/status queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/coscene-io/zenoh-recorder-go/internal/buffer"
	"github.com/coscene-io/zenoh-recorder-go/internal/config"
	"github.com/coscene-io/zenoh-recorder-go/internal/control"
	"github.com/coscene-io/zenoh-recorder-go/internal/flush"
	"github.com/coscene-io/zenoh-recorder-go/internal/logging"
	"github.com/coscene-io/zenoh-recorder-go/internal/manager"
	"github.com/coscene-io/zenoh-recorder-go/internal/serializer"
	"github.com/coscene-io/zenoh-recorder-go/internal/session"
	storagelib "github.com/coscene-io/zenoh-recorder-go/internal/storage"
	"github.com/coscene-io/zenoh-recorder-go/internal/storage/filesystem"
	"github.com/coscene-io/zenoh-recorder-go/internal/storage/gcsbackend"
	"github.com/coscene-io/zenoh-recorder-go/internal/storage/reductstore"
	"github.com/coscene-io/zenoh-recorder-go/internal/transport"
	"github.com/coscene-io/zenoh-recorder-go/internal/transport/natstransport"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml directory")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	logging.SetDefault(logger)
	defer logger.Sync()

	ctx := context.Background()

	store, bucketName, err := buildStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("building storage backend", zap.Error(err))
	}
	if err := store.Initialize(ctx); err != nil {
		logger.Fatal("initializing storage backend", zap.Error(err))
	}

	nt, err := natstransport.Connect(natstransport.Config{
		URLs:           cfg.Transport.Connect,
		RequestTimeout: cfg.Control.Timeout(),
	}, logger)
	if err != nil {
		logger.Fatal("connecting transport", zap.Error(err))
	}
	defer nt.Close()

	pool := flush.NewPool(
		cfg.Workers.QueueCapacity,
		cfg.Workers.FlushWorkers,
		store,
		storagelib.DefaultRetryConfig(cfg.Storage.ReductStore.MaxRetries),
		nil,
		logger,
	)

	mgr := manager.New(manager.Config{
		Subscriber:        makeSubscriber(nt, logger),
		Storage:           store,
		Pool:              pool,
		BufferPolicy:      buffer.Policy{MaxBytes: cfg.FlushPolicy.MaxBufferSizeBytes, MaxAge: cfg.FlushPolicy.MaxBufferDuration(), MinSamplesToFlush: cfg.FlushPolicy.MinSamplesPerFlush},
		FinishWaitTimeout: cfg.Control.Timeout(),
		Logger:            logger,
	})
	pool.Start()

	surface := control.New(mgr, bucketName, logger)
	cmdSub, statusSub, err := surface.Register(nt, cfg.Control.KeyPrefix, cfg.Control.StatusKey)
	if err != nil {
		logger.Fatal("registering control surface", zap.Error(err))
	}
	defer cmdSub.Unsubscribe()
	defer statusSub.Unsubscribe()

	logger.Info("recorder started",
		zap.String("storage_backend", store.BackendType()),
		zap.Int("flush_workers", cfg.Workers.FlushWorkers),
		zap.Int("queue_capacity", cfg.Workers.QueueCapacity),
	)

	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			logger.Warn("pprof server stopped", zap.Error(err))
		}
	}()

	stopStats := make(chan struct{})
	go logStats(logger, pool, stopStats)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	close(stopStats)

	logger.Info("shutdown signal received, draining")
	deadline := cfg.Control.Timeout()
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		mgr.Shutdown(deadline)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		os.Exit(0)
	case <-time.After(deadline + time.Second):
		logger.Error("shutdown deadline exceeded")
		os.Exit(1)
	}
}

func buildStorage(ctx context.Context, cfg *config.Config) (storagelib.Client, string, error) {
	switch cfg.Storage.Backend {
	case "reductstore":
		b := reductstore.New(reductstore.Config{
			URL:            cfg.Storage.ReductStore.URL,
			BucketName:     cfg.Storage.ReductStore.BucketName,
			APIToken:       cfg.Storage.ReductStore.APIToken,
			TimeoutSeconds: cfg.Storage.ReductStore.TimeoutSeconds,
		})
		return b, cfg.Storage.ReductStore.BucketName, nil
	case "filesystem":
		b := filesystem.New(filesystem.Config{
			BasePath:   cfg.Storage.Filesystem.BasePath,
			FileFormat: cfg.Storage.Filesystem.FileFormat,
		})
		return b, "", nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("building gcs client: %w", err)
		}
		b := gcsbackend.New(client, gcsbackend.Config{
			Bucket:       cfg.Storage.GCS.Bucket,
			ObjectPrefix: cfg.Storage.GCS.ObjectPrefix,
		})
		return b, cfg.Storage.GCS.Bucket, nil
	default:
		return nil, "", fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// makeSubscriber adapts the transport's Subscribe primitive to the
// manager's Subscriber contract, decoding each inbound message as an
// opaque payload on the subscribed topic.
func makeSubscriber(t transport.Transport, logger *logging.Logger) manager.Subscriber {
	return func(ctx context.Context, pattern string, onSample func(serializer.Sample)) (session.Unsubscriber, error) {
		sub, err := t.Subscribe(pattern, func(msg transport.Message) {
			onSample(serializer.Sample{
				Topic:   msg.Subject,
				Payload: msg.Payload,
			})
		})
		if err != nil {
			return nil, err
		}
		return func() {
			if err := sub.Unsubscribe(); err != nil {
				logger.Warn("error unsubscribing", zap.String("pattern", pattern), zap.Error(err))
			}
		}, nil
	}
}

func logStats(logger *logging.Logger, pool *flush.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			enqueued, dropped, flushed, failed := pool.Stats()
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			logger.Info("flush pool stats",
				zap.Int64("enqueued", enqueued),
				zap.Int64("dropped", dropped),
				zap.Int64("flushed", flushed),
				zap.Int64("failed", failed),
				zap.Float64("heap_alloc_mb", float64(mem.Alloc)/1024/1024),
			)
		}
	}
}
