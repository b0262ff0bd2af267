// Package config loads and validates the recorder's configuration, binding
// environment variables and an optional YAML file on top of a set of
// built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FlushPolicyConfig controls when a topic buffer swaps and enqueues a flush task.
type FlushPolicyConfig struct {
	MaxBufferSizeBytes      int64 `mapstructure:"maxBufferSizeBytes"`
	MaxBufferDurationSecond int64 `mapstructure:"maxBufferDurationSeconds"`
	MinSamplesPerFlush      int   `mapstructure:"minSamplesPerFlush"`
}

// MaxBufferDuration returns the flush age threshold as a time.Duration.
func (f FlushPolicyConfig) MaxBufferDuration() time.Duration {
	return time.Duration(f.MaxBufferDurationSecond) * time.Second
}

// CompressionConfig controls the default and per-topic compression settings.
type CompressionConfig struct {
	DefaultType  string            `mapstructure:"defaultType"`
	DefaultLevel string            `mapstructure:"defaultLevel"`
	PerTopic     map[string]string `mapstructure:"perTopic"`
}

// WorkerConfig controls the flush worker pool and its queue.
type WorkerConfig struct {
	FlushWorkers  int `mapstructure:"flushWorkers"`
	QueueCapacity int `mapstructure:"queueCapacity"`
}

// ControlConfig controls the control-surface subjects and timeouts.
type ControlConfig struct {
	KeyPrefix      string `mapstructure:"keyPrefix"`
	StatusKey      string `mapstructure:"statusKey"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

// Timeout returns the control-surface reply timeout as a time.Duration.
func (c ControlConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchemaConfig controls schema-descriptor emission in the serializer.
type SchemaConfig struct {
	DefaultFormat    string            `mapstructure:"defaultFormat"`
	IncludeMetadata  bool              `mapstructure:"includeMetadata"`
	PerTopicOverride map[string]string `mapstructure:"perTopic"`
}

// ReductStoreConfig configures the reductstore-like HTTP storage backend.
type ReductStoreConfig struct {
	URL            string `mapstructure:"url"`
	BucketName     string `mapstructure:"bucketName"`
	APIToken       string `mapstructure:"apiToken"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
	MaxRetries     int    `mapstructure:"maxRetries"`
}

// FilesystemConfig configures the filesystem storage backend.
type FilesystemConfig struct {
	BasePath   string `mapstructure:"basePath"`
	FileFormat string `mapstructure:"fileFormat"`
}

// GCSConfig configures the supplemental GCS storage backend.
type GCSConfig struct {
	Bucket       string `mapstructure:"bucket"`
	ObjectPrefix string `mapstructure:"objectPrefix"`
	MaxRetries   int    `mapstructure:"maxRetries"`
}

// StorageConfig selects and configures one storage backend.
type StorageConfig struct {
	Backend     string            `mapstructure:"backend"`
	ReductStore ReductStoreConfig `mapstructure:"reductstore"`
	Filesystem  FilesystemConfig  `mapstructure:"filesystem"`
	GCS         GCSConfig         `mapstructure:"gcs"`
}

// TransportConfig configures the p/s middleware connection.
type TransportConfig struct {
	Mode     string   `mapstructure:"mode"`
	Connect  []string `mapstructure:"connect"`
	Listen   []string `mapstructure:"listen"`
	DeviceID string   `mapstructure:"deviceId"`
}

// Config is the top-level recorder configuration.
type Config struct {
	Transport   TransportConfig   `mapstructure:"transport"`
	Storage     StorageConfig     `mapstructure:"storage"`
	FlushPolicy FlushPolicyConfig `mapstructure:"flushPolicy"`
	Compression CompressionConfig `mapstructure:"compression"`
	Workers     WorkerConfig      `mapstructure:"workers"`
	Control     ControlConfig     `mapstructure:"control"`
	Schema      SchemaConfig      `mapstructure:"schema"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// LoggingConfig mirrors logging.Config with mapstructure tags so it can be
// loaded directly by viper.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.mode", "peer")
	v.SetDefault("transport.connect", []string{"tcp/localhost:7447"})
	v.SetDefault("transport.deviceId", "recorder-001")

	v.SetDefault("storage.backend", "reductstore")
	v.SetDefault("storage.reductstore.url", "http://localhost:8383")
	v.SetDefault("storage.reductstore.bucketName", "zenoh_recordings")
	v.SetDefault("storage.reductstore.timeoutSeconds", 30)
	v.SetDefault("storage.reductstore.maxRetries", 5)
	v.SetDefault("storage.filesystem.basePath", "/data/recordings")
	v.SetDefault("storage.filesystem.fileFormat", "mcap")
	v.SetDefault("storage.gcs.objectPrefix", "recordings")
	v.SetDefault("storage.gcs.maxRetries", 5)

	v.SetDefault("flushPolicy.maxBufferSizeBytes", 4*1024*1024)
	v.SetDefault("flushPolicy.maxBufferDurationSeconds", 5)
	v.SetDefault("flushPolicy.minSamplesPerFlush", 1)

	v.SetDefault("compression.defaultType", "zstd-like")
	v.SetDefault("compression.defaultLevel", "default")

	v.SetDefault("workers.flushWorkers", 4)
	v.SetDefault("workers.queueCapacity", 1000)

	v.SetDefault("control.keyPrefix", "recorder.control")
	v.SetDefault("control.statusKey", "recorder.status")
	v.SetDefault("control.timeoutSeconds", 10)

	v.SetDefault("schema.defaultFormat", "raw")
	v.SetDefault("schema.includeMetadata", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from built-in defaults, a config.yaml found on
// the default search paths ("." and "/etc/recorder/"), and environment
// variables prefixed RECORDER_. Environment variables override the file,
// and the file overrides the defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath behaves like Load but adds configPath to the file search path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/recorder/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errsList []string

	if cfg.Transport.DeviceID == "" {
		errsList = append(errsList, "transport.deviceId must not be empty")
	}
	if cfg.FlushPolicy.MaxBufferSizeBytes <= 0 {
		errsList = append(errsList, "flushPolicy.maxBufferSizeBytes must be > 0")
	}
	if cfg.FlushPolicy.MaxBufferDurationSecond <= 0 {
		errsList = append(errsList, "flushPolicy.maxBufferDurationSeconds must be > 0")
	}
	if cfg.Workers.FlushWorkers <= 0 {
		errsList = append(errsList, "workers.flushWorkers must be > 0")
	}
	if cfg.Workers.QueueCapacity <= 0 {
		errsList = append(errsList, "workers.queueCapacity must be > 0")
	}
	switch cfg.Storage.Backend {
	case "reductstore", "filesystem", "gcs":
	default:
		errsList = append(errsList, fmt.Sprintf("storage.backend %q is not one of reductstore, filesystem, gcs", cfg.Storage.Backend))
	}

	if len(errsList) > 0 {
		return fmt.Errorf("invalid configuration: %v", errsList)
	}
	return nil
}
