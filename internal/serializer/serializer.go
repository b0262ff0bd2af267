// Package serializer encodes a batch of samples for one (recording, topic)
// pair into the recorder's wire frame: an ASCII header line followed by
// length-prefixed records, compressed as a single unit.
package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the compressor applied to the whole frame.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionLZ
	CompressionZstdLike
)

// ParseCompressionType maps the wire token to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "lz":
		return CompressionLZ, nil
	case "zstd-like":
		return CompressionZstdLike, nil
	default:
		return 0, fmt.Errorf("unknown compression type %q", s)
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ:
		return "lz"
	case CompressionZstdLike:
		return "zstd-like"
	default:
		return "unknown"
	}
}

// CompressionLevel is a five-step ordinal scale, mapped to native codec
// levels via a fixed table (see levelTable below).
type CompressionLevel int

const (
	LevelFastest CompressionLevel = iota
	LevelFast
	LevelDefault
	LevelSlow
	LevelSlowest
)

// ParseCompressionLevel maps the wire token to a CompressionLevel.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	switch s {
	case "fastest":
		return LevelFastest, nil
	case "fast":
		return LevelFast, nil
	case "default":
		return LevelDefault, nil
	case "slow":
		return LevelSlow, nil
	case "slowest":
		return LevelSlowest, nil
	default:
		return 0, fmt.Errorf("unknown compression level %q", s)
	}
}

type levelPair struct {
	lz   int
	zstd int
}

// levelTable is the fixed ordinal-to-native mapping required for frame
// interoperability; it must never change independently of the wire format.
var levelTable = map[CompressionLevel]levelPair{
	LevelFastest: {lz: 1, zstd: 1},
	LevelFast:    {lz: 3, zstd: 3},
	LevelDefault: {lz: 5, zstd: 5},
	LevelSlow:    {lz: 9, zstd: 10},
	LevelSlowest: {lz: 12, zstd: 19},
}

// SchemaDescriptor is optional per-batch schema metadata; all fields may be
// empty. The serializer never interprets payload bytes against a schema —
// this is opaque metadata only.
type SchemaDescriptor struct {
	Format     string
	SchemaName string
	SchemaHash string
	SchemaData []byte
}

// Sample is one message delivered by the transport layer: payload bytes
// plus its source topic and an optional source-assigned timestamp.
type Sample struct {
	Topic         string
	TimestampNs   int64
	HasTimestamp  bool
	Payload       []byte
	EncodingHints map[string]string
}

// Serializer is a stateless encoder; Encode may be invoked concurrently.
type Serializer struct{}

// New returns a Serializer. It carries no state: compression parameters and
// schema descriptors are passed per call.
func New() *Serializer {
	return &Serializer{}
}

// Encode builds the compressed frame for one flush task. An empty sample
// list produces an empty (zero-byte) result, never an error.
func (s *Serializer) Encode(topic, recordingID string, samples []Sample, ct CompressionType, level CompressionLevel, schema *SchemaDescriptor) ([]byte, error) {
	if len(samples) == 0 {
		return []byte{}, nil
	}

	header := []byte(fmt.Sprintf("ZENOH_MCAP|topic=%s|recording_id=%s|count=%d\n", topic, recordingID, len(samples)))

	records := make([][]byte, len(samples))
	total := len(header)
	for i, sample := range samples {
		rec, err := encodeRecord(sample, schema)
		if err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}
		records[i] = rec
		total += 4 + len(rec)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, header...)
	var lenPrefix [4]byte
	for _, rec := range records {
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(rec)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, rec...)
	}

	return s.compress(buf, ct, level)
}

func encodeRecord(sample Sample, schema *SchemaDescriptor) ([]byte, error) {
	ts := sample.TimestampNs
	if !sample.HasTimestamp {
		ts = time.Now().UnixNano()
	}

	var buf bytes.Buffer
	writeLP(&buf, []byte(sample.Topic))

	var tsBytes [8]byte
	binary.LittleEndian.PutUint64(tsBytes[:], uint64(ts))
	buf.Write(tsBytes[:])

	writeLP(&buf, sample.Payload)

	if schema != nil {
		writeLP(&buf, []byte(schema.Format))
		writeLP(&buf, []byte(schema.SchemaName))
		writeLP(&buf, []byte(schema.SchemaHash))
		writeLP(&buf, schema.SchemaData)
	} else {
		writeLP(&buf, nil)
		writeLP(&buf, nil)
		writeLP(&buf, nil)
		writeLP(&buf, nil)
	}

	return buf.Bytes(), nil
}

func writeLP(buf *bytes.Buffer, b []byte) {
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(b)))
	buf.Write(lenPrefix[:])
	buf.Write(b)
}

func (s *Serializer) compress(data []byte, ct CompressionType, level CompressionLevel) ([]byte, error) {
	switch ct {
	case CompressionNone:
		return data, nil
	case CompressionLZ:
		return compressLZ4(data, levelTable[level].lz)
	case CompressionZstdLike:
		return compressZstd(data, levelTable[level].zstd)
	default:
		return nil, fmt.Errorf("unknown compression type %v", ct)
	}
}

func compressLZ4(data []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if err := w.Apply(lz4.CompressionLevelOption(lz4NativeLevel(level))); err != nil {
		return nil, fmt.Errorf("configuring lz4 level: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing lz4 writer: %w", err)
	}
	return out.Bytes(), nil
}

// lz4NativeLevel maps our 1..12 ordinal onto pierrec/lz4's coarser
// Fast/Level1..Level9 scale.
func lz4NativeLevel(level int) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Fast
	case level <= 3:
		return lz4.Level3
	case level <= 5:
		return lz4.Level5
	case level <= 9:
		return lz4.Level9
	default:
		return lz4.Level9
	}
}

func compressZstd(data []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdNativeLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// zstdNativeLevel maps our 1..19 ordinal to klauspost/compress/zstd's
// coarser four-step EncoderLevel scale.
func zstdNativeLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 10:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
