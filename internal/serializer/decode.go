package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var headerPattern = regexp.MustCompile(`^ZENOH_MCAP\|topic=(.*)\|recording_id=(.*)\|count=(\d+)$`)

// DecodedFrame is the result of decoding a frame produced by Encode.
type DecodedFrame struct {
	Topic       string
	RecordingID string
	Records     []DecodedRecord
}

// DecodedRecord is one record recovered from a frame.
type DecodedRecord struct {
	Topic       string
	TimestampNs int64
	Payload     []byte
	Schema      SchemaDescriptor
}

// Decode reverses Encode, given the compression type used to produce data.
// It is primarily used by tests validating the batch round-trip property.
func Decode(data []byte, ct CompressionType) (*DecodedFrame, error) {
	if len(data) == 0 {
		return &DecodedFrame{Records: []DecodedRecord{}}, nil
	}

	raw, err := decompress(data, ct)
	if err != nil {
		return nil, fmt.Errorf("decompressing frame: %w", err)
	}

	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("frame missing header newline")
	}
	headerLine := string(raw[:nl])
	m := headerPattern.FindStringSubmatch(headerLine)
	if m == nil {
		return nil, fmt.Errorf("malformed header: %q", headerLine)
	}
	count, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("malformed count in header: %w", err)
	}

	frame := &DecodedFrame{Topic: m[1], RecordingID: m[2]}
	rest := raw[nl+1:]
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("truncated frame at record %d", i)
		}
		recLen := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < recLen {
			return nil, fmt.Errorf("truncated record %d", i)
		}
		recBytes := rest[:recLen]
		rest = rest[recLen:]

		rec, err := decodeRecord(recBytes)
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}
		frame.Records = append(frame.Records, rec)
	}
	return frame, nil
}

func decodeRecord(b []byte) (DecodedRecord, error) {
	var rec DecodedRecord

	topic, b, err := readLP(b)
	if err != nil {
		return rec, err
	}
	rec.Topic = string(topic)

	if len(b) < 8 {
		return rec, fmt.Errorf("truncated timestamp")
	}
	rec.TimestampNs = int64(binary.LittleEndian.Uint64(b[:8]))
	b = b[8:]

	payload, b, err := readLP(b)
	if err != nil {
		return rec, err
	}
	rec.Payload = payload

	format, b, err := readLP(b)
	if err != nil {
		return rec, err
	}
	name, b, err := readLP(b)
	if err != nil {
		return rec, err
	}
	hash, b, err := readLP(b)
	if err != nil {
		return rec, err
	}
	schemaData, _, err := readLP(b)
	if err != nil {
		return rec, err
	}
	rec.Schema = SchemaDescriptor{
		Format:     string(format),
		SchemaName: string(name),
		SchemaHash: string(hash),
		SchemaData: schemaData,
	}
	return rec, nil
}

func readLP(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated field of length %d", n)
	}
	return b[:n], b[n:], nil
}

func decompress(data []byte, ct CompressionType) ([]byte, error) {
	switch ct {
	case CompressionNone:
		return data, nil
	case CompressionLZ:
		r := lz4.NewReader(bytes.NewReader(data))
		var out bytes.Buffer
		if _, err := out.ReadFrom(r); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	case CompressionZstdLike:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unknown compression type %v", ct)
	}
}
