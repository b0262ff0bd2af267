package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatch() []Sample {
	return []Sample{
		{Topic: "/a", Payload: []byte("hello"), HasTimestamp: true, TimestampNs: 100},
		{Topic: "/a", Payload: []byte("world"), HasTimestamp: true, TimestampNs: 200},
		{Topic: "/a", Payload: []byte{}, HasTimestamp: false},
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	s := New()
	out, err := s.Encode("/a", "rec-1", nil, CompressionNone, LevelDefault, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHeaderWellFormed(t *testing.T) {
	s := New()
	out, err := s.Encode("/test/topic", "rec-123", make([]Sample, 42), CompressionNone, LevelDefault, nil)
	require.NoError(t, err)

	frame, err := Decode(out, CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, "/test/topic", frame.Topic)
	assert.Equal(t, "rec-123", frame.RecordingID)
	assert.Len(t, frame.Records, 42)
}

func TestBatchRoundTrip(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionLZ, CompressionZstdLike} {
		for level := LevelFastest; level <= LevelSlowest; level++ {
			t.Run(ct.String(), func(t *testing.T) {
				s := New()
				samples := sampleBatch()
				out, err := s.Encode("/a", "rec-1", samples, ct, level, nil)
				require.NoError(t, err)

				frame, err := Decode(out, ct)
				require.NoError(t, err)
				require.Len(t, frame.Records, len(samples))

				for i, rec := range frame.Records {
					assert.Equal(t, samples[i].Topic, rec.Topic)
					assert.Equal(t, samples[i].Payload, rec.Payload)
					if samples[i].HasTimestamp {
						assert.Equal(t, samples[i].TimestampNs, rec.TimestampNs)
					}
				}
			})
		}
	}
}

func TestSchemaDescriptorRoundTrip(t *testing.T) {
	s := New()
	schema := &SchemaDescriptor{
		Format:     "protobuf",
		SchemaName: "sensor_data.Reading",
		SchemaHash: "abc123",
		SchemaData: []byte{1, 2, 3},
	}
	out, err := s.Encode("/sensors", "rec-2", []Sample{{Topic: "/sensors", Payload: []byte("x")}}, CompressionNone, LevelDefault, schema)
	require.NoError(t, err)

	frame, err := Decode(out, CompressionNone)
	require.NoError(t, err)
	require.Len(t, frame.Records, 1)
	assert.Equal(t, *schema, frame.Records[0].Schema)
}

func TestParseCompressionTokens(t *testing.T) {
	ct, err := ParseCompressionType("zstd-like")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstdLike, ct)

	_, err = ParseCompressionType("bogus")
	assert.Error(t, err)

	lvl, err := ParseCompressionLevel("slowest")
	require.NoError(t, err)
	assert.Equal(t, LevelSlowest, lvl)
}
