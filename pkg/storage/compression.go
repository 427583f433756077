package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

var errCorruptBlock = errors.New("corrupt block")

// Compressor encodes sample blocks: delta-of-delta timestamps and XOR values, both varint
// packed and zstd compressed. A null value is stored as NaN.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a compressor for a level between 1 (fastest) and 4 (smallest)
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{encoder: encoder, decoder: decoder}, nil
}

// CompressTimestamps compresses millisecond timestamps with delta-of-delta encoding
func (c *Compressor) CompressTimestamps(timestamps []int64) []byte {
	if len(timestamps) == 0 {
		return nil
	}

	buf := binary.AppendVarint(nil, timestamps[0])
	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}
	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecompressTimestamps reverses CompressTimestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	timestamps := make([]int64, count)
	var prevDelta int64
	for i := 0; i < count; i++ {
		v, n := binary.Varint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("%w: timestamp %d of %d", errCorruptBlock, i, count)
		}
		raw = raw[n:]
		if i == 0 {
			timestamps[0] = v
			continue
		}
		delta := v + prevDelta
		timestamps[i] = timestamps[i-1] + delta
		prevDelta = delta
	}
	return timestamps, nil
}

// CompressValues compresses values by XOR with the previous value
func (c *Compressor) CompressValues(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}

	var prev uint64
	buf := make([]byte, 0, len(values)*2)
	for _, v := range values {
		bits := math.Float64bits(v)
		buf = binary.AppendUvarint(buf, bits^prev)
		prev = bits
	}
	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

// DecompressValues reverses CompressValues
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	values := make([]float64, count)
	var prev uint64
	for i := 0; i < count; i++ {
		x, n := binary.Uvarint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("%w: value %d of %d", errCorruptBlock, i, count)
		}
		raw = raw[n:]
		prev ^= x
		values[i] = math.Float64frombits(prev)
	}
	return values, nil
}

// block is the stored form of one tag-day
type block struct {
	Count      int    `json:"count"`
	Timestamps []byte `json:"ts"`
	Values     []byte `json:"values"`
}

// EncodeBlock packs samples sorted by timestamp into a block
func (c *Compressor) EncodeBlock(samples []types.Sample) block {
	ts := make([]int64, len(samples))
	values := make([]float64, len(samples))
	for i, s := range samples {
		ts[i] = s.Timestamp.UnixMilli()
		values[i] = math.NaN()
		if s.Value != nil {
			values[i] = *s.Value
		}
	}
	return block{
		Count:      len(samples),
		Timestamps: c.CompressTimestamps(ts),
		Values:     c.CompressValues(values),
	}
}

// DecodeBlock unpacks a block; NaN values come back as gaps
func (c *Compressor) DecodeBlock(b block) ([]types.Sample, error) {
	ts, err := c.DecompressTimestamps(b.Timestamps, b.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress timestamps: %w", err)
	}
	values, err := c.DecompressValues(b.Values, b.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress values: %w", err)
	}

	samples := make([]types.Sample, b.Count)
	for i := range samples {
		samples[i].Timestamp = time.UnixMilli(ts[i])
		if !math.IsNaN(values[i]) {
			samples[i].Value = types.Float(values[i])
		}
	}
	return samples, nil
}

// Close releases the encoder and decoder
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
