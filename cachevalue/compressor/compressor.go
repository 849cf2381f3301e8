// Package compressor provides the pluggable compression layer used by
// backends when persisting serialized cache values.
package compressor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses and decompresses cached value bytes. Implementations
// MUST be safe for concurrent use and round-trippable: Decompress(Compress(b))
// == b for all b.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Passthrough is a no-op Compressor (the default).
type Passthrough struct{}

// Compress returns data unchanged.
func (Passthrough) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress returns data unchanged.
func (Passthrough) Decompress(data []byte) ([]byte, error) { return data, nil }

// Gzip compresses with the klauspost/compress gzip implementation at a
// configurable level (0-9, clamped, default 6).
type Gzip struct {
	Level int
}

// NewGzip builds a Gzip compressor with the default level (6).
func NewGzip() Gzip { return Gzip{Level: 6} }

// NewGzipLevel builds a Gzip compressor at the given level, clamped to [0,9].
func NewGzipLevel(level int) Gzip {
	if level > 9 {
		level = 9
	}
	if level < 0 {
		level = 0
	}
	return Gzip{Level: level}
}

// Compress gzip-compresses data at the configured level.
func (g Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.Level)
	if err != nil {
		return nil, fmt.Errorf("compressor: gzip compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressor: gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor: gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress gzip-decompresses data.
func (Gzip) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compressor: gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compressor: gzip decompress: %w", err)
	}
	return out, nil
}

// Zstd compresses with klauspost/compress/zstd at a configurable level
// (-7..22, clamped, default 3).
type Zstd struct {
	Level int
}

// NewZstd builds a Zstd compressor with the default level (3).
func NewZstd() Zstd { return Zstd{Level: 3} }

// NewZstdLevel builds a Zstd compressor at the given level, clamped to
// [-7, 22].
func NewZstdLevel(level int) Zstd {
	if level > 22 {
		level = 22
	}
	if level < -7 {
		level = -7
	}
	return Zstd{Level: level}
}

func (z Zstd) encoderLevel() zstd.EncoderLevel {
	switch {
	case z.Level <= -5:
		return zstd.SpeedFastest
	case z.Level <= 3:
		return zstd.SpeedDefault
	case z.Level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress zstd-compresses data at the configured level.
func (z Zstd) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.encoderLevel()))
	if err != nil {
		return nil, fmt.Errorf("compressor: zstd compress: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decompress zstd-decompresses data.
func (Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compressor: zstd decompress: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("compressor: zstd decompress: %w", err)
	}
	return out, nil
}
