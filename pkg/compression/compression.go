// Package compression provides gzip and zstd helpers for frame recordings and
// snapshot archives.
package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Type represents the compression algorithm used.
type Type uint8

const (
	// TypeGzip uses gzip compression.
	TypeGzip Type = 0
	// TypeZstd uses zstd compression.
	TypeZstd Type = 1
	// TypeNone represents no compression.
	TypeNone Type = 255
)

// ParseType maps a config value to a Type. The empty string means none.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return TypeNone, nil
	case "gzip", "gz":
		return TypeGzip, nil
	case "zstd", "zst":
		return TypeZstd, nil
	default:
		return TypeNone, fmt.Errorf("unknown compression type: %q", name)
	}
}

// String returns the config name of the type.
func (t Type) String() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeNone:
		return "none"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Extension returns the file suffix for the type, including the dot.
func (t Type) Extension() string {
	switch t {
	case TypeGzip:
		return ".gz"
	case TypeZstd:
		return ".zst"
	default:
		return ""
	}
}

// Level represents the compression level.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Compressor compresses whole buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
	Name() string
}

// GzipCompressor implements Compressor using gzip.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a new gzip compressor.
func NewGzipCompressor(level Level) *GzipCompressor {
	return &GzipCompressor{level: gzipLevel(level)}
}

func gzipLevel(level Level) int {
	switch level {
	case LevelFastest:
		return gzip.BestSpeed
	case LevelBest:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

// Compress compresses data using gzip.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses gzip data.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *GzipCompressor) Type() Type   { return TypeGzip }
func (c *GzipCompressor) Name() string { return "gzip" }

// ZstdCompressor implements Compressor using zstd. It is safe for concurrent
// use.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a new zstd compressor.
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Compress compresses data using zstd.
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decompresses zstd data.
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Type() Type   { return TypeZstd }
func (c *ZstdCompressor) Name() string { return "zstd" }

// Close releases resources used by the compressor.
func (c *ZstdCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// NoOpCompressor passes data through unchanged.
type NoOpCompressor struct{}

func (NoOpCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoOpCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (NoOpCompressor) Type() Type                             { return TypeNone }
func (NoOpCompressor) Name() string                           { return "none" }

// New creates a compressor by type and level.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return NewZstdCompressor(level)
	case TypeGzip:
		return NewGzipCompressor(level), nil
	case TypeNone:
		return NoOpCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

// Close closes a compressor if it holds resources.
func Close(c Compressor) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// DetectType detects the compression type from magic bytes. Anything else is
// reported as TypeNone.
func DetectType(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return TypeZstd
	case bytes.HasPrefix(data, gzipMagic):
		return TypeGzip
	default:
		return TypeNone
	}
}

// AutoDecompress detects the compression type and decompresses data.
func AutoDecompress(data []byte) ([]byte, error) {
	t := DetectType(data)
	c, err := New(t, LevelDefault)
	if err != nil {
		return nil, err
	}
	defer Close(c)
	return c.Decompress(data)
}

// NewReader sniffs the stream and returns a reader over its decompressed
// content, together with the detected type.
func NewReader(r io.Reader) (io.ReadCloser, Type, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, TypeNone, err
	}

	switch t := DetectType(head); t {
	case TypeZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, t, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), t, nil
	case TypeGzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, t, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gr, t, nil
	default:
		return io.NopCloser(br), t, nil
	}
}

// NewWriter wraps w so that written data is compressed with t. The caller
// must Close the returned writer; it does not close w.
func NewWriter(w io.Writer, t Type, level Level) (io.WriteCloser, error) {
	switch t {
	case TypeZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
	case TypeGzip:
		return gzip.NewWriterLevel(w, gzipLevel(level))
	case TypeNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
