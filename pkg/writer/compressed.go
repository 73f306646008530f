package writer

import (
	"fmt"
	"io"

	"github.com/lockgraph/pkg/compression"
)

// WriteResult reports the size of a compressed payload.
type WriteResult struct {
	RawSize        int64   `json:"raw_size"`
	CompressedSize int64   `json:"compressed_size"`
	CompressionPct float64 `json:"compression_pct"`
}

// ContentType returns the MIME type of a payload of contentType after
// compression with t.
func ContentType(contentType string, t compression.Type) string {
	switch t {
	case compression.TypeGzip:
		return "application/gzip"
	case compression.TypeZstd:
		return "application/zstd"
	default:
		return contentType
	}
}

// WriteCompressed calls render with a writer that compresses into out with t
// and reports the sizes before and after compression.
func WriteCompressed(out io.Writer, t compression.Type, level compression.Level, render func(io.Writer) error) (*WriteResult, error) {
	compressed := &countingWriter{w: out}
	cw, err := compression.NewWriter(compressed, t, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s writer: %w", t, err)
	}
	raw := &countingWriter{w: cw}

	if err := render(raw); err != nil {
		cw.Close()
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush %s stream: %w", t, err)
	}

	res := &WriteResult{RawSize: raw.n, CompressedSize: compressed.n}
	if res.RawSize > 0 {
		res.CompressionPct = float64(res.CompressedSize) / float64(res.RawSize) * 100
	}
	return res, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
