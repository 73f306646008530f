package writer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockgraph/pkg/compression"
)

type row struct {
	Name  string `json:"name"`
	Waits int64  `json:"waits"`
}

func TestJSONWriter_Write(t *testing.T) {
	t.Run("Compact", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewJSONWriter[row]().Write(row{Name: "T1", Waits: 2}, &buf))
		assert.Equal(t, "{\"name\":\"T1\",\"waits\":2}\n", buf.String())
	})

	t.Run("Pretty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrettyJSONWriter[[]row]().Write([]row{{Name: "T1"}}, &buf))
		assert.Contains(t, buf.String(), "\n    \"name\": \"T1\"")
	})
}

func TestWriteCompressed(t *testing.T) {
	payload := strings.Repeat("Threads,100.0,0.500,1\n", 200)

	for _, ct := range []compression.Type{compression.TypeNone, compression.TypeGzip, compression.TypeZstd} {
		t.Run(ct.String(), func(t *testing.T) {
			var buf bytes.Buffer
			res, err := WriteCompressed(&buf, ct, compression.LevelDefault, func(w io.Writer) error {
				_, err := io.WriteString(w, payload)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, int64(len(payload)), res.RawSize)
			assert.Equal(t, int64(buf.Len()), res.CompressedSize)
			if ct == compression.TypeNone {
				assert.InDelta(t, 100.0, res.CompressionPct, 0.001)
			} else {
				assert.Less(t, res.CompressionPct, 50.0)
			}

			rc, detected, err := compression.NewReader(&buf)
			require.NoError(t, err)
			defer rc.Close()
			assert.Equal(t, ct, detected)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestWriteCompressed_RenderError(t *testing.T) {
	boom := errors.New("boom")
	_, err := WriteCompressed(io.Discard, compression.TypeGzip, compression.LevelDefault, func(io.Writer) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", ContentType("text/csv", compression.TypeNone))
	assert.Equal(t, "application/gzip", ContentType("text/csv", compression.TypeGzip))
	assert.Equal(t, "application/zstd", ContentType("text/csv", compression.TypeZstd))
}
