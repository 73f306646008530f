package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockgraph/internal/locks"
	"github.com/lockgraph/internal/protocol"
	"github.com/lockgraph/internal/testutil"
	"github.com/lockgraph/pkg/compression"
)

func TestReadFrames(t *testing.T) {
	frames := [][]byte{{1, 2, 3}, {}, {4}}
	data := testutil.Recording(t, frames...)

	var got [][]byte
	n, err := ReadFrames(bytes.NewReader(data), func(f []byte) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)
	assert.Equal(t, []byte{1, 2, 3}, got[0])
	assert.Empty(t, got[1])
	assert.Equal(t, []byte{4}, got[2])
}

func TestReadFrames_Truncated(t *testing.T) {
	data := testutil.Recording(t, []byte{1, 2, 3})
	n, err := ReadFrames(bytes.NewReader(data[:len(data)-1]), func([]byte) error { return nil })
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, protocol.ErrTruncatedFrame)
}

func TestReplayFile(t *testing.T) {
	for _, c := range []compression.Type{compression.TypeNone, compression.TypeGzip, compression.TypeZstd} {
		t.Run(c.String(), func(t *testing.T) {
			path := testutil.WriteRecording(t, c,
				testutil.ScenarioFrame(t),
				testutil.ContentionFrame(t, 2, 1, 100, 2000, 2300),
			)

			d := newDispatcher(t)
			b := locks.NewGraphBuilder()
			b.Startup(locks.DefaultStatus())
			d.AddListener(b)

			n, err := ReplayFile(context.Background(), d, "", path)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			total, count := b.Snapshot().TotalWait()
			assert.Equal(t, int64(800), total)
			assert.Equal(t, int64(2), count)
		})
	}
}

func TestReplayFile_Missing(t *testing.T) {
	d := newDispatcher(t)
	_, err := ReplayFile(context.Background(), d, "", "/nonexistent/frames.bin")
	assert.Error(t, err)
}
