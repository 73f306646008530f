package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lockgraph/internal/protocol"
	"github.com/lockgraph/pkg/compression"
)

// ReadFrames calls fn for every length-prefixed frame in r. Gzip and zstd
// streams are decompressed transparently.
func ReadFrames(r io.Reader, fn func(frame []byte) error) (int, error) {
	rc, _, err := compression.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open frame stream: %w", err)
	}
	defer rc.Close()

	n := 0
	for {
		frame, err := protocol.ReadFrame(rc)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("frame %d: %w", n, err)
		}
		if err := fn(frame); err != nil {
			return n, err
		}
		n++
	}
}

// Replay submits every frame of r to d under bucket and waits until they
// have been processed.
func Replay(ctx context.Context, d *Dispatcher, bucket string, r io.Reader) (int, error) {
	n, err := ReadFrames(r, func(frame []byte) error {
		return d.Submit(ctx, bucket, frame)
	})
	if err != nil {
		return n, err
	}
	return n, d.Sync(ctx)
}

// ReplayFile replays the frame recording at path.
func ReplayFile(ctx context.Context, d *Dispatcher, bucket, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Replay(ctx, d, bucket, f)
}
