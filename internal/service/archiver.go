package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockgraph/internal/formatter"
	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/repository"
	"github.com/lockgraph/internal/session"
	"github.com/lockgraph/internal/storage"
	"github.com/lockgraph/pkg/compression"
	"github.com/lockgraph/pkg/config"
	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
	"github.com/lockgraph/pkg/writer"
)

const (
	archivePrefix = "snapshots/"
	// archiveTimeLayout sorts lexically in time order.
	archiveTimeLayout = "20060102T150405.000Z"
)

// ArchiverStats holds archiver counters.
type ArchiverStats struct {
	Archived  int64     `json:"archived"`
	Skipped   int64     `json:"skipped"`
	Failed    int64     `json:"failed"`
	Pruned    int64     `json:"pruned"`
	Resets    int64     `json:"resets"`
	LastKey   string    `json:"last_key,omitempty"`
	LastURL   string    `json:"last_url,omitempty"`
	LastAt    time.Time `json:"last_at,omitempty"`
	LastBytes int64     `json:"last_bytes"`
	LastRatio float64   `json:"last_compression_pct"`
	LastError string    `json:"last_error,omitempty"`
}

// Archiver periodically exports the session tree to object storage and
// records a summary of it in the database.
type Archiver struct {
	cfg         config.ArchiveConfig
	sess        *session.Session
	store       storage.Storage
	snapshots   repository.SnapshotRepository
	logger      utils.Logger
	clock       utils.Clock
	mode        lockcct.Mode
	format      formatter.Formatter
	compression compression.Type

	mu        sync.Mutex
	stats     ArchiverStats
	lastTime  int64
	lastWaits int64
}

// NewArchiver validates cfg and creates an archiver for sess.
func NewArchiver(cfg config.ArchiveConfig, sess *session.Session, store storage.Storage,
	snapshots repository.SnapshotRepository, clock utils.Clock, logger utils.Logger) (*Archiver, error) {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if clock == nil {
		clock = utils.NewRealClock()
	}
	if cfg.Interval <= 0 {
		return nil, apperrors.New(apperrors.CodeConfigError, "archive interval must be positive")
	}
	mode, err := lockcct.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	f, err := formatter.Get(cfg.Format)
	if err != nil {
		return nil, err
	}
	ct, err := compression.ParseType(cfg.Compression)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid archive compression", err)
	}
	// pprof profiles are gzipped by the encoder already.
	if f.Name() == "pprof" {
		ct = compression.TypeNone
	}

	a := &Archiver{
		cfg:         cfg,
		sess:        sess,
		store:       store,
		snapshots:   snapshots,
		logger:      logger.WithField("component", "archiver"),
		clock:       clock,
		mode:        mode,
		format:      f,
		compression: ct,
		lastTime:    -1,
		lastWaits:   -1,
	}
	sess.Provider().AddListener(a)
	return a, nil
}

// CCTEstablished implements session.CCTListener. The archiver takes its own
// snapshots on each tick.
func (a *Archiver) CCTEstablished(*lockcct.RuntimeNode, bool) {}

// CCTReset implements session.CCTListener. Totals after a reset start from
// zero, so the next snapshot is archived even if it matches the last one.
func (a *Archiver) CCTReset() {
	a.mu.Lock()
	a.lastTime, a.lastWaits = -1, -1
	a.stats.Resets++
	a.mu.Unlock()
}

// Run archives every interval until ctx is done, then archives once more so
// the final state of the session is kept.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.logger.Info("Archiving %s trees as %s every %v", a.mode, a.format.Name(), a.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.tick(final)
			cancel()
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Archiver) tick(ctx context.Context) {
	if _, err := a.ArchiveOnce(ctx); err != nil {
		a.logger.Error("Failed to archive snapshot: %v", err)
	}
	if a.cfg.Retention > 0 {
		if _, err := a.Prune(ctx, a.clock.Now().Add(-a.cfg.Retention)); err != nil {
			a.logger.Error("Failed to prune archive: %v", err)
		}
	}
}

// ArchiveOnce exports the current tree. It returns nil without error when
// the session holds no data or nothing changed since the last archive.
func (a *Archiver) ArchiveOnce(ctx context.Context) (*repository.SnapshotRecord, error) {
	timer := utils.NewTimer("archive", utils.WithClock(a.clock))
	defer timer.Log(a.logger)

	rt := a.sess.Tree(ctx)
	if rt.Empty() {
		a.skip()
		return nil, nil
	}
	total, waits := rt.Snapshot().TotalWait()
	if a.unchanged(total, waits) {
		a.skip()
		return nil, nil
	}

	var buf bytes.Buffer
	var res *writer.WriteResult
	err := timer.Time("render", func() error {
		opts := formatter.DefaultOptions(rt.Snapshot().Status)
		var err error
		res, err = writer.WriteCompressed(&buf, a.compression, compression.LevelDefault, func(w io.Writer) error {
			return a.format.Format(w, rt.Root(a.mode), opts)
		})
		return err
	})
	if err != nil {
		return nil, a.fail(apperrors.Wrap(apperrors.CodeExportError, "failed to render snapshot", err))
	}

	key := a.key(rt.Snapshot().TakenAt)
	err = timer.Time("upload", func() error {
		return a.store.Upload(ctx, key, &buf, writer.ContentType(a.format.ContentType(), a.compression))
	})
	if err != nil {
		return nil, a.fail(err)
	}

	rec, rows := repository.NewRecord(a.sess.ID(), a.mode, rt)
	rec.ArchiveKey = key
	if err := timer.Time("save", func() error { return a.snapshots.Save(ctx, rec, rows) }); err != nil {
		// The object is useless without its record.
		if delErr := a.store.Delete(ctx, key); delErr != nil {
			a.logger.Warn("Failed to remove orphaned archive %s: %v", key, delErr)
		}
		return nil, a.fail(err)
	}

	a.mu.Lock()
	a.lastTime, a.lastWaits = total, waits
	a.stats.Archived++
	a.stats.LastKey = key
	a.stats.LastURL = a.store.GetURL(key)
	a.stats.LastAt = rec.TakenAt
	a.stats.LastBytes = res.CompressedSize
	a.stats.LastRatio = res.CompressionPct
	a.stats.LastError = ""
	a.mu.Unlock()

	a.logger.WithFields(map[string]interface{}{
		"key":      key,
		"snapshot": rec.ID,
		"bytes":    res.CompressedSize,
	}).Info("Archived %s tree: %d waits", a.mode, waits)
	return rec, nil
}

// key names the object of a snapshot taken at t.
func (a *Archiver) key(t time.Time) string {
	return fmt.Sprintf("%s%s/%s-%s%s%s", archivePrefix, a.sess.ID(),
		t.UTC().Format(archiveTimeLayout), uuid.NewString()[:8],
		a.format.Extension(), a.compression.Extension())
}

// archiveTime extracts the snapshot time from an object key.
func archiveTime(key string) (time.Time, bool) {
	base := path.Base(key)
	if len(base) < len(archiveTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(archiveTimeLayout, base[:len(archiveTimeLayout)])
	return t, err == nil
}

// Prune removes archived objects and records older than cutoff.
func (a *Archiver) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	keys, err := a.store.List(ctx, archivePrefix)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, key := range keys {
		t, ok := archiveTime(key)
		if !ok || !t.Before(cutoff) {
			continue
		}
		if err := a.store.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}

	rows, err := a.snapshots.DeleteBefore(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	if removed > 0 || rows > 0 {
		a.logger.Info("Pruned %d archived objects and %d records before %s",
			removed, rows, cutoff.Format(time.RFC3339))
	}

	a.mu.Lock()
	a.stats.Pruned += removed
	a.mu.Unlock()
	return removed, nil
}

func (a *Archiver) unchanged(total, waits int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return total == a.lastTime && waits == a.lastWaits
}

func (a *Archiver) skip() {
	a.mu.Lock()
	a.stats.Skipped++
	a.mu.Unlock()
}

func (a *Archiver) fail(err error) error {
	a.mu.Lock()
	a.stats.Failed++
	a.stats.LastError = err.Error()
	a.mu.Unlock()
	return err
}

// Stats returns a copy of the archiver counters.
func (a *Archiver) Stats() ArchiverStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
