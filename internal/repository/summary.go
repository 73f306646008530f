package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	apperrors "github.com/lockgraph/pkg/errors"
)

// SQLSummaryRepository implements SummaryRepository with hand-written
// aggregate queries on database/sql.
type SQLSummaryRepository struct {
	db     *sql.DB
	dbType DBType
}

// NewSQLSummaryRepository creates a summary repository. dbType selects the
// placeholder style.
func NewSQLSummaryRepository(db *sql.DB, dbType DBType) *SQLSummaryRepository {
	return &SQLSummaryRepository{db: db, dbType: dbType}
}

// rebind turns ? placeholders into $n for postgres.
func (r *SQLSummaryRepository) rebind(query string) string {
	if r.dbType != DBTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SessionTotals summarizes every snapshot of a session.
func (r *SQLSummaryRepository) SessionTotals(ctx context.Context, sessionID string) (*SessionTotals, error) {
	query := r.rebind(`
		SELECT COUNT(*), COALESCE(MAX(total_time), 0), COALESCE(MAX(total_waits), 0),
			   MIN(taken_at), MAX(taken_at)
		FROM lock_snapshot
		WHERE session_id = ?
	`)

	totals := &SessionTotals{SessionID: sessionID}
	var first, last sql.NullTime
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&totals.Snapshots, &totals.MaxTotalTime, &totals.MaxTotalWaits, &first, &last,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query session totals", err)
	}
	if first.Valid {
		totals.FirstAt = &first.Time
	}
	if last.Valid {
		totals.LastAt = &last.Time
	}
	return totals, nil
}

// HotEntities returns the entities with the highest wait time seen in any
// snapshot of a session.
func (r *SQLSummaryRepository) HotEntities(ctx context.Context, sessionID string, kind EntityKind, limit int) ([]EntitySummary, error) {
	if limit <= 0 {
		limit = 10
	}
	query := r.rebind(`
		SELECT r.entity_id, r.name, MAX(r.time) AS max_time, MAX(r.waits) AS max_waits
		FROM lock_contention_row r
		JOIN lock_snapshot s ON s.id = r.snapshot_id
		WHERE s.session_id = ? AND r.kind = ?
		GROUP BY r.entity_id, r.name
		ORDER BY max_time DESC, max_waits DESC
		LIMIT ?
	`)

	rows, err := r.db.QueryContext(ctx, query, sessionID, string(kind), limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query hot entities", err)
	}
	defer rows.Close()

	var out []EntitySummary
	for rows.Next() {
		e := EntitySummary{Kind: kind}
		if err := rows.Scan(&e.EntityID, &e.Name, &e.MaxTime, &e.MaxWaits); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan hot entity", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to read hot entities", err)
	}
	return out, nil
}
