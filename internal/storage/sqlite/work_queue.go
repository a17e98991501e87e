// Package sqlite provides a durable work queue backend on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

const currentSchemaVersion = 1

// claimPageSize is how many candidates are inspected per capability-filter pass
const claimPageSize = 64

const itemColumns = `id, task_id, tier, payload, capabilities, max_retries, retry_count, status, seq,
	lease_owner, lease_deadline, enqueued_at, available_at, completed_at, result, last_error`

// WorkQueueStorage implements storage.WorkQueueStorage on SQLite. All
// transitions are single compare-and-set UPDATE statements.
type WorkQueueStorage struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*WorkQueueStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &WorkQueueStorage{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *WorkQueueStorage) Close() error {
	return s.db.Close()
}

func (s *WorkQueueStorage) initSchema(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}

	version := 0
	var versionText string
	err = tx.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&versionText)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if version, err = strconv.Atoi(versionText); err != nil {
			return fmt.Errorf("parse schema version %q: %w", versionText, err)
		}
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("db schema version %d is newer than runtime version %d", version, currentSchemaVersion)
	}

	if version < 1 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS work_items (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				task_id TEXT NOT NULL DEFAULT '',
				tier TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '',
				capabilities TEXT NOT NULL DEFAULT '[]',
				max_retries INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				lease_owner TEXT NOT NULL DEFAULT '',
				lease_deadline INTEGER NOT NULL DEFAULT 0,
				enqueued_at INTEGER NOT NULL DEFAULT 0,
				available_at INTEGER NOT NULL DEFAULT 0,
				completed_at INTEGER NOT NULL DEFAULT 0,
				result TEXT NOT NULL DEFAULT '',
				last_error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_work_items_claim ON work_items(tier, status, seq)`,
			`CREATE INDEX IF NOT EXISTS idx_work_items_lease ON work_items(status, lease_deadline)`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("apply schema v1: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(currentSchemaVersion),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Enqueue inserts an item; the autoincrement key is its FIFO sequence
func (s *WorkQueueStorage) Enqueue(ctx context.Context, item *types.WorkItem) error {
	if item == nil {
		return errors.New("work item cannot be nil")
	}
	if item.ID == "" {
		return errors.New("work item ID cannot be empty")
	}

	caps, err := json.Marshal(item.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (id, task_id, tier, payload, capabilities, max_retries, retry_count,
			status, enqueued_at, available_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TaskID, string(item.Priority), string(item.Payload), string(caps),
		item.MaxRetries, item.RetryCount, string(types.WorkQueued),
		toNanos(item.EnqueuedAt), toNanos(item.AvailableAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("work item %s: %w", item.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("insert work item: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("work item sequence: %w", err)
	}
	item.Sequence = uint64(seq)
	item.Status = types.WorkQueued
	return nil
}

type candidate struct {
	seq  int64
	id   string
	caps []string
}

// ClaimNext leases the oldest eligible queued item of a tier. Candidates are
// read first, then leased with a compare-and-set on status; losing the race
// moves on to the next candidate.
func (s *WorkQueueStorage) ClaimNext(ctx context.Context, req storage.ClaimRequest) (*types.WorkItem, error) {
	var after int64
	for {
		candidates, err := s.claimCandidates(ctx, req, after)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		for _, c := range candidates {
			after = c.seq
			shape := types.WorkItem{Capabilities: c.caps}
			if !shape.Eligible(req.Capabilities) {
				continue
			}

			res, err := s.db.ExecContext(ctx, `
				UPDATE work_items
				SET status = ?, lease_owner = ?, lease_deadline = ?
				WHERE id = ? AND status = ?`,
				string(types.WorkLeased), req.WorkerID, toNanos(req.Deadline), c.id, string(types.WorkQueued),
			)
			if err != nil {
				return nil, fmt.Errorf("lease work item: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, fmt.Errorf("lease rows affected: %w", err)
			}
			if affected == 1 {
				return s.Get(ctx, c.id)
			}
		}

		if len(candidates) < claimPageSize {
			return nil, nil
		}
	}
}

func (s *WorkQueueStorage) claimCandidates(ctx context.Context, req storage.ClaimRequest, after int64) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, capabilities FROM work_items
		WHERE tier = ? AND status = ? AND available_at <= ? AND seq > ?
		ORDER BY seq
		LIMIT ?`,
		string(req.Tier), string(types.WorkQueued), toNanos(req.Now), after, claimPageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query claim candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		var caps string
		if err := rows.Scan(&c.seq, &c.id, &caps); err != nil {
			return nil, fmt.Errorf("scan claim candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &c.caps); err != nil {
			return nil, fmt.Errorf("decode capabilities of %s: %w", c.id, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Complete marks a leased item completed
func (s *WorkQueueStorage) Complete(
	ctx context.Context,
	id, owner string,
	result json.RawMessage,
	now time.Time,
) (*types.WorkItem, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items
		SET status = ?, result = ?, completed_at = ?, lease_deadline = 0
		WHERE id = ? AND status = ? AND (? = '' OR lease_owner = ?)`,
		string(types.WorkCompleted), string(result), toNanos(now),
		id, string(types.WorkLeased), owner, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("complete work item: %w", err)
	}
	if err := s.checkTransition(ctx, res, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Release returns a leased item to its tier, or dead-letters it when the
// incremented retry count exceeds the budget
func (s *WorkQueueStorage) Release(
	ctx context.Context,
	id, owner, reason string,
	availableAt time.Time,
) (*types.WorkItem, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 > max_retries THEN ? ELSE ? END,
			last_error = ?,
			lease_owner = '',
			lease_deadline = 0,
			available_at = ?
		WHERE id = ? AND status = ? AND (? = '' OR lease_owner = ?)`,
		string(types.WorkDeadLettered), string(types.WorkQueued), reason, toNanos(availableAt),
		id, string(types.WorkLeased), owner, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("release work item: %w", err)
	}
	if err := s.checkTransition(ctx, res, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ExpireLeases releases items whose lease deadline passed
func (s *WorkQueueStorage) ExpireLeases(ctx context.Context, now time.Time, limit int) ([]*types.WorkItem, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lease_owner FROM work_items
		WHERE status = ? AND lease_deadline < ?
		ORDER BY seq
		LIMIT ?`,
		string(types.WorkLeased), toNanos(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired leases: %w", err)
	}
	type lease struct{ id, owner string }
	var leases []lease
	for rows.Next() {
		var l lease
		if err := rows.Scan(&l.id, &l.owner); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired lease: %w", err)
		}
		leases = append(leases, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.WorkItem, 0, len(leases))
	for _, l := range leases {
		item, err := s.Release(ctx, l.id, l.owner, "lease expired", now)
		if errors.Is(err, storage.ErrNotLeased) {
			// completed between the scan and the release
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Get retrieves a specific item by ID
func (s *WorkQueueStorage) Get(ctx context.Context, id string) (*types.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ListByStatus returns items in the given status ordered by sequence
func (s *WorkQueueStorage) ListByStatus(ctx context.Context, status types.WorkStatus) ([]*types.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE status = ? ORDER BY seq`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	out := make([]*types.WorkItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Stats returns statistics about the queue
func (s *WorkQueueStorage) Stats(ctx context.Context, now time.Time) (*storage.QueueStats, error) {
	stats := &storage.QueueStats{
		PendingByTier: make(map[types.Priority]int, len(types.ClaimOrder)),
	}
	for _, tier := range types.ClaimOrder {
		stats.PendingByTier[tier] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tier, status, COUNT(*) FROM work_items GROUP BY tier, status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	for rows.Next() {
		var tier, status string
		var n int
		if err := rows.Scan(&tier, &status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch types.WorkStatus(status) {
		case types.WorkQueued:
			stats.PendingByTier[types.Priority(tier)] += n
		case types.WorkLeased:
			stats.Leased += n
		case types.WorkCompleted:
			stats.Completed += n
		case types.WorkDeadLettered:
			stats.DeadLettered += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(enqueued_at) FROM work_items WHERE status = ?`, string(types.WorkQueued),
	).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("query oldest pending: %w", err)
	}
	if oldest.Valid && oldest.Int64 > 0 {
		stats.OldestPending = now.Sub(fromNanos(oldest.Int64))
	}
	return stats, nil
}

// checkTransition turns a lost compare-and-set into ErrNotFound or ErrNotLeased
func (s *WorkQueueStorage) checkTransition(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM work_items WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read work item status: %w", err)
	}
	return fmt.Errorf("work item %s is %s: %w", id, status, storage.ErrNotLeased)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*types.WorkItem, error) {
	var (
		item                                       types.WorkItem
		tier, payload, caps, status, result        string
		seq                                        int64
		leaseDeadline, enqueuedAt, availableAt, ca int64
	)
	if err := row.Scan(
		&item.ID, &item.TaskID, &tier, &payload, &caps, &item.MaxRetries, &item.RetryCount, &status, &seq,
		&item.LeaseOwner, &leaseDeadline, &enqueuedAt, &availableAt, &ca, &result, &item.LastError,
	); err != nil {
		return nil, err
	}

	item.Priority = types.Priority(tier)
	item.Status = types.WorkStatus(status)
	item.Sequence = uint64(seq)
	if payload != "" {
		item.Payload = json.RawMessage(payload)
	}
	if result != "" {
		item.Result = json.RawMessage(result)
	}
	if err := json.Unmarshal([]byte(caps), &item.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities of %s: %w", item.ID, err)
	}
	item.EnqueuedAt = fromNanos(enqueuedAt)
	item.AvailableAt = fromNanos(availableAt)
	if leaseDeadline != 0 {
		t := fromNanos(leaseDeadline)
		item.LeaseDeadline = &t
	}
	if ca != 0 {
		t := fromNanos(ca)
		item.CompletedAt = &t
	}
	return &item, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
