package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id   TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	data        BLOB NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);
`

// SQLiteConfig holds connection settings for the SQLite-backed store.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	Retention       time.Duration
}

// DefaultSQLiteConfig returns sensible defaults for the given database path.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
		Retention:       24 * time.Hour,
	}
}

// SQLiteStore implements Store on a single SQLite database file. WAL mode
// keeps concurrent saves from different threads from interfering.
type SQLiteStore struct {
	conn      *sql.DB
	retention time.Duration
}

// NewSQLiteStore opens (and initializes if needed) the checkpoint database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, types.NewError(types.CHECKPOINT_FAILED, "checkpoint database path is empty")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to open checkpoint database", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to ping checkpoint database", err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to initialize checkpoint schema", err)
	}

	return &SQLiteStore{conn: conn, retention: cfg.Retention}, nil
}

// Save persists the snapshot, replacing any prior row for the thread.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.ThreadID == "" {
		return types.NewError(types.CHECKPOINT_FAILED, "snapshot thread id is empty")
	}
	if len(snap.State) == 0 {
		return types.NewError(types.CHECKPOINT_FAILED, "snapshot state is empty")
	}

	data, err := Encode(snap.State)
	if err != nil {
		return err
	}

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, workflow_id, status, stage, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status      = excluded.status,
			stage       = excluded.stage,
			data        = excluded.data,
			updated_at  = excluded.updated_at`,
		snap.ThreadID, snap.WorkflowID, snap.Status, snap.Stage, data, updatedAt,
	)
	if err != nil {
		return types.WrapError(types.CHECKPOINT_FAILED, "failed to save checkpoint", err)
	}
	return nil
}

// Load returns the latest snapshot for the thread.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (Snapshot, error) {
	var (
		snap Snapshot
		data []byte
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT thread_id, workflow_id, status, stage, data, updated_at
		FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&snap.ThreadID, &snap.WorkflowID, &snap.Status, &snap.Stage, &data, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, types.NewError(types.STATE_NOT_FOUND,
			fmt.Sprintf("no checkpoint for thread %s", threadID))
	}
	if err != nil {
		return Snapshot{}, types.WrapError(types.CHECKPOINT_FAILED, "failed to load checkpoint", err)
	}

	if time.Since(snap.UpdatedAt) > s.retention {
		return Snapshot{}, types.NewError(types.STATE_EXPIRED,
			fmt.Sprintf("review expired for thread %s", threadID))
	}

	state, err := Decode(data)
	if err != nil {
		return Snapshot{}, err
	}
	snap.State = state
	return snap, nil
}

// Delete removes the thread's snapshot.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return types.WrapError(types.CHECKPOINT_FAILED, "failed to delete checkpoint", err)
	}
	return nil
}

// Sweep deletes snapshots past the retention window.
func (s *SQLiteStore) Sweep(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-s.retention)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to begin sweep transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT thread_id FROM checkpoints WHERE updated_at < ?`, cutoff)
	if err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to query expired checkpoints", err)
	}

	var expired []string
	for rows.Next() {
		var threadID string
		if err := rows.Scan(&threadID); err != nil {
			rows.Close()
			return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to scan expired checkpoint", err)
		}
		expired = append(expired, threadID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to iterate expired checkpoints", err)
	}
	rows.Close()

	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE updated_at < ?`, cutoff); err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to delete expired checkpoints", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, types.WrapError(types.CHECKPOINT_FAILED, "failed to commit sweep", err)
	}
	return expired, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Health verifies the database connection is usable.
func (s *SQLiteStore) Health(ctx context.Context) error {
	var result int
	if err := s.conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return types.WrapError(types.CHECKPOINT_FAILED, "checkpoint database health check failed", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
