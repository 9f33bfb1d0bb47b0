package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/zenkoo/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveUnreadCount stores the last known unread count for userID.
func (s *SQLiteStore) SaveUnreadCount(ctx context.Context, userID string, count int) error {
	if count < 0 {
		return fmt.Errorf("saving unread count: negative value %d", count)
	}

	const query = `
		INSERT INTO unread_counts (user_id, count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, count, s.now().UTC()); err != nil {
		return fmt.Errorf("saving unread count: %w", err)
	}
	return nil
}

// GetUnreadCount returns the cached unread count for userID.
func (s *SQLiteStore) GetUnreadCount(ctx context.Context, userID string) (int, bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT count FROM unread_counts WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying unread count: %w", err)
	}
	return count, true, nil
}

// notificationRow is the cached_notifications row layout.
type notificationRow struct {
	ID             string `db:"id"`
	UserID         string `db:"user_id"`
	NotificationID string `db:"notification_id"`
	Position       int    `db:"position"`
	Message        string `db:"message"`
	CreatedAt      string `db:"created_at"`
	IsRead         bool   `db:"is_read"`
	Category       string `db:"category"`
}

// SaveFirstPage replaces the cached first page for userID.
func (s *SQLiteStore) SaveFirstPage(ctx context.Context, userID string, list model.NotificationList) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cached_notifications WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing cached page: %w", err)
	}

	const pageQuery = `
		INSERT INTO cached_pages (user_id, total_count, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_count = excluded.total_count,
			fetched_at = excluded.fetched_at`
	if _, err := tx.ExecContext(ctx, pageQuery, userID, list.Count, s.now().UTC()); err != nil {
		return fmt.Errorf("saving cached page: %w", err)
	}

	const itemQuery = `
		INSERT OR REPLACE INTO cached_notifications (
			id, user_id, notification_id, position,
			message, created_at, is_read, category
		) VALUES (
			:id, :user_id, :notification_id, :position,
			:message, :created_at, :is_read, :category
		)`
	for i, n := range list.Results {
		row := notificationRow{
			ID:             uuid.New().String(),
			UserID:         userID,
			NotificationID: n.ID,
			Position:       i,
			Message:        n.Message,
			CreatedAt:      n.CreatedAt,
			IsRead:         n.IsRead,
			Category:       n.Category,
		}
		if _, err := tx.NamedExecContext(ctx, itemQuery, row); err != nil {
			return fmt.Errorf("caching notification %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cached page: %w", err)
	}
	return nil
}

// GetFirstPage returns the cached first page for userID.
func (s *SQLiteStore) GetFirstPage(ctx context.Context, userID string) (*model.NotificationList, error) {
	var total int
	err := s.db.GetContext(ctx, &total, "SELECT total_count FROM cached_pages WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying cached page: %w", err)
	}

	var rows []notificationRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, notification_id, position, message, created_at, is_read, category
		FROM cached_notifications
		WHERE user_id = ?
		ORDER BY position ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying cached notifications: %w", err)
	}

	list := &model.NotificationList{
		Count:   total,
		Results: make([]model.Notification, 0, len(rows)),
	}
	for _, r := range rows {
		list.Results = append(list.Results, model.Notification{
			ID:        r.NotificationID,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
			IsRead:    r.IsRead,
			Category:  r.Category,
		})
	}
	return list, nil
}

// ClearIdentity removes everything cached for userID.
func (s *SQLiteStore) ClearIdentity(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM cached_notifications WHERE user_id = ?",
		"DELETE FROM cached_pages WHERE user_id = ?",
		"DELETE FROM unread_counts WHERE user_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, userID); err != nil {
			return fmt.Errorf("clearing cache for %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache clear: %w", err)
	}
	return nil
}
