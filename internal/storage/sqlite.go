package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sendbot/pkg/logx"

	"sendbot/internal/message"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, m message.ScheduledMessage) error {
	atts, err := marshalAttachments(m.Attachments)
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages(id, recipient_id, content, attachments, scheduled_at, recurrence, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		m.ID, m.RecipientID, m.Content, atts,
		m.ScheduledAt.Format(time.RFC3339Nano), string(m.Recurrence), string(m.Status),
		m.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Update(ctx context.Context, m message.ScheduledMessage) (message.ScheduledMessage, error) {
	atts, err := marshalAttachments(m.Attachments)
	if err != nil {
		return message.ScheduledMessage{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages
		 SET recipient_id = ?, content = ?, attachments = ?, scheduled_at = ?, recurrence = ?, status = ?
		 WHERE id = ?`,
		m.RecipientID, m.Content, atts,
		m.ScheduledAt.Format(time.RFC3339Nano), string(m.Recurrence), string(m.Status),
		m.ID,
	)
	if err != nil {
		return message.ScheduledMessage{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return message.ScheduledMessage{}, ErrNotFound
	}
	return s.Get(ctx, m.ID)
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, st message.Status) (message.ScheduledMessage, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET status = ? WHERE id = ?`, string(st), id)
	if err != nil {
		return message.ScheduledMessage{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return message.ScheduledMessage{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (message.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, recipient_id, content, attachments, scheduled_at, recurrence, status, created_at
		 FROM scheduled_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return message.ScheduledMessage{}, ErrNotFound
	}
	return m, err
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]message.ScheduledMessage, error) {
	return s.list(ctx,
		`SELECT id, recipient_id, content, attachments, scheduled_at, recurrence, status, created_at
		 FROM scheduled_messages ORDER BY scheduled_at ASC`)
}

func (s *sqliteStore) ListByStatus(ctx context.Context, st message.Status) ([]message.ScheduledMessage, error) {
	return s.list(ctx,
		`SELECT id, recipient_id, content, attachments, scheduled_at, recurrence, status, created_at
		 FROM scheduled_messages WHERE status = ? ORDER BY scheduled_at ASC`, string(st))
}

func (s *sqliteStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_messages WHERE status != ? AND created_at < ?`,
		string(message.StatusPending), cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]message.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (message.ScheduledMessage, error) {
	var (
		m          message.ScheduledMessage
		atts       string
		schedAt    string
		recurrence string
		status     string
		createdAt  string
	)
	if err := r.Scan(&m.ID, &m.RecipientID, &m.Content, &atts, &schedAt, &recurrence, &status, &createdAt); err != nil {
		return message.ScheduledMessage{}, err
	}
	if atts != "" && atts != "[]" {
		if err := json.Unmarshal([]byte(atts), &m.Attachments); err != nil {
			return message.ScheduledMessage{}, fmt.Errorf("decode attachments for %s: %w", m.ID, err)
		}
	}
	var err error
	if m.ScheduledAt, err = time.Parse(time.RFC3339Nano, schedAt); err != nil {
		return message.ScheduledMessage{}, fmt.Errorf("parse scheduled_at for %s: %w", m.ID, err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return message.ScheduledMessage{}, fmt.Errorf("parse created_at for %s: %w", m.ID, err)
	}
	m.Recurrence = message.Recurrence(recurrence)
	m.Status = message.Status(status)
	return m, nil
}

func marshalAttachments(atts []message.Attachment) (string, error) {
	if len(atts) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
