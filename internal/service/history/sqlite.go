package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
)

// SQLiteStore persists turns in the sys_history table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteDSNForFile builds a DSN for a sqlite file path.
func SQLiteDSNForFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite history store: empty path")
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path), nil
}

// NewSQLiteStore opens dsn (a file path or a file: DSN) and creates the
// sys_history table when missing.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn, err := SQLiteDSNForFile(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("dsn", dsn).Msg("opened sqlite history store")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sys_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			datetime DATETIME NOT NULL,
			content TEXT NOT NULL,
			role TEXT NOT NULL,
			sessionId INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sys_history_by_session ON sys_history(sessionId, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history store: migrate")
		}
	}
	return nil
}

// Save inserts a row and returns its AUTOINCREMENT id.
func (s *SQLiteStore) Save(ctx context.Context, turn historyModel.Turn) (int64, error) {
	if err := validateTurn(turn); err != nil {
		return 0, persistenceError("save", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sys_history (datetime, content, role, sessionId) VALUES (?, ?, ?, ?)`,
		turn.Datetime.UTC(), turn.Content, string(turn.Role), turn.SessionID,
	)
	if err != nil {
		return 0, persistenceError("save", errors.Wrap(err, "insert sys_history"))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistenceError("save", errors.Wrap(err, "last insert id"))
	}
	return id, nil
}

// ListBySession reads the session's rows ordered by id.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID, excludeID int64) ([]historyModel.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datetime, content, role, sessionId FROM sys_history
		WHERE sessionId = ? AND id <> ?
		ORDER BY id ASC`,
		sessionID, excludeID,
	)
	if err != nil {
		return nil, persistenceError("list", errors.Wrap(err, "query sys_history"))
	}
	defer func() { _ = rows.Close() }()

	out := []historyModel.Turn{}
	for rows.Next() {
		var (
			turn historyModel.Turn
			role string
		)
		if err := rows.Scan(&turn.ID, &turn.Datetime, &turn.Content, &role, &turn.SessionID); err != nil {
			return nil, persistenceError("list", errors.Wrap(err, "scan sys_history"))
		}
		turn.Role = historyModel.Role(role)
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list", err)
	}
	return out, nil
}
