package history

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
)

// Store is the append-only log of chat turns backing sys_history.
type Store interface {
	// Save inserts turn and returns the id assigned by the store.
	Save(ctx context.Context, turn historyModel.Turn) (int64, error)
	// ListBySession returns every turn of sessionID except excludeID, in
	// insertion order.
	ListBySession(ctx context.Context, sessionID, excludeID int64) ([]historyModel.Turn, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Open builds the store selected by driver. dsn is a sqlite file path or a
// badger directory; it is ignored by the memory driver.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverBadger:
		return NewBadgerStore(dsn)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown history driver %q", driver)
	}
}

func validateTurn(turn historyModel.Turn) error {
	if !turn.Role.Valid() {
		return errors.Errorf("invalid role %q", turn.Role)
	}
	if turn.Datetime.IsZero() {
		return errors.New("datetime is required")
	}
	return nil
}
