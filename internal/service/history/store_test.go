package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	badgerStore, err := NewBadgerStore(filepath.Join(dir, "badger"))
	require.NoError(t, err)

	stores := map[string]Store{
		DriverSQLite: sqliteStore,
		DriverBadger: badgerStore,
		DriverMemory: NewMemoryStore(),
	}
	for _, s := range stores {
		s := s
		t.Cleanup(func() { _ = s.Close() })
	}
	return stores
}

func contents(turns []historyModel.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turn.Content)
	}
	return out
}

func TestStore_ListBySessionKeepsInsertionOrder(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []int64
			for _, turn := range []historyModel.Turn{
				historyModel.NewTurn(1, historyModel.RoleUser, "u1"),
				historyModel.NewTurn(2, historyModel.RoleUser, "other"),
				historyModel.NewTurn(1, historyModel.RoleAssistant, "a1"),
				historyModel.NewTurn(1, historyModel.RoleUser, "u2"),
			} {
				id, err := s.Save(ctx, turn)
				require.NoError(t, err)
				ids = append(ids, id)
			}
			for i := 1; i < len(ids); i++ {
				require.Greater(t, ids[i], ids[i-1])
			}

			turns, err := s.ListBySession(ctx, 1, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "a1", "u2"}, contents(turns))
			assert.Equal(t, historyModel.RoleAssistant, turns[1].Role)
			for _, turn := range turns {
				assert.Equal(t, int64(1), turn.SessionID)
				assert.False(t, turn.Datetime.IsZero())
			}

			other, err := s.ListBySession(ctx, 2, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"other"}, contents(other))
		})
	}
}

func TestStore_ListBySessionExcludesID(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Save(ctx, historyModel.NewTurn(7, historyModel.RoleUser, "first"))
			require.NoError(t, err)
			id, err := s.Save(ctx, historyModel.NewTurn(7, historyModel.RoleUser, "second"))
			require.NoError(t, err)

			excluded, err := s.ListBySession(ctx, 7, id)
			require.NoError(t, err)
			assert.Equal(t, []string{"first"}, contents(excluded))

			included, err := s.ListBySession(ctx, 7, id+1000)
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second"}, contents(included))
			assert.Equal(t, id, included[1].ID)
		})
	}
}

func TestStore_EmptySession(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			turns, err := s.ListBySession(context.Background(), 99, 0)
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestStore_SaveRejectsInvalidTurn(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Save(context.Background(), historyModel.NewTurn(1, historyModel.Role("system"), "x"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPersistence))

			var perr *PersistenceError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "save", perr.Op)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Save(context.Background(), historyModel.NewTurn(3, historyModel.RoleUser, "kept"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	turns, err := reopened.ListBySession(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, contents(turns))
}

func TestSQLiteStore_ClosedDatabaseIsPersistenceError(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Save(context.Background(), historyModel.NewTurn(1, historyModel.RoleUser, "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("postgres", "")
	require.Error(t, err)

	_, err = SQLiteDSNForFile("  ")
	require.Error(t, err)
}
