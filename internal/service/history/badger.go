package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
)

const (
	badgerTurnPrefix      = "sys_history/"
	badgerSequenceKey     = "sys_history_seq"
	badgerSequenceLeasing = 100
)

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error().Msg(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug().Msg(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Trace().Msg(fmt.Sprintf(msg, args...))
}

// BadgerStore keeps turns in a badger key space ordered by session then id:
// sys_history/<session:8 bytes>/<id:8 bytes>.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (creating if needed) a badger directory. An empty dir
// opens an in-memory database.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "badger history store: create dir")
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{logger: log.With().Str("component", "badger").Logger()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "badger history store: open")
	}
	seq, err := db.GetSequence([]byte(badgerSequenceKey), badgerSequenceLeasing)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "badger history store: sequence")
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

func badgerSessionPrefix(sessionID int64) []byte {
	key := make([]byte, 0, len(badgerTurnPrefix)+9)
	key = append(key, badgerTurnPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(sessionID))
	return append(key, '/')
}

func badgerTurnKey(sessionID, id int64) []byte {
	return binary.BigEndian.AppendUint64(badgerSessionPrefix(sessionID), uint64(id))
}

func (s *BadgerStore) nextID() (int64, error) {
	id, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// badger sequences start at zero; ids start at one like AUTOINCREMENT.
	if id == 0 {
		if id, err = s.seq.Next(); err != nil {
			return 0, err
		}
	}
	return int64(id), nil
}

// Save assigns the next sequence id and writes the turn.
func (s *BadgerStore) Save(_ context.Context, turn historyModel.Turn) (int64, error) {
	if err := validateTurn(turn); err != nil {
		return 0, persistenceError("save", err)
	}

	id, err := s.nextID()
	if err != nil {
		return 0, persistenceError("save", errors.Wrap(err, "next id"))
	}
	turn.ID = id
	turn.Datetime = turn.Datetime.UTC()

	value, err := json.Marshal(turn)
	if err != nil {
		return 0, persistenceError("save", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerTurnKey(turn.SessionID, id), value)
	})
	if err != nil {
		return 0, persistenceError("save", errors.Wrap(err, "write turn"))
	}
	return id, nil
}

// ListBySession scans the session prefix; keys sort by id.
func (s *BadgerStore) ListBySession(_ context.Context, sessionID, excludeID int64) ([]historyModel.Turn, error) {
	prefix := badgerSessionPrefix(sessionID)
	out := []historyModel.Turn{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var turn historyModel.Turn
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			}); err != nil {
				return err
			}
			if turn.ID == excludeID {
				continue
			}
			out = append(out, turn)
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("list", errors.Wrap(err, "scan turns"))
	}
	return out, nil
}
