package history

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPersistence matches every PersistenceError via errors.Is.
var ErrPersistence = errors.New("history persistence failed")

// PersistenceError reports that the backing store was unreachable or rejected
// a read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
