package ai

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUpstream matches every UpstreamError via errors.Is.
var ErrUpstream = errors.New("upstream model call failed")

// UpstreamError wraps provider failures: auth, quota, network, or a stream that
// broke before its end-of-stream signal.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func upstreamError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *UpstreamError
	if errors.As(err, &existing) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}
