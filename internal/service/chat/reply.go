package chat

// Reply is the caller's handle on one streamed exchange.
type Reply struct {
	ID         string
	SessionID  int64
	UserTurnID int64

	fragments chan string
	// err is written before fragments is closed
	err error

	done            chan struct{}
	assistantTurnID int64
	persistErr      error
}

func newReply(id string, sessionID int64) *Reply {
	return &Reply{
		ID:        id,
		SessionID: sessionID,
		fragments: make(chan string),
		done:      make(chan struct{}),
	}
}

// Fragments yields text in arrival order and is closed when the upstream
// completes, fails or the request context ends.
func (r *Reply) Fragments() <-chan string {
	return r.fragments
}

// Err reports why the fragment channel closed early. It is nil after a
// complete stream and must only be called once Fragments is closed.
func (r *Reply) Err() error {
	return r.err
}

// Wait blocks until the background side effect settled and returns the
// assistant turn id (0 when nothing was saved) with the save error.
func (r *Reply) Wait() (int64, error) {
	<-r.done
	return r.assistantTurnID, r.persistErr
}

// Done is closed once Wait would not block.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

func (r *Reply) finish(id int64, err error) {
	r.assistantTurnID = id
	r.persistErr = err
	close(r.done)
}
