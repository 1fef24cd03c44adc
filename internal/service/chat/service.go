package chat

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fengnong/fengnong-agent/backend/internal/metrics"
	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
	"github.com/fengnong/fengnong-agent/backend/internal/service/ai"
)

const (
	defaultPersistWorkers = 8
	persistDrainTimeout   = 10 * time.Second
)

// HistoryStore is the subset of the history store the orchestrator needs.
type HistoryStore interface {
	Save(ctx context.Context, turn historyModel.Turn) (int64, error)
	ListBySession(ctx context.Context, sessionID, excludeID int64) ([]historyModel.Turn, error)
}

// StreamCompleter opens a streaming completion seeded with prior turns.
type StreamCompleter interface {
	StreamComplete(ctx context.Context, systemPrompt, userMessage string, priorTurns []historyModel.Turn) (ai.FragmentStream, error)
}

// Config tunes the orchestrator.
type Config struct {
	// SystemPrompt is the persona sent with every streamed exchange.
	SystemPrompt string
	// PersistWorkers bounds concurrent assistant-turn writes.
	PersistWorkers int
	Metrics        *metrics.Metrics
}

// Service runs history-augmented streaming chat exchanges.
type Service struct {
	store     HistoryStore
	completer StreamCompleter
	prompt    string
	pool      *ants.Pool
	metrics   *metrics.Metrics
}

// NewService wires the orchestrator to its store and completion client.
func NewService(store HistoryStore, completer StreamCompleter, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if completer == nil {
		return nil, errors.New("stream completer is required")
	}

	workers := cfg.PersistWorkers
	if workers <= 0 {
		workers = defaultPersistWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create persist pool")
	}

	return &Service{
		store:     store,
		completer: completer,
		prompt:    cfg.SystemPrompt,
		pool:      pool,
		metrics:   cfg.Metrics,
	}, nil
}

// Close stops accepting exchanges and waits up to persistDrainTimeout for
// in-flight assistant writes.
func (s *Service) Close() error {
	return s.pool.ReleaseTimeout(persistDrainTimeout)
}

// History returns every stored turn of a session in insertion order.
func (s *Service) History(ctx context.Context, sessionID int64) ([]historyModel.Turn, error) {
	// ids start at 1, so 0 excludes nothing
	return s.store.ListBySession(ctx, sessionID, 0)
}

// Stream persists the user turn, loads the session's prior turns and opens
// the upstream stream. Fragments are delivered through the returned Reply.
//
// A PersistenceError from the first save aborts before any upstream call.
// Callers must drain Reply.Fragments or cancel ctx.
func (s *Service) Stream(ctx context.Context, sessionID int64, message string) (*Reply, error) {
	reply := newReply(uuid.NewString(), sessionID)
	logger := log.With().Str("stream", reply.ID).Int64("session", sessionID).Logger()

	userID, err := s.store.Save(ctx, historyModel.NewTurn(sessionID, historyModel.RoleUser, message))
	if err != nil {
		s.metrics.ObservePersistFailure(string(historyModel.RoleUser))
		return nil, errors.Wrap(err, "save user turn")
	}
	reply.UserTurnID = userID

	prior, err := s.store.ListBySession(ctx, sessionID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load prior turns")
	}

	upstream, err := s.completer.StreamComplete(ctx, s.prompt, message, prior)
	if err != nil {
		s.metrics.ObserveUpstreamFailure("stream")
		return nil, errors.Wrap(err, "open completion stream")
	}

	logger.Debug().Int64("userTurn", userID).Int("prior", len(prior)).Msg("stream opened")
	go s.produce(ctx, logger, upstream, reply)
	return reply, nil
}

// produce is the single upstream subscriber. Each fragment goes first to the
// caller-facing channel and then into the accumulator; the assistant turn is
// written only after end-of-stream.
func (s *Service) produce(ctx context.Context, logger zerolog.Logger, upstream ai.FragmentStream, reply *Reply) {
	var (
		accumulated strings.Builder
		completed   bool
	)

loop:
	for {
		fragment, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			completed = true
			break
		}
		if err != nil {
			reply.err = err
			break
		}

		select {
		case reply.fragments <- fragment:
			accumulated.WriteString(fragment)
			s.metrics.ObserveFragment()
		case <-ctx.Done():
			reply.err = ctx.Err()
			break loop
		}
	}
	upstream.Close()
	close(reply.fragments)

	if !completed {
		outcome := metrics.OutcomeFailed
		if errors.Is(reply.err, context.Canceled) || errors.Is(reply.err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeCanceled
		} else {
			s.metrics.ObserveUpstreamFailure("stream")
		}
		s.metrics.ObserveStream(outcome)
		logger.Warn().Err(reply.err).Str("outcome", outcome).Msg("stream ended before completion, assistant turn not saved")
		reply.finish(0, nil)
		return
	}
	s.metrics.ObserveStream(metrics.OutcomeCompleted)

	turn := historyModel.NewTurn(reply.SessionID, historyModel.RoleAssistant, accumulated.String())
	persist := func() {
		id, err := s.store.Save(context.WithoutCancel(ctx), turn)
		if err != nil {
			s.metrics.ObservePersistFailure(string(historyModel.RoleAssistant))
			logger.Error().Err(err).Msg("failed to save assistant turn")
		} else {
			logger.Debug().Int64("assistantTurn", id).Int("length", len(turn.Content)).Msg("assistant turn saved")
		}
		reply.finish(id, err)
	}
	if err := s.pool.Submit(persist); err != nil {
		logger.Warn().Err(err).Msg("persist pool unavailable, saving inline")
		persist()
	}
}
