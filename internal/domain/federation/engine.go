package federation

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uhi/gateway/internal/domain/directory"
)

// EngineConfig bounds the engine's timing behaviour.
type EngineConfig struct {
	DefaultDeadline time.Duration
	MaxDeadline     time.Duration
	Retention       time.Duration
}

// Engine runs correlated federated searches: it fans a criteria out to every
// verified participant with the matching capability, collects asynchronous
// callbacks through the correlator until the deadline, and reports
// per-participant outcomes back to the directory.
type Engine struct {
	correlator *Correlator
	dir        *directory.Service
	dispatcher Dispatcher
	cfg        EngineConfig
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	timers  map[string]*time.Timer

	strays atomic.Int64
}

func NewEngine(correlator *Correlator, dir *directory.Service, dispatcher Dispatcher, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 2 * time.Second
	}
	if cfg.MaxDeadline <= 0 {
		cfg.MaxDeadline = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	return &Engine{
		correlator: correlator,
		dir:        dir,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		cancels:    make(map[string]context.CancelFunc),
		timers:     make(map[string]*time.Timer),
	}
}

// StrayCallbacks reports how many stray callbacks the engine has swallowed.
func (e *Engine) StrayCallbacks() int64 {
	return e.strays.Load()
}

// Search starts a federated search and returns its transaction id without
// waiting for responses; the caller polls GetResults. A zero deadline uses
// the configured default; anything above the maximum is clamped.
func (e *Engine) Search(ctx context.Context, criteria Criteria, deadline time.Duration) (string, error) {
	if deadline <= 0 {
		deadline = e.cfg.DefaultDeadline
	}
	if deadline > e.cfg.MaxDeadline {
		deadline = e.cfg.MaxDeadline
	}

	participants, err := e.dir.ListVerifiedByCapability(ctx, criteria.Capability)
	if err != nil {
		return "", err
	}
	if len(participants) == 0 {
		return "", ErrNoParticipants
	}

	now := e.now()
	txn := &Transaction{
		ID:          uuid.New().String(),
		Criteria:    criteria,
		InitiatedAt: now,
		Deadline:    now.Add(deadline),
		State:       StateOpen,
		Expected:    make(map[string]bool, len(participants)),
	}
	for _, p := range participants {
		txn.Expected[p.ID] = true
	}
	e.correlator.Register(txn)

	// Outbound calls outlive the caller's request context; cancellation is
	// tied to the transaction, not to the Search HTTP request.
	outCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[txn.ID] = cancel
	e.timers[txn.ID] = time.AfterFunc(deadline, func() { e.onDeadline(txn.ID) })
	e.mu.Unlock()

	req := OutboundRequest{
		TransactionID: txn.ID,
		Criteria:      criteria,
		Timestamp:     now,
	}
	for _, p := range participants {
		go func(p *directory.Participant) {
			if err := e.dispatcher.Dispatch(outCtx, p, req); err != nil {
				e.logger.Debug().
					Str("transaction_id", txn.ID).
					Str("participant_id", p.ID).
					Err(err).
					Msg("outbound search dispatch failed")
			}
		}(p)
	}

	e.logger.Info().
		Str("transaction_id", txn.ID).
		Str("capability", criteria.Capability).
		Int("participants", len(participants)).
		Dur("deadline", deadline).
		Msg("federated search started")
	return txn.ID, nil
}

// HandleCallback feeds one participant response into the correlator. Stray
// callbacks — unknown or finished transactions, unexpected participants,
// silent duplicates — are logged, counted, and swallowed; the participant
// always gets an acknowledgement.
func (e *Engine) HandleCallback(ctx context.Context, txnID, participantID string, payload json.RawMessage, isUpdate bool) {
	complete, err := e.correlator.Accept(txnID, participantID, payload, isUpdate)
	if err != nil {
		e.strays.Add(1)
		e.logger.Warn().
			Str("transaction_id", txnID).
			Str("participant_id", participantID).
			Err(err).
			Msg("stray callback dropped")
		return
	}
	if complete {
		if outcomes := e.correlator.CloseComplete(txnID); outcomes != nil {
			e.finish(txnID, outcomes)
		}
	}
}

// RejectCallback counts a callback that failed signature verification as
// stray without touching the correlator. The caller still acknowledges it.
func (e *Engine) RejectCallback(txnID, participantID string) {
	e.strays.Add(1)
	e.logger.Warn().
		Str("transaction_id", txnID).
		Str("participant_id", participantID).
		Msg("callback signature verification failed")
}

// GetResults returns the transaction's responses, pending participants, and
// state. Partial results are explicit: a closed transaction lists exactly
// which participants never answered.
func (e *Engine) GetResults(ctx context.Context, txnID string) (*Results, error) {
	return e.correlator.Results(txnID)
}

// Cancel closes a pending transaction with whatever responses have arrived
// and abandons in-flight outbound requests. Their late callbacks are stray.
func (e *Engine) Cancel(ctx context.Context, txnID string) (*Results, error) {
	outcomes, err := e.correlator.Cancel(txnID)
	if err != nil {
		return nil, err
	}
	e.finish(txnID, outcomes)
	e.logger.Info().Str("transaction_id", txnID).Msg("federated search cancelled")
	return e.correlator.Results(txnID)
}

func (e *Engine) onDeadline(txnID string) {
	outcomes := e.correlator.CloseAtDeadline(txnID)
	if outcomes == nil {
		return
	}
	e.finish(txnID, outcomes)
	e.logger.Info().Str("transaction_id", txnID).Msg("federated search deadline reached")
}

// finish releases the transaction's timer and outbound context and reports
// per-participant outcomes to the directory's health counters.
func (e *Engine) finish(txnID string, outcomes []Outcome) {
	e.mu.Lock()
	if cancel, ok := e.cancels[txnID]; ok {
		cancel()
		delete(e.cancels, txnID)
	}
	if timer, ok := e.timers[txnID]; ok {
		timer.Stop()
		delete(e.timers, txnID)
	}
	e.mu.Unlock()

	ctx := context.Background()
	for _, o := range outcomes {
		if err := e.dir.RecordOutcome(ctx, o.ParticipantID, o.TimedOut); err != nil {
			e.logger.Error().
				Str("participant_id", o.ParticipantID).
				Err(err).
				Msg("record participant outcome")
		}
	}
}

// RunRetentionSweeper retires finished transactions past the retention window
// until ctx is done. Call in its own goroutine.
func (e *Engine) RunRetentionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.correlator.Sweep(e.cfg.Retention); n > 0 {
				e.logger.Debug().Int("retired", n).Msg("transaction retention sweep")
			}
		}
	}
}
