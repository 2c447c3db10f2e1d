package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// ChangeState is the lifecycle of a dispatched move.
type ChangeState int

const (
	Pending ChangeState = iota
	Confirmed
	Failed
)

func (s ChangeState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// PendingChange is one dropped move and its dispatch outcome.
type PendingChange struct {
	Sequence       uint64
	IdempotencyKey string
	Command        domain.MoveCommand
	State          ChangeState
	Attempts       int
	Err            error

	previous  Moved
	settledAt time.Time
}

// MoveResult is the server reply to a dispatched move.
type MoveResult struct {
	Item        *domain.Item    `json:"item,omitempty"`
	Board       domain.Snapshot `json:"board"`
	Corrections int             `json:"corrections"`
	Duplicate   bool            `json:"duplicate,omitempty"`
}

// Mover sends one move to the server.
type Mover interface {
	Move(ctx context.Context, board string, cmd domain.MoveCommand, idempotencyKey string) (*MoveResult, error)
}

// StatusError is returned by transports for non-2xx replies.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "server returned " + strconv.Itoa(e.Code)
	}
	return "server returned " + strconv.Itoa(e.Code) + ": " + e.Message
}

// isTerminal reports whether retrying err cannot succeed.
func isTerminal(err error) bool {
	if errors.Is(err, domain.ErrValidation) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 &&
			se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests
	}
	return false
}

// ExecutorConfig tunes dispatch retries.
type ExecutorConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestTimeout bounds every single attempt.
	RequestTimeout time.Duration
	// Retention is how long settled changes stay visible to Status.
	Retention      time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = time.Minute
	}
	return c
}

// Executor applies drops to the local store at once and sends them to the
// server in the background. Dispatches run concurrently.
type Executor struct {
	store   *Store
	mover   Mover
	boardID string
	cfg     ExecutorConfig
	logger  *log.Logger
	session string
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time

	mu      sync.Mutex
	seq     uint64
	changes map[uint64]*PendingChange
	pending map[uint64]struct{}
	// settled holds sequences in settle order for pruning.
	settled []uint64
	latest  map[domain.ItemKey]uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(store *Store, mover Mover, cfg ExecutorConfig, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:   store,
		mover:   mover,
		boardID: store.Board().Name,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		session: uuid.NewString(),
		sleep:   sleepContext,
		now:     time.Now,
		changes: make(map[uint64]*PendingChange),
		pending: make(map[uint64]struct{}),
		latest:  make(map[domain.ItemKey]uint64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Session identifies this executor in idempotency keys.
func (e *Executor) Session() string { return e.session }

// Drop applies a move locally, records it in the ledger and dispatches it.
// It never waits for the network. A drop onto the item's own slot returns
// a zero sequence and sends nothing.
func (e *Executor) Drop(key domain.ItemKey, toBucket domain.Bucket, toPosition int, statusChanged bool) (uint64, error) {
	cur, ok := e.store.Item(key)
	if !ok {
		return 0, domain.ErrNotFound
	}
	cmd := domain.MoveCommand{
		Key:           key,
		FromBucket:    cur.Bucket,
		ToBucket:      toBucket,
		ToPosition:    toPosition,
		StatusChanged: statusChanged,
		IssuedAt:      time.Now().UTC(),
	}
	var change *PendingChange
	_, err := e.store.applyMove(cmd, func(moved Moved) {
		e.mu.Lock()
		e.prune()
		e.seq++
		seq := e.seq
		cmd.ClientSequence = seq
		change = &PendingChange{
			Sequence:       seq,
			IdempotencyKey: e.session + ":" + strconv.FormatUint(seq, 10),
			Command:        cmd,
			State:          Pending,
			previous:       moved,
		}
		e.changes[seq] = change
		e.pending[seq] = struct{}{}
		e.latest[key] = seq
		e.mu.Unlock()

		e.store.Ledger().Record(Record{
			Key:      key,
			Bucket:   moved.Item.Bucket,
			Position: moved.Item.Position,
			Sequence: seq,
		})
	})
	if err != nil || change == nil {
		return 0, err
	}

	e.wg.Add(1)
	go e.dispatch(change)
	return change.Sequence, nil
}

func (e *Executor) dispatch(change *PendingChange) {
	defer e.wg.Done()
	entry := e.logger.WithFields(log.Fields{
		"board":    e.boardID,
		"item":     change.Command.Key.String(),
		"sequence": change.Sequence,
	})

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		e.mu.Lock()
		change.Attempts = attempt
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
		res, err := e.mover.Move(ctx, e.boardID, change.Command, change.IdempotencyKey)
		cancel()
		if err == nil {
			e.confirm(change, res)
			return
		}
		lastErr = err
		if isTerminal(err) || e.ctx.Err() != nil || attempt == e.cfg.MaxAttempts {
			break
		}
		delay := exponentialBackoff(attempt, e.cfg.InitialBackoff, e.cfg.MaxBackoff)
		entry.WithError(err).WithField("attempt", attempt).Warn("move dispatch failed, retrying")
		if e.sleep(e.ctx, delay) != nil {
			break
		}
	}
	entry.WithError(lastErr).Error("move rejected, rolling back")
	e.fail(change, lastErr)
}

// settle marks change final. e.mu must be held.
func (e *Executor) settle(change *PendingChange, state ChangeState) {
	change.State = state
	change.settledAt = e.now()
	delete(e.pending, change.Sequence)
	e.settled = append(e.settled, change.Sequence)
}

// prune drops settled changes older than the retention. e.mu must be held.
func (e *Executor) prune() {
	cutoff := e.now().Add(-e.cfg.Retention)
	n := 0
	for _, seq := range e.settled {
		c := e.changes[seq]
		if !c.settledAt.Before(cutoff) {
			break
		}
		delete(e.changes, seq)
		if e.latest[c.Command.Key] == seq {
			delete(e.latest, c.Command.Key)
		}
		n++
	}
	e.settled = e.settled[n:]
}

func (e *Executor) confirm(change *PendingChange, res *MoveResult) {
	e.mu.Lock()
	e.settle(change, Confirmed)
	e.mu.Unlock()
	if res != nil && res.Board.Board != "" {
		e.store.MergeSnapshot(res.Board.Items)
	}
}

// fail forgets the ledger record and puts the item back where it was, unless
// a later drop of the same item superseded this one.
func (e *Executor) fail(change *PendingChange, err error) {
	key := change.Command.Key
	e.mu.Lock()
	e.settle(change, Failed)
	change.Err = err
	superseded := e.latest[key] != change.Sequence
	e.mu.Unlock()

	e.store.Ledger().Forget(key, change.Sequence)
	if superseded || change.previous.FromIndex < 0 {
		return
	}
	_, rerr := e.store.ApplyMove(domain.MoveCommand{
		Key:        key,
		ToBucket:   change.previous.From.Bucket,
		ToPosition: change.previous.FromIndex + 1,
	})
	if rerr != nil {
		e.logger.WithError(rerr).WithField("item", key.String()).Warn("rollback failed")
	}
}

// Pending returns the changes still waiting for the server, by sequence.
func (e *Executor) Pending() []PendingChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingChange, 0, len(e.pending))
	for seq := range e.pending {
		out = append(out, *e.changes[seq])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Status returns a copy of the change with sequence seq.
func (e *Executor) Status(seq uint64) (PendingChange, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.changes[seq]
	if !ok {
		return PendingChange{}, false
	}
	return *c, true
}

// Wait blocks until every dispatched change settled.
func (e *Executor) Wait() { e.wg.Wait() }

// Close aborts retries and waits for in-flight dispatches.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	if attempt <= 0 {
		return initial
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
