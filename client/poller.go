package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// PollState is the phase of the refresh loop.
type PollState int32

const (
	Idle PollState = iota
	Fetching
	Merging
)

func (s PollState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	}
	return "unknown"
}

// DefaultPollInterval is the refresh period of a board view.
const DefaultPollInterval = time.Second

// Fetcher reads the canonical state of a board.
type Fetcher interface {
	Snapshot(ctx context.Context, board string) (domain.Snapshot, error)
}

// Poller refreshes a Store at a fixed interval until its context ends.
// Failed fetches are logged and retried on the next tick.
type Poller struct {
	store    *Store
	fetcher  Fetcher
	interval time.Duration
	logger   *log.Logger
	state    atomic.Int32

	mu      sync.Mutex
	onMerge func(domain.Snapshot)
}

func NewPoller(store *Store, fetcher Fetcher, interval time.Duration, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Poller{store: store, fetcher: fetcher, interval: interval, logger: logger}
}

// OnMerge registers fn to run after every merged snapshot.
func (p *Poller) OnMerge(fn func(domain.Snapshot)) {
	p.mu.Lock()
	p.onMerge = fn
	p.mu.Unlock()
}

func (p *Poller) State() PollState { return PollState(p.state.Load()) }

// Run polls immediately and then once per interval. It returns when ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.WithError(err).WithField("board", p.store.Board().Name).Warn("board refresh failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one fetch and merge cycle.
func (p *Poller) Poll(ctx context.Context) error {
	defer p.state.Store(int32(Idle))

	p.state.Store(int32(Fetching))
	snap, err := p.fetcher.Snapshot(ctx, p.store.Board().Name)
	if err != nil {
		return err
	}

	p.state.Store(int32(Merging))
	p.store.LoadSnapshot(snap.Items)

	p.mu.Lock()
	fn := p.onMerge
	p.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return nil
}
