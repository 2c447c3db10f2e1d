package reconcile

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// RepairSenderConfig sizes the asynchronous repair hand-off.
type RepairSenderConfig struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c RepairSenderConfig) withDefaults() RepairSenderConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 10 * time.Second
	}
	return c
}

// repairSender pushes repair requests onto the queue from a small worker pool
// so a failing inline normalization never waits on the queue round trip.
type repairSender struct {
	cfg     RepairSenderConfig
	queue   RepairQueue
	logger  *log.Logger
	metrics *Metrics

	mu     sync.RWMutex
	jobs   chan domain.RepairRequest
	closed bool
	wg     sync.WaitGroup
}

func newRepairSender(queue RepairQueue, cfg RepairSenderConfig, logger *log.Logger, metrics *Metrics) *repairSender {
	cfg = cfg.withDefaults()
	r := &repairSender{
		cfg:     cfg,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
		jobs:    make(chan domain.RepairRequest, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Infof("repair sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return r
}

func (r *repairSender) worker(id int) {
	defer r.wg.Done()
	for req := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.EnqueueTimeout)
		err := r.queue.EnqueueRepair(ctx, req)
		cancel()
		if err != nil {
			r.metrics.repair(req.Board, "failed")
			r.logger.Errorf("repair enqueue failed, err: %v, board: %s, lane: %s, worker: %d", err, req.Board, req.Lane(), id)
			continue
		}
		r.metrics.repair(req.Board, "queued")
	}
}

// send hands req to a worker. It returns false when the buffer stays full for
// longer than the hand-off timeout or the sender is closed.
func (r *repairSender) send(req domain.RepairRequest) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.jobs <- req:
		return true
	default:
	}
	if r.cfg.HandoffTimeout <= 0 {
		r.metrics.repair(req.Board, "dropped")
		return false
	}

	timer := time.NewTimer(r.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case r.jobs <- req:
		return true
	case <-timer.C:
		r.metrics.repair(req.Board, "dropped")
		return false
	}
}

// close stops accepting requests and waits for queued ones to be delivered.
func (r *repairSender) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
