package main

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
	"github.com/AINF-EPAMIG/gestao-sub001/reconcile"
	"github.com/AINF-EPAMIG/gestao-sub001/storage"
)

type boardNormalizer interface {
	Normalize(ctx context.Context, board string, bucket domain.Bucket) (reconcile.SweepResult, error)
}

type repairSource interface {
	Dequeue(ctx context.Context) (*storage.RepairMessage, error)
	Delete(ctx context.Context, msg *storage.RepairMessage) error
}

type worker struct {
	boards       []string
	svc          boardNormalizer
	queue        repairSource
	logger       *log.Logger
	interval     time.Duration
	pollInterval time.Duration
	maxDequeue   int64
}

// run sweeps every board periodically and drains the repair queue until ctx
// is cancelled. A nil queue disables the drain loop.
func (w *worker) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.sweepLoop(gctx) })
	if w.queue != nil {
		g.Go(func() error { return w.drainLoop(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *worker) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweepAll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *worker) sweepAll(ctx context.Context) {
	for _, board := range w.boards {
		res, err := w.svc.Normalize(ctx, board, "")
		entry := w.logger.WithFields(log.Fields{"board": board, "lanes": res.Lanes, "corrections": res.Corrections})
		if err != nil {
			entry.WithError(err).WithField("failedLanes", res.FailedLanes).Error("sweep incomplete")
			continue
		}
		entry.Debug("sweep complete")
	}
}

func (w *worker) drainLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WithError(err).Warn("repair dequeue failed")
			}
			sleep(ctx, w.pollInterval)
			continue
		}
		if msg == nil {
			sleep(ctx, w.pollInterval)
			continue
		}
		if err := w.processRepair(ctx, msg); err != nil {
			w.logger.WithError(err).WithField("board", msg.Request.Board).Warn("repair failed, message will be redelivered")
		}
	}
}

// processRepair normalizes the bucket named by msg and deletes the message
// unless the attempt should be retried.
func (w *worker) processRepair(ctx context.Context, msg *storage.RepairMessage) error {
	req := msg.Request
	entry := w.logger.WithFields(log.Fields{"board": req.Board, "lane": req.Lane().String(), "dequeueCount": msg.DequeueCount})
	switch {
	case req.Board == "" || req.Bucket == "":
		entry.Warn("dropping malformed repair request")
		return w.queue.Delete(ctx, msg)
	case w.maxDequeue > 0 && msg.DequeueCount > w.maxDequeue:
		entry.Error("repair request exceeded delivery limit, dropping")
		return w.queue.Delete(ctx, msg)
	}

	res, err := w.svc.Normalize(ctx, req.Board, req.Bucket)
	if errors.Is(err, domain.ErrUnknownBoard) || errors.Is(err, domain.ErrValidation) {
		entry.WithError(err).Warn("dropping repair request for unknown lane")
		return w.queue.Delete(ctx, msg)
	}
	if err != nil {
		return err
	}
	entry.WithFields(log.Fields{"corrections": res.Corrections, "reason": req.Reason}).Info("lane repaired")
	return w.queue.Delete(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
