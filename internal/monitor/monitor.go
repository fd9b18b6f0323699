// Package monitor owns the activity subscription and feeds transactions from
// followed addresses to the decision engine through a bounded worker pool.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"copyTrader/internal/domain"
	"copyTrader/internal/engine"
	"copyTrader/internal/ports"
)

const unsubscribeTimeout = 5 * time.Second

// Handler processes one fetched transaction.
type Handler interface {
	Handle(ctx context.Context, tx *domain.Transaction) (engine.Result, error)
}

// Config holds monitor settings.
type Config struct {
	Addresses    []string
	Workers      int
	QueueSize    int
	FetchTimeout time.Duration
}

// Stats counts notifications by what happened to them.
type Stats struct {
	Received    int64
	FailedTx    int64
	Duplicates  int64
	Abandoned   int64
	FetchErrors int64
	Missing     int64
	Handled     int64
	HandleErrs  int64
}

// Monitor is the event ingestion loop.
type Monitor struct {
	cfg     Config
	feed    ports.TransactionFeed
	dedup   ports.Deduplicator
	handler Handler
	logger  ports.Logger

	received, failedTx, duplicates, abandoned atomic.Int64
	fetchErrors, missing, handled, handleErrs atomic.Int64
}

// New creates a monitor. Non-positive sizes fall back to one worker and a
// queue twice the worker count.
func New(cfg Config, feed ports.TransactionFeed, dedup ports.Deduplicator, handler Handler, logger ports.Logger) (*Monitor, error) {
	if feed == nil || dedup == nil || handler == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Monitor")
	}
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("monitor needs at least one address to follow")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Monitor{cfg: cfg, feed: feed, dedup: dedup, handler: handler, logger: logger}, nil
}

// Run subscribes and processes notifications until ctx is cancelled or the
// subscription fails permanently. Cancellation tears the subscription down at
// once, drops queued notifications that no worker has picked up, and waits for
// in-flight ones. A clean shutdown returns nil; a subscription failure is
// returned wrapped in ports.ErrSubscription.
func (m *Monitor) Run(ctx context.Context) error {
	sub, err := m.feed.Subscribe(ctx, m.cfg.Addresses)
	if err != nil {
		return fmt.Errorf("%w: %w", ports.ErrSubscription, err)
	}
	m.logger.Info(ctx, "Monitoring transactions", map[string]interface{}{
		"addresses": len(m.cfg.Addresses),
		"workers":   m.cfg.Workers,
		"queueSize": m.cfg.QueueSize,
	})

	queue := make(chan domain.Notification, m.cfg.QueueSize)
	var g errgroup.Group
	for i := 0; i < m.cfg.Workers; i++ {
		g.Go(func() error {
			m.work(ctx, queue)
			return nil
		})
	}

	runErr := m.dispatch(ctx, sub, queue)
	close(queue)
	_ = g.Wait()

	if runErr != nil {
		return fmt.Errorf("%w: %w", ports.ErrSubscription, runErr)
	}
	m.logger.Info(ctx, "Stopped monitoring transactions", m.statsFields())
	return nil
}

// dispatch moves notifications into the queue. It returns the subscription's
// error when the stream ends on its own and nil after cancellation.
func (m *Monitor) dispatch(ctx context.Context, sub ports.Subscription, queue chan<- domain.Notification) error {
	notifications := sub.Notifications()
	for {
		select {
		case <-ctx.Done():
			m.unsubscribe(ctx, sub)
			return nil
		case n, ok := <-notifications:
			if !ok {
				if err := sub.Err(); err != nil {
					m.logger.Error(ctx, err, "Subscription ended")
					return err
				}
				return nil
			}
			m.received.Add(1)
			if n.Failed {
				m.failedTx.Add(1)
				m.logger.Debug(ctx, "Dropping failed transaction", map[string]interface{}{"signature": n.Signature})
				continue
			}
			select {
			case queue <- n:
			case <-ctx.Done():
				m.abandoned.Add(1)
				m.unsubscribe(ctx, sub)
				return nil
			}
		}
	}
}

func (m *Monitor) unsubscribe(ctx context.Context, sub ports.Subscription) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
	defer cancel()
	if err := m.feed.Unsubscribe(uctx, sub); err != nil {
		m.logger.Warn(ctx, "Failed to unsubscribe cleanly", map[string]interface{}{"error": err.Error()})
	}
}

func (m *Monitor) work(ctx context.Context, queue <-chan domain.Notification) {
	for n := range queue {
		if ctx.Err() != nil {
			m.abandoned.Add(1)
			continue
		}
		m.process(ctx, n)
	}
}

func (m *Monitor) process(ctx context.Context, n domain.Notification) {
	fields := map[string]interface{}{"signature": n.Signature, "address": n.Address, "slot": n.Slot}

	first, err := m.dedup.FirstSeen(ctx, n.Signature)
	if err != nil {
		// Fail open: an unchecked notification is processed, never dropped.
		m.logger.Warn(ctx, "Dedup check failed, processing anyway", fields, map[string]interface{}{"error": err.Error()})
	} else if !first {
		m.duplicates.Add(1)
		m.logger.Debug(ctx, "Dropping duplicate notification", fields)
		return
	}

	fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	tx, err := m.feed.FetchTransaction(fctx, n.Signature)
	cancel()
	if err != nil {
		m.fetchErrors.Add(1)
		m.logger.Error(ctx, err, "Failed to fetch transaction", fields)
		return
	}
	if tx == nil {
		m.missing.Add(1)
		m.logger.Warn(ctx, "Transaction not found", fields)
		return
	}

	res, err := m.handler.Handle(ctx, tx)
	m.handled.Add(1)
	if err != nil {
		m.handleErrs.Add(1)
		m.logger.Warn(ctx, "Transaction handling failed", fields, map[string]interface{}{"error": err.Error()})
		return
	}
	m.logger.Debug(ctx, "Transaction handled", fields, map[string]interface{}{"outcome": res.Outcome})
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Received:    m.received.Load(),
		FailedTx:    m.failedTx.Load(),
		Duplicates:  m.duplicates.Load(),
		Abandoned:   m.abandoned.Load(),
		FetchErrors: m.fetchErrors.Load(),
		Missing:     m.missing.Load(),
		Handled:     m.handled.Load(),
		HandleErrs:  m.handleErrs.Load(),
	}
}

func (m *Monitor) statsFields() map[string]interface{} {
	s := m.Stats()
	return map[string]interface{}{
		"received":    s.Received,
		"failedTx":    s.FailedTx,
		"duplicates":  s.Duplicates,
		"abandoned":   s.Abandoned,
		"fetchErrors": s.FetchErrors,
		"missing":     s.Missing,
		"handled":     s.Handled,
		"handleErrs":  s.HandleErrs,
	}
}
