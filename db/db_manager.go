package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"playerident/internal/metrics"
	"playerident/internal/util"

	"github.com/gammazero/channelqueue"
)

// DefaultQueueSize is the number of write batches that may wait for the
// worker before Enqueue starts to block.
const DefaultQueueSize = 4096

const writeTimeout = 30 * time.Second

var ErrManagerStopped = errors.New("database manager stopped")

// Operation is one batch of statements waiting to be written
type Operation struct {
	Statements []Statement
	Result     chan error // nil for fire-and-forget batches
	ctx        context.Context
}

// DBManager serializes all identity writes through a single worker. Batches
// are executed in the order they were queued.
type DBManager struct {
	repo    IdentityRepository
	queue   *channelqueue.ChannelQueue[Operation]
	metrics *metrics.Metrics

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

// NewDBManager creates a new database manager and starts its worker. A
// queueSize of zero or less uses DefaultQueueSize.
func NewDBManager(repo IdentityRepository, queueSize int, m *metrics.Metrics) *DBManager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if m == nil {
		m = metrics.New(nil)
	}
	mgr := &DBManager{
		repo:    repo,
		queue:   channelqueue.New[Operation](queueSize),
		metrics: m,
		done:    make(chan struct{}),
	}

	// Start the worker goroutine
	go mgr.worker()
	log.Infow("Database write manager started", "queueSize", queueSize)

	return mgr
}

// worker processes operations one at a time until the queue is closed and drained
func (m *DBManager) worker() {
	defer close(m.done)
	for op := range m.queue.Out() {
		m.metrics.QueuedWrites.Dec()
		err := m.execute(op)
		if op.Result != nil {
			op.Result <- err
		}
	}
}

func (m *DBManager) execute(op Operation) error {
	if len(op.Statements) == 0 {
		return nil
	}
	ctx := op.ctx
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
	}
	err := util.RetryOnLock(func() error {
		return m.repo.Exec(ctx, op.Statements...)
	})
	if err != nil {
		m.metrics.WriteBatches.WithLabelValues("error").Inc()
		if op.Result == nil {
			// Nobody is waiting for this one, so the log is the only record.
			log.Errorw("Failed to persist identity statements", "err", err, "statements", len(op.Statements))
		}
		return err
	}
	m.metrics.WriteBatches.WithLabelValues("ok").Inc()
	return nil
}

// Enqueue schedules stmts for execution and returns without waiting for them.
// Failures are logged by the worker and not retried beyond lock contention.
func (m *DBManager) Enqueue(stmts ...Statement) {
	if len(stmts) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		log.Errorw("Dropping identity statements queued after shutdown", "statements", len(stmts))
		return
	}
	m.metrics.QueuedWrites.Inc()
	m.queue.In() <- Operation{Statements: stmts}
}

// Execute runs stmts behind any batches already queued and waits for the
// result. With no statements it only waits for the earlier batches.
func (m *DBManager) Execute(ctx context.Context, stmts ...Statement) error {
	resultChan := make(chan error, 1)

	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return ErrManagerStopped
	}
	m.metrics.QueuedWrites.Inc()
	m.queue.In() <- Operation{Statements: stmts, Result: resultChan, ctx: ctx}
	m.mu.RUnlock()

	select {
	case err := <-resultChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of batches waiting to be written
func (m *DBManager) Len() int {
	return m.queue.Len()
}

// Stop stops accepting writes and waits until every queued batch is written
func (m *DBManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.stopped = true
	close(m.queue.In())
	m.mu.Unlock()

	<-m.done
	log.Info("Database write manager stopped")
}
