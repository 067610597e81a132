// Package queue serializes all processing for one address into a single
// in-flight request while letting different addresses proceed in parallel.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/castarena/castarena_service/internal/domain/entities"
	domainerrors "github.com/castarena/castarena_service/internal/domain/errors"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/metrics"
)

// Processor runs one dequeued request to completion.
type Processor func(ctx context.Context) (*entities.ProcessingResult, error)

// Config holds queue bounds and pacing
type Config struct {
	MaxQueueSize      int
	MaxWaitTime       time.Duration
	InterRequestDelay time.Duration
}

type outcome struct {
	result *entities.ProcessingResult
	err    error
}

type entry struct {
	requestID  string
	processor  Processor
	resultCh   chan outcome
	enqueuedAt time.Time
	ctx        context.Context
}

// AddressStats describes one address queue for the stats endpoint.
type AddressStats struct {
	Depth      int  `json:"depth"`
	Processing bool `json:"processing"`
}

// Queue maintains one FIFO list per address with a lazily started worker
// that runs entries strictly one at a time. For a fixed address, two
// processor invocations are never in flight simultaneously.
type Queue struct {
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	queues     map[string][]*entry
	processing map[string]bool
	draining   bool
	wg         sync.WaitGroup

	now func() time.Time
}

// New creates a request queue.
func New(config Config, logger *logger.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		config:     config,
		logger:     logger,
		metrics:    m,
		queues:     make(map[string][]*entry),
		processing: make(map[string]bool),
		now:        time.Now,
	}
}

// Enqueue appends a request to the address's FIFO and blocks until it has
// been processed, rejected as expired, or the context is cancelled.
// Returns a queue-full error when the address already has MaxQueueSize
// entries pending.
func (q *Queue) Enqueue(ctx context.Context, address, requestID string, processor Processor) (*entities.ProcessingResult, error) {
	e := &entry{
		requestID:  requestID,
		processor:  processor,
		resultCh:   make(chan outcome, 1),
		enqueuedAt: q.now(),
		ctx:        ctx,
	}

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil, domainerrors.TransientError("request queue", nil)
	}
	if len(q.queues[address]) >= q.config.MaxQueueSize {
		size := len(q.queues[address])
		q.mu.Unlock()
		return nil, domainerrors.QueueFullError(address, size)
	}
	q.queues[address] = append(q.queues[address], e)
	q.setDepthLocked(address)

	if !q.processing[address] {
		q.processing[address] = true
		q.wg.Add(1)
		go q.worker(address)
	}
	q.mu.Unlock()

	select {
	case out := <-e.resultCh:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns per-address queue depth and processing state.
func (q *Queue) Stats() map[string]AddressStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[string]AddressStats, len(q.queues))
	for address, entries := range q.queues {
		stats[address] = AddressStats{
			Depth:      len(entries),
			Processing: q.processing[address],
		}
	}
	return stats
}

// Shutdown stops accepting new work and waits for in-flight workers.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return domainerrors.InternalError("queue drain timed out", nil)
	}
}

// worker drains one address's queue sequentially and exits when it empties.
func (q *Queue) worker(address string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		entries := q.queues[address]
		if len(entries) == 0 {
			q.processing[address] = false
			delete(q.queues, address)
			q.setDepthLocked(address)
			q.mu.Unlock()
			return
		}
		e := entries[0]
		q.queues[address] = entries[1:]
		q.setDepthLocked(address)
		q.mu.Unlock()

		q.run(address, e)

		// Smooth bursts from one address
		if q.config.InterRequestDelay > 0 {
			time.Sleep(q.config.InterRequestDelay)
		}
	}
}

func (q *Queue) run(address string, e *entry) {
	// Reject entries that aged out while waiting, without running them
	if q.now().Sub(e.enqueuedAt) > q.config.MaxWaitTime {
		q.logger.Warn("Queue entry expired before processing",
			"address", address,
			"request_id", e.requestID,
			"waited", q.now().Sub(e.enqueuedAt).String())
		e.resultCh <- outcome{err: domainerrors.QueueTimeoutError(address)}
		return
	}
	// Abandoned by the caller; skip the work
	if e.ctx.Err() != nil {
		e.resultCh <- outcome{err: e.ctx.Err()}
		return
	}

	result, err := e.processor(e.ctx)
	e.resultCh <- outcome{result: result, err: err}
}

func (q *Queue) setDepthLocked(address string) {
	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(address).Set(float64(len(q.queues[address])))
	}
}
