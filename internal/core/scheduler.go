/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/x-stp/o365scan/internal/metrics"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// WorkItem is one address handed to a worker. Items are pooled.
type WorkItem struct {
	Key      string                     // Shard key, the domain being classified.
	Index    int                        // Position of the address in the input.
	Email    string                     // The address itself.
	Callback func(item *WorkItem) error // Executed by the worker.
	Ctx      context.Context            // Context of the run that submitted the item.
}

// Scheduler runs a fixed pool of workers and routes each WorkItem to a worker
// chosen by hashing its Key. All items for one domain therefore land on the
// same worker and are processed in submission order, so a domain is looked up
// at most once while the others hit the cache.
type Scheduler struct {
	numWorkers   int
	workers      []*worker
	logger       *zap.Logger
	metrics      *metrics.Metrics
	mu           sync.RWMutex // Guards queue sends against Close.
	shutdown     atomic.Bool
	workItemPool sync.Pool
	running      sync.WaitGroup
}

type worker struct {
	id        int
	queue     chan *WorkItem
	scheduler *Scheduler
}

// NewScheduler creates the worker pool and starts every worker goroutine.
//
// Parameters:
//
//	numWorkers: pool size, clamped to [1, MaxWorkers].
//	queueSize:  buffered queue length per worker; WorkerQueueCapacity if <= 0.
//	logger:     destination for worker diagnostics; nil discards them.
//
// Returns:
//
//	A running Scheduler. Callers must call Close to stop the workers.
func NewScheduler(numWorkers, queueSize int, logger *zap.Logger) *Scheduler {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}
	if queueSize <= 0 {
		queueSize = WorkerQueueCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers),
		logger:     logger,
		metrics:    metrics.GetMetrics(),
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
	}

	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:        i,
			queue:     make(chan *WorkItem, queueSize),
			scheduler: s,
		}
		s.workers[i] = w
		s.running.Add(1)
		go w.run()
	}

	logger.Debug("Scheduler initialized", zap.Int("workers", numWorkers), zap.Int("queue_size", queueSize))
	return s
}

// NumWorkers returns the size of the pool.
func (s *Scheduler) NumWorkers() int {
	return s.numWorkers
}

// run drains the worker queue until it is closed. Items already queued when
// the run is cancelled are still executed; their callbacks see the cancelled
// context and return quickly.
func (w *worker) run() {
	defer w.scheduler.running.Done()
	for item := range w.queue {
		w.process(item)
	}
}

func (w *worker) process(item *WorkItem) {
	s := w.scheduler
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				s.logger.Error("Panic recovered in worker",
					zap.Int("worker", w.id),
					zap.String("domain", item.Key),
					zap.Int("index", item.Index),
					zap.Any("panic", r))
			}
		}()

		if err := item.Callback(item); err != nil {
			s.logger.Debug("Work item failed",
				zap.Int("worker", w.id),
				zap.String("domain", item.Key),
				zap.Int("index", item.Index),
				zap.Error(err))
		}
	}()
	s.metrics.RecordWorkerDone(w.id, panicked)

	item.Key = ""
	item.Email = ""
	item.Callback = nil
	item.Ctx = nil
	s.workItemPool.Put(item)
}

// SubmitWork routes an item to the worker owning key.
// Operation: Non-blocking. Items with the same key run on one worker in
// submission order.
//
// Parameters:
//
//	ctx:      context handed to the callback through WorkItem.Ctx.
//	key:      shard key, the domain of the address.
//	index:    position of the address in the input.
//	email:    the address itself.
//	callback: executed by the worker; its error is logged, not returned.
//
// Returns:
//
//	nil when queued, a wrapped retryable ErrQueueFull when the shard's queue
//	is full, or ErrWorkerShutdown after Close.
func (s *Scheduler) SubmitWork(ctx context.Context, key string, index int, email string, callback func(item *WorkItem) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}
	shardIndex := int(xxh3.HashString(key) % uint64(s.numWorkers))
	target := s.workers[shardIndex]

	item := s.workItemPool.Get().(*WorkItem)
	item.Key = key
	item.Index = index
	item.Email = email
	item.Callback = callback
	item.Ctx = ctx

	select {
	case target.queue <- item:
		return nil
	default:
		item.Callback = nil
		item.Ctx = nil
		s.workItemPool.Put(item)
		return fmt.Errorf("worker %d for %s: %w", target.id, key, ErrQueueFull)
	}
}

// Close stops accepting work, lets the workers finish their queues and
// returns once they have exited.
// Operation: Blocking until every queued item has run. Safe to call more
// than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.shutdown.CompareAndSwap(false, true) {
		for _, w := range s.workers {
			close(w.queue)
		}
	}
	s.mu.Unlock()

	s.running.Wait()
	s.logger.Debug("Scheduler stopped", zap.Int("workers", s.numWorkers))
}
