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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/x-stp/o365scan/internal/checkpoint"
	"github.com/x-stp/o365scan/internal/classify"
	"github.com/x-stp/o365scan/internal/extract"
	"github.com/x-stp/o365scan/internal/metrics"
	"go.uber.org/zap"
)

// DomainClassifier classifies a domain, memoizing through cache.
type DomainClassifier interface {
	Classify(ctx context.Context, domain string, cache *classify.Cache) (classify.Result, error)
}

// RunnerConfig tunes a BatchRunner. Zero values select the defaults.
type RunnerConfig struct {
	SaveEvery     int // Checkpoint cadence in addresses.
	ProgressEvery int // Console progress cadence in addresses.
	Workers       int // 1 runs serially; more enables the scheduler.
}

// BatchRunner walks the address list from the checkpointed resume point,
// classifies each address's domain, and saves progress on a fixed cadence.
//
// The checkpoint is mutated by a single goroutine only. In parallel mode the
// workers classify out of order and the committer applies their outcomes in
// index order, so results and NextIndex match a serial run exactly. Workers
// run ahead of the committer, so an intermediate save may also carry cache
// entries for addresses past NextIndex. The final save is identical to the
// serial one.
type BatchRunner struct {
	classifier DomainClassifier
	store      checkpoint.Store
	cfg        RunnerConfig
	out        io.Writer
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewBatchRunner wires a runner. Console lines go to out.
func NewBatchRunner(classifier DomainClassifier, store checkpoint.Store, cfg RunnerConfig, out io.Writer, logger *zap.Logger) *BatchRunner {
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = DefaultSaveEvery
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Workers > MaxWorkers {
		cfg.Workers = MaxWorkers
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRunner{
		classifier: classifier,
		store:      store,
		cfg:        cfg,
		out:        out,
		logger:     logger,
		metrics:    metrics.GetMetrics(),
		now:        time.Now,
	}
}

// run is the state of one Run call.
type run struct {
	cp    *checkpoint.Checkpoint
	stats *RunStats
}

// Run processes emails from the persisted resume point to the end.
//
// On success the returned summary has Completed set and the final checkpoint
// is on disk. If ctx is cancelled the contiguous prefix of finished addresses
// is committed and saved, and the error wraps ErrInterrupted. A failed
// checkpoint save aborts the run with an error wrapping ErrPersistence.
func (r *BatchRunner) Run(ctx context.Context, emails []string) (*Summary, error) {
	cp, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	total := len(emails)
	fmt.Fprintf(r.out, "Total unique emails: %d\n", total)
	fmt.Fprintf(r.out, "Resuming from index: %d\n", cp.NextIndex)

	st := &run{
		cp: cp,
		stats: &RunStats{
			StartTime:  r.now(),
			StartIndex: cp.NextIndex,
			Total:      total,
		},
	}
	r.metrics.UpdateProgress(total, cp.NextIndex, len(cp.Results))

	if cp.NextIndex >= total {
		if cp.NextIndex > total {
			r.logger.Warn("Checkpoint is ahead of the input, nothing to process",
				zap.Int("next_index", cp.NextIndex),
				zap.Int("total", total))
		}
		return r.summary(st, true), nil
	}

	r.logger.Info("Starting batch",
		zap.Int("total", total),
		zap.Int("start_index", cp.NextIndex),
		zap.Int("workers", r.cfg.Workers),
		zap.Int("save_every", r.cfg.SaveEvery))

	if r.cfg.Workers <= 1 {
		err = r.runSerial(ctx, emails, st)
	} else {
		err = r.runParallel(ctx, emails, st)
	}
	if err != nil {
		return r.summary(st, false), err
	}

	r.logger.Info("Batch complete",
		zap.Int64("processed", st.stats.Processed.Load()),
		zap.Int("matched", len(cp.Results)),
		zap.Int64("saves", st.stats.Saves.Load()),
		zap.Duration("elapsed", r.now().Sub(st.stats.StartTime)))
	return r.summary(st, true), nil
}

func (r *BatchRunner) runSerial(ctx context.Context, emails []string, st *run) error {
	total := len(emails)
	for i := st.cp.NextIndex; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return r.halt(st, err)
		}
		email := emails[i]
		domain := extract.Domain(email)

		res, err := r.classifier.Classify(ctx, domain, st.cp.DomainCache)
		if err != nil {
			return r.halt(st, err)
		}
		if err := r.commit(st, outcome{index: i, email: email, domain: domain, result: res}); err != nil {
			return err
		}
	}
	return nil
}

func (r *BatchRunner) runParallel(parent context.Context, emails []string, st *run) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	total := len(emails)
	sched := NewScheduler(r.cfg.Workers, WorkerQueueCapacity, r.logger)
	window := sched.NumWorkers() * WindowPerWorker

	slots := make(chan struct{}, window)
	results := make(chan outcome, window)
	cache := st.cp.DomainCache

	classifyItem := func(item *WorkItem) error {
		o := outcome{index: item.Index, email: item.Email, domain: item.Key}
		defer func() {
			if p := recover(); p != nil {
				o.err = fmt.Errorf("%w: %v", ErrWorkerPanic, p)
			}
			results <- o
		}()
		o.result, o.err = r.classifier.Classify(item.Ctx, item.Key, cache)
		return o.err
	}

	dispatchErr := make(chan error, 1)
	go func() {
		defer func() {
			sched.Close()
			close(results)
		}()
		for i := st.cp.NextIndex; i < total; i++ {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			if err := r.submit(ctx, sched, i, emails[i], classifyItem); err != nil {
				if ctx.Err() == nil {
					dispatchErr <- err
				}
				return
			}
			st.stats.Dispatched.Add(1)
		}
	}()

	next := st.cp.NextIndex
	pending := make(map[int]outcome, window)
	var haltErr error

	for o := range results {
		if haltErr != nil {
			continue
		}
		pending[o.index] = o
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if p.err != nil {
				haltErr = p.err
				break
			}
			if err := r.commit(st, p); err != nil {
				haltErr = err
				break
			}
			next++
			<-slots
		}
		r.metrics.UpdateInFlight(int(st.stats.Dispatched.Load()) - (next - st.stats.StartIndex))
		if haltErr != nil {
			cancel()
		}
	}

	select {
	case err := <-dispatchErr:
		if haltErr == nil {
			haltErr = err
		}
	default:
	}

	switch {
	case haltErr == nil && next < total:
		// The dispatcher stopped early without reporting why: parent cancellation.
		return r.halt(st, parent.Err())
	case haltErr == nil:
		return nil
	case errors.Is(haltErr, ErrPersistence):
		return haltErr
	default:
		return r.halt(st, haltErr)
	}
}

// submit hands one address to the scheduler, retrying while its shard is full.
func (r *BatchRunner) submit(ctx context.Context, sched *Scheduler, i int, email string, fn func(*WorkItem) error) error {
	domain := extract.Domain(email)
	for {
		err := sched.SubmitWork(ctx, domain, i, email, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		t := time.NewTimer(SubmitBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// commit applies one classified address to the checkpoint, saving and
// reporting progress on cadence.
func (r *BatchRunner) commit(st *run, o outcome) error {
	cp := st.cp
	if o.result.IsO365() {
		cp.Results = append(cp.Results, matchLine(o.email, o.domain, o.result))
		st.stats.Matched.Add(1)
	}
	cp.NextIndex = o.index + 1
	st.stats.Processed.Add(1)

	n := o.index + 1
	if n%r.cfg.SaveEvery == 0 || n == st.stats.Total {
		if err := r.save(st); err != nil {
			return err
		}
	}

	if n%r.cfg.ProgressEvery == 0 {
		now := r.now()
		fmt.Fprintf(r.out, "Processed %d/%d | O365: %d | %d/sec | %ds elapsed\n",
			n, st.stats.Total, len(cp.Results), st.stats.Rate(now), int(now.Sub(st.stats.StartTime).Seconds()))
		r.metrics.UpdateProgress(st.stats.Total, n, len(cp.Results))
	}
	return nil
}

func (r *BatchRunner) save(st *run) error {
	if err := r.store.Save(st.cp); err != nil {
		r.logger.Error("Checkpoint save failed", zap.Int("next_index", st.cp.NextIndex), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	st.stats.Saves.Add(1)
	r.logger.Debug("Checkpoint saved", zap.Int("next_index", st.cp.NextIndex), zap.Int("results", len(st.cp.Results)))
	return nil
}

// halt saves the committed prefix after the run stopped early.
func (r *BatchRunner) halt(st *run, cause error) error {
	r.logger.Warn("Batch stopped early, saving checkpoint",
		zap.Int("next_index", st.cp.NextIndex),
		zap.Int("total", st.stats.Total),
		zap.Error(cause))

	var err error
	switch {
	case cause == nil:
		err = ErrInterrupted
	case isContextErr(cause):
		err = fmt.Errorf("%w: %w", ErrInterrupted, cause)
	default:
		err = fmt.Errorf("batch aborted at index %d: %w", st.cp.NextIndex, cause)
	}
	if saveErr := r.save(st); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}

func (r *BatchRunner) summary(st *run, completed bool) *Summary {
	return &Summary{
		Total:      st.stats.Total,
		StartIndex: st.stats.StartIndex,
		NextIndex:  st.cp.NextIndex,
		Processed:  int(st.stats.Processed.Load()),
		Matched:    len(st.cp.Results),
		Results:    st.cp.Results,
		Elapsed:    r.now().Sub(st.stats.StartTime),
		Completed:  completed,
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
