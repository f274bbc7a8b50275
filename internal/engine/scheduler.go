// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// scheduler.go wires the go-co-op/gocron/v2 scheduler adapted from the
// teacher's worker-pool sizing idiom (pkg/metricstore/config.go's
// NumWorkers bounding checkpoint/archive concurrency): one shared
// scheduler whose concurrency is capped to the number of polled
// attributes (spec §5 "thread pool size = number of polled attributes"),
// with both periodic poll ticks and one-shot event-callback dispatch
// submitted onto it so "event callbacks are dispatched onto the same
// pool" holds literally.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// poolScheduler wraps a gocron.Scheduler sized to poolSize concurrent
// jobs, dropping (never queueing) an overlapping tick.
type poolScheduler struct {
	sched    gocron.Scheduler
	poolSize int
}

func newPoolScheduler(poolSize int) (*poolScheduler, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	s, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(uint(poolSize), gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("[ENGINE]> constructing scheduler pool (size %d): %w", poolSize, err)
	}
	return &poolScheduler{sched: s, poolSize: poolSize}, nil
}

func (p *poolScheduler) start() { p.sched.Start() }

func (p *poolScheduler) shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.sched.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerPolled schedules fn every period, guaranteeing (via a per-job
// busy flag, not the scheduler's own queueing) that an overlapping tick is
// dropped rather than queued; onOverrun is invoked for every dropped tick.
func (p *poolScheduler) registerPolled(period time.Duration, fn func(), onOverrun func()) error {
	var busy atomic.Bool

	task := func() {
		if !busy.CompareAndSwap(false, true) {
			onOverrun()
			return
		}
		defer busy.Store(false)
		fn()
	}

	_, err := p.sched.NewJob(
		gocron.DurationJob(period),
		gocron.NewTask(task),
	)
	if err != nil {
		return fmt.Errorf("[ENGINE]> registering poll job (period %s): %w", period, err)
	}
	return nil
}

// dispatchEvent submits fn as a one-shot job on the same pool, so event
// callbacks never run on the transport's own goroutine (spec §4.4).
func (p *poolScheduler) dispatchEvent(fn func()) error {
	_, err := p.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(fn),
	)
	if err != nil {
		return fmt.Errorf("[ENGINE]> dispatching event callback: %w", err)
	}
	return nil
}
