// Package sched implements the periodic-tick cooperative scheduler:
// register-frame capture, signal-delivery checks, next-task selection,
// and the simulated page-directory switch and IRET.
//
// The hardware timer tick is modeled as a time.Ticker-driven goroutine
// supervised with golang.org/x/sync/errgroup: one goroutine pumping
// tick events until told to stop.
package sched

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schrodinghauer/saenaios/internal/process"
)

// Scheduler holds just enough state to pick the next task; it does not
// own task memory (the TaskTable does).
type Scheduler struct {
	tt      *process.TaskTable
	lastPid int
}

// New creates a scheduler over tt.
func New(tt *process.TaskTable) *Scheduler {
	return &Scheduler{tt: tt}
}

// Pick selects the next task to run: round-robin over Running tasks,
// ties broken by pid ascending, resuming after whichever pid ran last.
// At most one task is ever returned as the chosen task, preserving the
// "at most one task running at a time" invariant in the caller's hands
// (the caller must mark exactly one task's Status observed here).
func (s *Scheduler) Pick() *process.Task {
	runnable := s.tt.Runnable()
	if len(runnable) == 0 {
		return nil
	}
	sort.Slice(runnable, func(i, j int) bool { return runnable[i].Pid < runnable[j].Pid })

	idx := 0
	for i, t := range runnable {
		if t.Pid > s.lastPid {
			idx = i
			break
		}
		if i == len(runnable)-1 {
			idx = 0
		}
	}
	chosen := runnable[idx]
	s.lastPid = chosen.Pid
	return chosen
}

// Tick performs one full scheduling pass: capture is the caller's
// responsibility (the interrupt entry stub already updated the current
// task's Frame before calling Tick), so Tick only runs signal delivery
// for cur (if non-nil) and then picks the next task to resume.
func (s *Scheduler) Tick(cur *process.Task, deliver *Deliverer) *process.Task {
	if cur != nil {
		deliver.CheckAndDeliver(cur)
	}
	return s.Pick()
}

// RunLoop drives Tick on a fixed interval until ctx is cancelled,
// invoking onTick with the scheduler's chosen task every period. It is
// the simulated timer IRQ: a background goroutine standing in for the
// PIT firing INT 0x20 (the PIT driver itself is not modeled).
func RunLoop(ctx context.Context, interval time.Duration, s *Scheduler, deliver *Deliverer, current func() *process.Task, onTick func(*process.Task)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				next := s.Tick(current(), deliver)
				onTick(next)
			}
		}
	})
	return g.Wait()
}
