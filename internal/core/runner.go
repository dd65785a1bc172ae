package core

import (
	"context"
	"errors"
	"sync/atomic"

	"PredictLedger/internal/event"
)

// ErrRunnerStopped is returned to callers still waiting when Run exits.
var ErrRunnerStopped = errors.New("processor stopped")

// Outcome is the processor's answer to one submitted command.
type Outcome struct {
	Output    *CoreOutput
	Duplicate bool
	Err       error
}

type submission struct {
	cmd   event.Command
	reply chan Outcome // nil for fire-and-forget
}

type readRequest struct {
	fn   func(*Processor)
	done chan struct{}
}

// Runner owns the processor goroutine. Every ingress (NATS, HTTP, the
// sweeper) funnels commands through it, and snapshots and reads run between
// commands, so the processor is never touched concurrently.
type Runner struct {
	p        *Processor
	inbox    chan submission
	reads    chan readRequest
	sequence atomic.Int64
	stopped  chan struct{}
}

func NewRunner(p *Processor, queueSize int) *Runner {
	r := &Runner{
		p:       p,
		inbox:   make(chan submission, queueSize),
		reads:   make(chan readRequest),
		stopped: make(chan struct{}),
	}
	r.sequence.Store(p.Sequence())
	return r
}

// Run applies queued commands until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-r.inbox:
			out, err := r.p.Process(ctx, s.cmd)
			r.sequence.Store(r.p.Sequence())
			if s.reply != nil {
				s.reply <- Outcome{Output: out, Duplicate: out == nil && err == nil, Err: err}
			}

		case req := <-r.reads:
			req.fn(r.p)
			close(req.done)
		}
	}
}

// Submit queues cmd and waits for its outcome.
func (r *Runner) Submit(ctx context.Context, cmd event.Command) (Outcome, error) {
	reply := make(chan Outcome, 1)
	if err := r.enqueue(ctx, submission{cmd: cmd, reply: reply}); err != nil {
		return Outcome{}, err
	}
	select {
	case o := <-reply:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-r.stopped:
		return Outcome{}, ErrRunnerStopped
	}
}

// Enqueue queues cmd without waiting. It blocks while the queue is full,
// which pushes backpressure to the caller.
func (r *Runner) Enqueue(ctx context.Context, cmd event.Command) error {
	return r.enqueue(ctx, submission{cmd: cmd})
}

func (r *Runner) enqueue(ctx context.Context, s submission) error {
	select {
	case r.inbox <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return ErrRunnerStopped
	}
}

// Read runs fn on the processor goroutine between commands. fn must not
// retain pointers into the processor's state.
func (r *Runner) Read(ctx context.Context, fn func(*Processor)) error {
	req := readRequest{fn: fn, done: make(chan struct{})}
	select {
	case r.reads <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return ErrRunnerStopped
	}
	<-req.done
	return nil
}

// Snapshot captures processor state between commands.
func (r *Runner) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := r.Read(ctx, func(p *Processor) { snap = p.CreateSnapshotState() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// Sequence is the next sequence to assign. Safe from any goroutine.
func (r *Runner) Sequence() int64 {
	return r.sequence.Load()
}

// QueueDepth reports commands waiting to be applied.
func (r *Runner) QueueDepth() int {
	return len(r.inbox)
}

// QueueCapacity reports the inbox size.
func (r *Runner) QueueCapacity() int {
	return cap(r.inbox)
}
