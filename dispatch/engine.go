// Package dispatch fires recorded requests at their original wall-clock
// moment, shifted by a fixed offset.
//
// Basic workflow:
//
//  1. Schedule() turns every record into a Task with deadline = accessed_at + shift
//  2. Run() starts one goroutine per task, no matter how many there are
//  3. Each goroutine waits on a timer until its deadline, or fails at once
//     with DeadlineElapsed if the deadline is already in the past
//  4. The request goes out through the Sender and the result is written
//     into the task's own slot of the outcome slice
//  5. Run() returns once every slot is filled
//
// A failing task never affects its siblings.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/buger/gorshift/accesslog"
)

// Sender performs one HTTP request. It is shared by all tasks and must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, rec accesslog.Record) (*Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, rec accesslog.Record) (*Response, error)

func (f SenderFunc) Send(ctx context.Context, rec accesslog.Record) (*Response, error) {
	return f(ctx, rec)
}

// Task is a record paired with its shifted fire time.
type Task struct {
	Index    int
	Deadline time.Time
	Record   accesslog.Record
}

// Schedule computes deadlines, keeping input order.
func Schedule(records []accesslog.Record, shift time.Duration) []Task {
	tasks := make([]Task, len(records))

	for i, rec := range records {
		tasks[i] = Task{
			Index:    i,
			Deadline: rec.AccessedAt.Add(shift),
			Record:   rec,
		}
	}

	return tasks
}

// Timer returns a channel that fires after d and a function stopping it.
type Timer func(d time.Duration) (<-chan time.Time, func() bool)

func realTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Engine runs replays. One Engine may serve several Run calls.
type Engine struct {
	sender    Sender
	now       func() time.Time
	timer     Timer
	analyzers []ResponseAnalyzer
	debug     func(v ...interface{})
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTimer replaces time.NewTimer.
func WithTimer(t Timer) Option {
	return func(e *Engine) {
		e.timer = t
	}
}

// WithAnalyzers streams every finished outcome to the given analyzers.
func WithAnalyzers(analyzers ...ResponseAnalyzer) Option {
	return func(e *Engine) {
		e.analyzers = append(e.analyzers, analyzers...)
	}
}

// WithDebug sets the verbose logging function.
func WithDebug(debug func(v ...interface{})) Option {
	return func(e *Engine) {
		e.debug = debug
	}
}

func New(sender Sender, opts ...Option) *Engine {
	e := &Engine{
		sender: sender,
		now:    time.Now,
		timer:  realTimer,
		debug:  func(v ...interface{}) {},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run replays records with every deadline moved by shift and returns one
// outcome per record, in input order. Cancelling ctx turns every task
// that is still waiting or in flight into a Cancelled outcome; Run still
// waits for all of them.
func (e *Engine) Run(ctx context.Context, records []accesslog.Record, shift time.Duration) []Outcome {
	tasks := Schedule(records, shift)
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))

	for _, task := range tasks {
		go func(task Task) {
			defer wg.Done()

			o := e.execute(ctx, task)
			outcomes[task.Index] = o

			for _, a := range e.analyzers {
				a.ResponseAnalyze(o)
			}
		}(task)
	}

	wg.Wait()

	return outcomes
}

func (e *Engine) execute(ctx context.Context, task Task) Outcome {
	o := Outcome{
		Index:    task.Index,
		Record:   task.Record,
		Deadline: task.Deadline,
	}

	wait := task.Deadline.Sub(e.now())

	if wait < 0 {
		o.Kind = DeadlineElapsed
		o.Err = &DeadlineElapsedError{Deadline: task.Deadline, Late: -wait}
		o.Finished = e.now()
		e.debug("Task", task.Index, "deadline elapsed", -wait, "ago")
		return o
	}

	e.debug("Task", task.Index, "scheduled in", wait)

	// Loop in case the wall clock moved while sleeping
	for wait > 0 {
		fire, stop := e.timer(wait)

		select {
		case <-ctx.Done():
			stop()
			return cancelled(o, ctx.Err(), e.now())
		case <-fire:
		}

		wait = task.Deadline.Sub(e.now())
	}

	if err := ctx.Err(); err != nil {
		return cancelled(o, err, e.now())
	}

	o.Started = e.now()
	resp, err := e.sender.Send(ctx, task.Record)
	o.Finished = e.now()

	switch {
	case err == nil:
		o.Kind = Succeeded
		o.Response = resp
	case ctx.Err() != nil:
		return cancelled(o, ctx.Err(), o.Finished)
	default:
		o.Kind = TransportFailed
		if _, ok := err.(*TransportError); ok {
			o.Err = err
		} else {
			o.Err = &TransportError{Method: task.Record.Method, URL: task.Record.URL.String(), Err: err}
		}
	}

	e.debug("Task", task.Index, o.Kind, "in", o.Latency())

	return o
}

func cancelled(o Outcome, err error, at time.Time) Outcome {
	o.Kind = Cancelled
	o.Err = &CancelledError{Err: err}
	o.Finished = at
	return o
}
