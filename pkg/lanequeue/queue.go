package lanequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrClosed is returned for tasks submitted to, or still queued in, a closed queue.
var ErrClosed = errors.New("lanequeue: closed")

// Task is one unit of work run inside a lane.
type Task func(ctx context.Context) error

// Options configures a Queue.
type Options struct {
	// WarnAfter logs a warning when a task waits in its lane longer than this.
	// Zero disables the warning.
	WarnAfter time.Duration
	Logger    *zerolog.Logger
}

type taskRecord struct {
	ctx        context.Context
	task       Task
	enqueuedAt time.Time
	started    bool
	done       chan error
}

type lane struct {
	queue []*taskRecord
}

// Queue runs tasks FIFO per key with concurrency 1 per key.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	queued int
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	warnAfter time.Duration
	logger    zerolog.Logger
}

// New creates an empty queue.
func New(opts Options) *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Queue{
		lanes:     make(map[string]*lane),
		ctx:       ctx,
		cancel:    cancel,
		warnAfter: opts.WarnAfter,
		logger:    logger.With().Str("component", "lanequeue").Logger(),
	}
}

// Do runs task in key's lane and returns its error.
func (q *Queue) Do(ctx context.Context, key string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "concierge.lanequeue", "lanequeue.do",
		attribute.String("lane", key),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	record := &taskRecord{
		ctx:        ctx,
		task:       task,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	l.queue = append(l.queue, record)
	q.queued++
	position := len(l.queue)
	if !ok {
		q.wg.Add(1)
		go q.drain(key, l)
	}
	q.publishLocked()
	q.mu.Unlock()

	q.logger.Debug().Str("lane", key).Int("position", position).Msg("Task enqueued")

	var warn <-chan time.Time
	if q.warnAfter > 0 {
		timer := time.NewTimer(q.warnAfter)
		defer timer.Stop()
		warn = timer.C
	}

	for {
		select {
		case err := <-record.done:
			if err != nil {
				tracing.Fail(span, err)
			}
			return err
		case <-warn:
			warn = nil
			q.logger.Warn().
				Str("lane", key).
				Dur("waited", time.Since(record.enqueuedAt)).
				Msg("Task waiting longer than expected")
		case <-ctx.Done():
			if q.abandon(key, record) {
				return ctx.Err()
			}
			// Already running: the task sees the same ctx and finishes on its own.
			err := <-record.done
			if err != nil {
				tracing.Fail(span, err)
			}
			return err
		}
	}
}

// abandon removes a still-queued record. It reports false if the record has
// already started.
func (q *Queue) abandon(key string, record *taskRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if record.started {
		return false
	}
	l, ok := q.lanes[key]
	if !ok {
		return false
	}
	for i, r := range l.queue {
		if r == record {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			q.queued--
			q.publishLocked()
			return true
		}
	}
	return false
}

// drain executes a lane's tasks until it is empty, then removes the lane.
func (q *Queue) drain(key string, l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.queue) == 0 {
			delete(q.lanes, key)
			q.publishLocked()
			q.mu.Unlock()
			return
		}
		record := l.queue[0]
		l.queue = l.queue[1:]
		record.started = true
		q.queued--
		q.publishLocked()
		q.mu.Unlock()

		record.done <- q.run(key, record)
	}
}

func (q *Queue) run(key string, record *taskRecord) (err error) {
	runCtx, cancel := context.WithCancel(record.ctx)
	stop := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lanequeue: task panicked: %v", r)
			q.logger.Error().Str("lane", key).Interface("panic", r).Msg("Task panicked")
		}
	}()

	start := time.Now()
	err = record.task(runCtx)
	q.logger.Debug().
		Str("lane", key).
		Dur("wait", start.Sub(record.enqueuedAt)).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Task finished")
	return err
}

// Stats reports the number of live lanes and the tasks waiting across them.
func (q *Queue) Stats() (lanes, queued int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes), q.queued
}

// Close rejects queued tasks with ErrClosed, cancels running ones and waits
// for lane goroutines to exit or ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, l := range q.lanes {
		for _, record := range l.queue {
			record.started = true
			record.done <- ErrClosed
		}
		q.queued -= len(l.queue)
		l.queue = nil
	}
	q.publishLocked()
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) publishLocked() {
	observability.SetLaneStats(len(q.lanes), q.queued)
}
