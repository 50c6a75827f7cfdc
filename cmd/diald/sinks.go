package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// ============================================================================
// Sinks - fire-and-forget outputs of the reducer
// ============================================================================
// Each external sink (haptic device, every publisher) gets its own worker
// goroutine with a bounded queue. runEffect only enqueues, so a slow or dead
// sink can never delay the next reduction; when a queue is full the job is
// dropped and a warning logged.
// ============================================================================

// Haptic triggers one confirmation pulse.
type Haptic interface {
	Buzz() error
}

// Publisher receives state notifications.
type Publisher interface {
	Name() string
	PublishVolume(volume int) error
	PublishClicks(count uint64) error
	PublishMode(mode string) error
}

// errSinkQueueFull is returned when a sink worker cannot accept more work.
type errSinkQueueFull struct {
	sink string
}

func (e errSinkQueueFull) Error() string { return "sink queue full: " + e.sink }

type sinkJob struct {
	op  string
	run func() error
}

// asyncSink serializes jobs for one sink on a single worker goroutine.
type asyncSink struct {
	name   string
	jobs   chan sinkJob
	logger *slog.Logger
}

func newAsyncSink(name string, queue int, logger *slog.Logger) *asyncSink {
	if queue <= 0 {
		queue = defaultSinkQueue
	}
	return &asyncSink{
		name:   name,
		jobs:   make(chan sinkJob, queue),
		logger: logger,
	}
}

// Submit enqueues a job without blocking.
func (s *asyncSink) Submit(op string, fn func() error) error {
	select {
	case s.jobs <- sinkJob{op: op, run: fn}:
		return nil
	default:
		return errSinkQueueFull{sink: s.name}
	}
}

// Run executes jobs until ctx is canceled. Failures are logged, never retried.
func (s *asyncSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			if err := job.run(); err != nil {
				s.logger.Warn("sink delivery failed", "sink", s.name, "op", job.op, "error", err)
			}
		}
	}
}

type publisherWorker struct {
	pub Publisher
	q   *asyncSink
}

// Sinks fans reducer commands out to the haptic device and every publisher.
type Sinks struct {
	haptic     *asyncSink
	hapticDev  Haptic
	publishers []publisherWorker
}

// NewSinks wires one worker per sink. A nil haptic disables pulses.
func NewSinks(h Haptic, pubs []Publisher, queue int, logger *slog.Logger) *Sinks {
	if h == nil {
		h = nopHaptic{}
	}
	s := &Sinks{
		haptic:    newAsyncSink("haptic", queue, logger),
		hapticDev: h,
	}
	for _, p := range pubs {
		if p == nil {
			continue
		}
		s.publishers = append(s.publishers, publisherWorker{
			pub: p,
			q:   newAsyncSink(p.Name(), queue, logger),
		})
	}
	return s
}

// Run drives the sink workers until ctx is canceled and returns once all of
// them have stopped. The haptic device is closed only after its worker has
// exited, so Close never overlaps a Buzz.
func (s *Sinks) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.haptic.Run(ctx)
		if c, ok := s.hapticDev.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.haptic.logger.Warn("haptic close failed", "error", err)
			}
		}
	}()

	for _, w := range s.publishers {
		wg.Add(1)
		go func(q *asyncSink) {
			defer wg.Done()
			q.Run(ctx)
		}(w.q)
	}
	wg.Wait()
}

func (s *Sinks) buzz(reason BuzzReason) error {
	return s.haptic.Submit(string(reason), s.hapticDev.Buzz)
}

// publish submits fn to every publisher and returns the first enqueue error.
func (s *Sinks) publish(op string, fn func(Publisher) error) error {
	var firstErr error
	for _, w := range s.publishers {
		p := w.pub
		if err := w.q.Submit(op, func() error { return fn(p) }); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// logPublisher writes state notifications to the log.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Name() string { return "log" }

func (p logPublisher) PublishVolume(volume int) error {
	p.logger.Info("volume", "volume", volume)
	return nil
}

func (p logPublisher) PublishClicks(count uint64) error {
	p.logger.Info("click", "count", count)
	return nil
}

func (p logPublisher) PublishMode(mode string) error {
	p.logger.Debug("mode", "mode", mode)
	return nil
}

// nopHaptic is used when no haptic device is configured.
type nopHaptic struct{}

func (nopHaptic) Buzz() error { return nil }
