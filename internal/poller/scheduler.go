package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"agencycrm/internal/utils/logger"
)

// ErrStale is returned by a poll whose response was superseded by a newer request.
var ErrStale = errors.New("poll response superseded by a newer request")

// Scheduler runs periodic refreshes on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewScheduler creates a scheduler. Every poll is bounded by timeout.
func NewScheduler(timeout time.Duration, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:  log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*Subscription),
	}
}

// Start starts the scheduler and stops it when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting poll scheduler with %d subscriptions", len(s.Names()))
	s.cron.Start()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()
}

// Stop stops scheduling, cancels in-flight polls and waits for running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("poll scheduler stopped")
}

// Subscription is one named periodic refresh.
type Subscription struct {
	name      string
	scheduler *Scheduler
	entry     cron.EntryID
	run       func(ctx context.Context, current func() bool) error

	gen       atomic.Uint64
	applyMu   sync.Mutex
	applied   atomic.Uint64
	discarded atomic.Uint64
}

// Subscribe registers fetch/apply under name, polled every interval. A
// response is applied only if no newer request was issued while it was in
// flight.
func Subscribe[T any](s *Scheduler, name string, interval time.Duration, fetch func(context.Context) (T, error), apply func(T)) (*Subscription, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("poll interval for %s must be at least 1s, got %s", name, interval)
	}
	sub := &Subscription{name: name, scheduler: s}
	sub.run = func(ctx context.Context, current func() bool) error {
		v, err := fetch(ctx)
		if err != nil {
			return err
		}
		sub.applyMu.Lock()
		defer sub.applyMu.Unlock()
		if !current() {
			return ErrStale
		}
		apply(v)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[name]; exists {
		return nil, fmt.Errorf("poll subscription %s already registered", name)
	}
	spec := "@every " + interval.String()
	entryID, err := s.cron.AddFunc(spec, func() { _ = sub.Trigger() })
	if err != nil {
		return nil, fmt.Errorf("failed to register poll %s: %w", name, err)
	}
	sub.entry = entryID
	s.subs[name] = sub

	s.logger.Info("registered poll %s %s %d", name, spec, entryID)
	return sub, nil
}

// Trigger polls now, outside the schedule.
func (p *Subscription) Trigger() error {
	gen := p.gen.Add(1)
	ctx, cancel := context.WithTimeout(p.scheduler.ctx, p.scheduler.timeout)
	defer cancel()

	err := p.run(ctx, func() bool { return p.gen.Load() == gen })
	switch {
	case err == nil:
		p.applied.Add(1)
	case errors.Is(err, ErrStale):
		p.discarded.Add(1)
		p.scheduler.logger.Debug("poll %s #%d discarded: newer request in flight", p.name, gen)
	default:
		p.scheduler.logger.Warn("poll %s #%d failed: %v", p.name, gen, err)
	}
	return err
}

// Cancel removes the subscription from the schedule.
func (p *Subscription) Cancel() {
	s := p.scheduler
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[p.name] != p {
		return
	}
	s.cron.Remove(p.entry)
	delete(s.subs, p.name)
}

// Applied and Discarded count polls whose response was applied or dropped as stale.
func (p *Subscription) Applied() uint64   { return p.applied.Load() }
func (p *Subscription) Discarded() uint64 { return p.discarded.Load() }

// Names lists the registered subscriptions.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for name := range s.subs {
		out = append(out, name)
	}
	return out
}

type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	_ = c.log.Error(fmt.Sprintf("cron: %s %v", msg, keysAndValues), err)
}
