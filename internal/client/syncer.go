// ABOUTME: Syncer hydrates the client view through an explicit transition table
// ABOUTME: Hydrating retries with backoff, then settles in Stable or Degraded

package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/forgestate/internal/metrics"
	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/retry"
)

// Phase is the Syncer's current phase.
type Phase string

const (
	Hydrating Phase = "hydrating"
	Stable    Phase = "stable"
	Degraded  Phase = "degraded"
)

// Event drives a transition.
type Event string

const (
	FetchSucceeded   Event = "fetch_succeeded"
	FetchFailed      Event = "fetch_failed"
	RetriesExhausted Event = "retries_exhausted"
	ManualRetry      Event = "manual_retry"
)

type transitionKey struct {
	from  Phase
	event Event
}

// transitions lists every legal move; anything else is ignored.
var transitions = map[transitionKey]Phase{
	{Hydrating, FetchSucceeded}:   Stable,
	{Hydrating, FetchFailed}:      Hydrating,
	{Hydrating, RetriesExhausted}: Degraded,
	{Stable, ManualRetry}:         Hydrating,
	{Degraded, ManualRetry}:       Hydrating,
}

// ErrSyncerClosed is returned by Retry after Close.
var ErrSyncerClosed = errors.New("syncer closed")

// Snapshot is what observers see after every transition. State is the last
// known good state, or nil if none was ever fetched.
type Snapshot struct {
	Phase      Phase
	RetryCount int
	State      *projectstate.ProjectState
	Err        error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	Policy   retry.Policy // zero value selects retry.DefaultPolicy
	Sleep    SleepFunc
	Metrics  metrics.Recorder
	Logger   *slog.Logger
	Observer func(Snapshot)
}

// Syncer keeps a local copy of the server state.
type Syncer struct {
	fetcher  Fetcher
	policy   retry.Policy
	sleep    SleepFunc
	metrics  metrics.Recorder
	logger   *slog.Logger
	observer func(Snapshot)

	mu         sync.Mutex
	phase      Phase
	retryCount int
	state      *projectstate.ProjectState
	lastErr    error
	started    bool
	closed     bool

	retryCh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSyncer creates a Syncer in the Hydrating phase. Call Start to begin.
func NewSyncer(fetcher Fetcher, opts SyncerOptions) *Syncer {
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		fetcher:  fetcher,
		policy:   opts.Policy,
		sleep:    opts.Sleep,
		metrics:  metrics.OrNoop(opts.Metrics),
		logger:   opts.Logger.With("component", "syncer"),
		observer: opts.Observer,
		phase:    Hydrating,
		retryCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the sync loop until ctx is done or Close is called.
// Later calls, and calls after Close, do nothing.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Close ends the session and waits for the loop to exit.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	if !started {
		close(s.done)
		return
	}
	cancel()
	<-s.done
}

// Done is closed when the loop exits.
func (s *Syncer) Done() <-chan struct{} {
	return s.done
}

// Retry asks a Stable or Degraded Syncer to hydrate again from retry zero.
// It is a no-op while already Hydrating.
func (s *Syncer) Retry(ctx context.Context) error {
	s.mu.Lock()
	closed, phase := s.closed, s.phase
	s.mu.Unlock()

	if closed {
		return ErrSyncerClosed
	}
	if phase == Hydrating {
		return nil
	}
	select {
	case s.retryCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// a retry is already queued
		return nil
	}
}

// Snapshot returns the current phase, retry count, last good state and error.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Syncer) snapshotLocked() Snapshot {
	var st *projectstate.ProjectState
	if s.state != nil {
		st = s.state.Clone()
	}
	return Snapshot{Phase: s.phase, RetryCount: s.retryCount, State: st, Err: s.lastErr}
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)
	for {
		s.hydrate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.retryCh:
			s.fire(ManualRetry, nil, nil)
		}
	}
}

// hydrate fetches until success, exhaustion or shutdown.
func (s *Syncer) hydrate(ctx context.Context) {
	for {
		// liveness check before every attempt, including after a backoff
		if ctx.Err() != nil {
			return
		}

		st, err := s.fetcher.Fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.fire(FetchSucceeded, st, nil)
			return
		}

		s.mu.Lock()
		attempt := s.retryCount
		s.mu.Unlock()

		if s.policy.Exhausted(attempt) {
			s.fire(RetriesExhausted, nil, err)
			return
		}

		delay := s.policy.Delay(attempt + 1)
		s.fire(FetchFailed, nil, err)
		s.logger.Debug("fetch failed, backing off", "retry", attempt+1, "delay", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// fire applies one transition and notifies the observer.
func (s *Syncer) fire(ev Event, st *projectstate.ProjectState, err error) {
	s.mu.Lock()
	from := s.phase
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("ignoring event with no transition", "phase", from, "event", ev)
		return
	}

	switch ev {
	case FetchSucceeded:
		s.state = st.Clone()
		s.retryCount = 0
		s.lastErr = nil
	case FetchFailed:
		s.retryCount++
		s.lastErr = err
	case RetriesExhausted:
		s.lastErr = err
	case ManualRetry:
		s.retryCount = 0
		s.lastErr = nil
	}
	s.phase = to
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.IncSyncTransition(string(from), string(to))
	if from != to {
		s.logger.Info("sync phase changed", "from", from, "to", to, "event", ev, "retry_count", snap.RetryCount)
	}
	if s.observer != nil {
		s.observer(snap)
	}
}
