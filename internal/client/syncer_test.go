// ABOUTME: Tests for the Syncer state machine with scripted fetchers and instant sleeps
// ABOUTME: Covers the backoff schedule, degradation, manual retry and shutdown liveness

package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/retry"
)

// scriptedFetcher returns the queued results in order, then repeats the last.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (f *scriptedFetcher) Fetch(context.Context) (*projectstate.ProjectState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	if err := f.results[i]; err != nil {
		return nil, err
	}
	return projectstate.Default(4, time.Now()), nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) Script(results ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type observed struct {
	mu    sync.Mutex
	snaps []Snapshot
	ch    chan Snapshot
}

func newObserved() *observed {
	return &observed{ch: make(chan Snapshot, 64)}
}

func (o *observed) Observe(s Snapshot) {
	o.mu.Lock()
	o.snaps = append(o.snaps, s)
	o.mu.Unlock()
	o.ch <- s
}

// waitFor blocks until a snapshot in phase p arrives.
func (o *observed) waitFor(t *testing.T, p Phase) Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-o.ch:
			if s.Phase == p {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for phase %s", p)
		}
	}
}

var errNetwork = &NetworkError{Op: "GET /api/project-state", Err: errors.New("connection refused")}

func startSyncer(t *testing.T, f Fetcher, sleeps *sleepRecorder) (*Syncer, *observed) {
	t.Helper()
	obs := newObserved()
	s := NewSyncer(f, SyncerOptions{Sleep: sleeps.Sleep, Observer: obs.Observe})
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s, obs
}

func TestSyncer_InitialSnapshot(t *testing.T) {
	s := NewSyncer(&scriptedFetcher{results: []error{nil}}, SyncerOptions{})
	snap := s.Snapshot()
	assert.Equal(t, Hydrating, snap.Phase)
	assert.Equal(t, 0, snap.RetryCount)
	assert.Nil(t, snap.State)
}

func TestSyncer_FirstFetchSucceeds(t *testing.T) {
	f := &scriptedFetcher{results: []error{nil}}
	sleeps := &sleepRecorder{}
	s, obs := startSyncer(t, f, sleeps)

	snap := obs.waitFor(t, Stable)
	assert.Equal(t, 0, snap.RetryCount)
	require.NotNil(t, snap.State)
	assert.Len(t, snap.State.Checklist, 4)
	assert.NoError(t, snap.Err)
	assert.Empty(t, sleeps.Delays())
	assert.Equal(t, Stable, s.Snapshot().Phase)
}

func TestSyncer_RecoversAfterFailures(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork, errNetwork, nil}}
	sleeps := &sleepRecorder{}
	_, obs := startSyncer(t, f, sleeps)

	snap := obs.waitFor(t, Stable)
	assert.Equal(t, 0, snap.RetryCount, "success resets the retry count")
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeps.Delays())
}

func TestSyncer_DegradesAfterFullSchedule(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	sleeps := &sleepRecorder{}
	_, obs := startSyncer(t, f, sleeps)

	snap := obs.waitFor(t, Degraded)

	assert.Equal(t, 6, f.Calls(), "initial fetch plus five retries")
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}, sleeps.Delays())
	assert.Equal(t, 5, snap.RetryCount)
	assert.Nil(t, snap.State)
	var netErr *NetworkError
	assert.ErrorAs(t, snap.Err, &netErr)

	// no further automatic request
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 6, f.Calls())
}

func TestSyncer_RetryCountsObserved(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	_, obs := startSyncer(t, f, &sleepRecorder{})
	obs.waitFor(t, Degraded)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	var counts []int
	for _, s := range obs.snaps {
		counts = append(counts, s.RetryCount)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 5}, counts)
}

func TestSyncer_ManualRetryFromDegraded(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	sleeps := &sleepRecorder{}
	s, obs := startSyncer(t, f, sleeps)
	obs.waitFor(t, Degraded)

	f.Script(nil)
	require.NoError(t, s.Retry(context.Background()))

	snap := obs.waitFor(t, Hydrating)
	assert.Equal(t, 0, snap.RetryCount)
	assert.NoError(t, snap.Err)

	snap = obs.waitFor(t, Stable)
	assert.NotNil(t, snap.State)
	assert.Equal(t, 7, f.Calls())
}

func TestSyncer_ManualRetryFromDegradedRunsSameSchedule(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	sleeps := &sleepRecorder{}
	s, obs := startSyncer(t, f, sleeps)
	obs.waitFor(t, Degraded)

	require.NoError(t, s.Retry(context.Background()))
	obs.waitFor(t, Hydrating)
	obs.waitFor(t, Degraded)

	assert.Equal(t, 12, f.Calls())
	delays := sleeps.Delays()
	require.Len(t, delays, 10)
	assert.Equal(t, delays[:5], delays[5:])
}

func TestSyncer_DegradedKeepsLastGoodState(t *testing.T) {
	f := &scriptedFetcher{results: []error{nil}}
	s, obs := startSyncer(t, f, &sleepRecorder{})
	good := obs.waitFor(t, Stable)

	f.Script(errNetwork)
	require.NoError(t, s.Retry(context.Background()))
	snap := obs.waitFor(t, Degraded)

	require.NotNil(t, snap.State)
	assert.Equal(t, good.State.Checklist, snap.State.Checklist)
}

func TestSyncer_RetryWhileHydratingIsNoop(t *testing.T) {
	s := NewSyncer(&scriptedFetcher{results: []error{nil}}, SyncerOptions{})
	require.NoError(t, s.Retry(context.Background()))
	assert.Empty(t, s.retryCh)
}

func TestSyncer_RetryAfterClose(t *testing.T) {
	f := &scriptedFetcher{results: []error{nil}}
	s, obs := startSyncer(t, f, &sleepRecorder{})
	obs.waitFor(t, Stable)

	s.Close()
	assert.ErrorIs(t, s.Retry(context.Background()), ErrSyncerClosed)
	s.Close()
}

func TestSyncer_CloseBeforeStartNeverFetches(t *testing.T) {
	f := &scriptedFetcher{results: []error{nil}}
	s := NewSyncer(f, SyncerOptions{})

	s.Close()
	s.Start(context.Background())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done was not closed")
	}
	assert.Equal(t, 0, f.Calls())
	assert.Equal(t, Hydrating, s.Snapshot().Phase)
	assert.ErrorIs(t, s.Retry(context.Background()), ErrSyncerClosed)
	s.Close()
}

func TestSyncer_SecondStartIsIgnored(t *testing.T) {
	f := &scriptedFetcher{results: []error{nil}}
	s, obs := startSyncer(t, f, &sleepRecorder{})
	obs.waitFor(t, Stable)

	s.Start(context.Background())
	s.Close()
	assert.Equal(t, 1, f.Calls())
}

func TestSyncer_CloseDuringBackoffStopsFetching(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	sleeping := make(chan struct{})
	var once sync.Once

	s := NewSyncer(f, SyncerOptions{
		Sleep: func(ctx context.Context, d time.Duration) error {
			once.Do(func() { close(sleeping) })
			<-ctx.Done()
			return ctx.Err()
		},
	})
	s.Start(context.Background())

	<-sleeping
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, Hydrating, s.Snapshot().Phase)
}

func TestSyncer_TimerFiresAfterCancelDoesNotFetch(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	ctx, cancel := context.WithCancel(context.Background())

	// the sleep returns success even though the session ended meanwhile
	s := NewSyncer(f, SyncerOptions{
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return nil
		},
	})
	s.Start(ctx)
	<-s.Done()

	assert.Equal(t, 1, f.Calls())
}

func TestSyncer_CustomPolicy(t *testing.T) {
	f := &scriptedFetcher{results: []error{errNetwork}}
	sleeps := &sleepRecorder{}
	obs := newObserved()
	s := NewSyncer(f, SyncerOptions{
		Policy:   retry.NewPolicy(retry.Fixed, 100*time.Millisecond, time.Second, 2),
		Sleep:    sleeps.Sleep,
		Observer: obs.Observe,
	})
	s.Start(context.Background())
	t.Cleanup(s.Close)

	obs.waitFor(t, Degraded)
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, sleeps.Delays())
}

func TestTransitionTable(t *testing.T) {
	assert.Equal(t, Stable, transitions[transitionKey{Hydrating, FetchSucceeded}])
	assert.Equal(t, Hydrating, transitions[transitionKey{Degraded, ManualRetry}])

	_, ok := transitions[transitionKey{Stable, FetchFailed}]
	assert.False(t, ok)
	_, ok = transitions[transitionKey{Degraded, FetchSucceeded}]
	assert.False(t, ok)
}
