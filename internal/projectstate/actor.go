// ABOUTME: Actor owns the single project state record and serializes all access to it
// ABOUTME: One goroutine drains a mailbox; only that goroutine touches the DocumentStore

package projectstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/forgestate/internal/events"
	"github.com/2389/forgestate/internal/metrics"
	"github.com/2389/forgestate/internal/store"
)

// mailboxSize bounds how many requests can queue before senders block
const mailboxSize = 64

// MutateFunc edits a working copy of the latest committed state.
// Returning an error aborts the update without writing.
type MutateFunc func(s *ProjectState) error

// Options configures an Actor.
type Options struct {
	// StepCount is the checklist length of a newly created record.
	StepCount int
	Publisher events.Publisher
	Metrics   metrics.Recorder
	// Clock stamps lastUpdated; defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

type opKind int

const (
	opGet opKind = iota
	opPut
	opUpdate
)

// CheckFunc inspects a proposed replacement against the committed state.
type CheckFunc func(cur, next *ProjectState) error

type request struct {
	ctx    context.Context
	kind   opKind
	state  *ProjectState
	check  CheckFunc
	fn     MutateFunc
	reason string
	reply  chan result
}

type result struct {
	state *ProjectState
	err   error
}

// Actor is the single owner of the persisted ProjectState.
type Actor struct {
	docs      store.DocumentStore
	stepCount int
	publisher events.Publisher
	metrics   metrics.Recorder
	clock     func() time.Time
	logger    *slog.Logger

	mailbox   chan request
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewActor starts the mailbox goroutine. The caller keeps ownership of docs
// and closes it after closing the Actor.
func NewActor(docs store.DocumentStore, opts Options) (*Actor, error) {
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	if opts.StepCount <= 0 {
		return nil, fmt.Errorf("step count must be positive, got %d", opts.StepCount)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Actor{
		docs:      docs,
		stepCount: opts.StepCount,
		publisher: opts.Publisher,
		metrics:   metrics.OrNoop(opts.Metrics),
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "projectstate"),
		mailbox:   make(chan request, mailboxSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// StepCount returns the checklist length new records are created with
func (a *Actor) StepCount() int {
	return a.stepCount
}

// Get returns the current record, creating and persisting the default record
// when the store is empty. Older documents are migrated in memory only.
func (a *Actor) Get(ctx context.Context) (*ProjectState, error) {
	return a.call(ctx, request{kind: opGet})
}

// Put replaces the whole record with s. A non-zero s.Revision must match the
// committed revision or the write fails with ConflictError. lastUpdated,
// revision and schemaVersion are always stamped by the Actor.
func (a *Actor) Put(ctx context.Context, s *ProjectState) (*ProjectState, error) {
	return a.Replace(ctx, s, nil)
}

// Replace is Put with an extra check run inside the actor after the revision
// precondition, so the check sees the same state the write replaces.
func (a *Actor) Replace(ctx context.Context, s *ProjectState, check CheckFunc) (*ProjectState, error) {
	if s == nil {
		return nil, Invalid("state", "body is required")
	}
	return a.call(ctx, request{kind: opPut, state: s.Clone(), check: check, reason: "replace"})
}

// Update runs fn against a copy of the latest committed state and commits the
// result. Updates are applied strictly in arrival order.
func (a *Actor) Update(ctx context.Context, reason string, fn MutateFunc) (*ProjectState, error) {
	if fn == nil {
		return nil, errors.New("mutate func is required")
	}
	return a.call(ctx, request{kind: opUpdate, fn: fn, reason: reason})
}

// Close stops the mailbox. Requests already queued are answered with ErrClosed.
func (a *Actor) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	<-a.stopped
	return nil
}

func (a *Actor) call(ctx context.Context, req request) (*ProjectState, error) {
	req.ctx = ctx
	req.reply = make(chan result, 1)

	select {
	case <-a.done:
		return nil, ErrClosed
	default:
	}

	select {
	case a.mailbox <- req:
	case <-a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Once queued the request runs to completion; the caller may stop waiting.
	select {
	case res := <-req.reply:
		return res.state, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		select {
		case res := <-req.reply:
			return res.state, res.err
		default:
			return nil, ErrClosed
		}
	}
}

func (a *Actor) run() {
	defer close(a.stopped)
	for {
		select {
		case <-a.done:
			a.drain()
			return
		case req := <-a.mailbox:
			req.reply <- a.handle(req)
		}
	}
}

func (a *Actor) drain() {
	for {
		select {
		case req := <-a.mailbox:
			req.reply <- result{err: ErrClosed}
		default:
			return
		}
	}
}

func (a *Actor) handle(req request) result {
	// In-flight writes are not cancellable.
	ctx := context.WithoutCancel(req.ctx)

	switch req.kind {
	case opGet:
		s, err := a.load(ctx)
		return result{state: s, err: err}
	case opPut:
		return a.write(ctx, req.reason, func(cur *ProjectState) (*ProjectState, error) {
			next := req.state
			if next.Revision != 0 && next.Revision != cur.Revision {
				return nil, &ConflictError{Expected: next.Revision, Actual: cur.Revision}
			}
			if req.check != nil {
				if err := req.check(cur, next); err != nil {
					return nil, err
				}
			}
			return next, nil
		})
	case opUpdate:
		return a.write(ctx, req.reason, func(cur *ProjectState) (*ProjectState, error) {
			work := cur.Clone()
			if err := req.fn(work); err != nil {
				return nil, err
			}
			return work, nil
		})
	default:
		return result{err: fmt.Errorf("unknown op %d", req.kind)}
	}
}

// write loads the current record, derives the next one and commits it.
func (a *Actor) write(ctx context.Context, op string, next func(cur *ProjectState) (*ProjectState, error)) result {
	start := time.Now()

	cur, err := a.load(ctx)
	if err != nil {
		a.metrics.ObserveWrite(op, metrics.ResultFailed, time.Since(start))
		return result{err: err}
	}

	s, err := next(cur)
	if err == nil {
		err = a.checkShape(cur, s)
	}
	if err != nil {
		a.metrics.ObserveWrite(op, resultLabel(err), time.Since(start))
		return result{err: err}
	}

	committed, err := a.commit(ctx, cur, s, op)
	a.metrics.ObserveWrite(op, resultLabel(err), time.Since(start))
	return result{state: committed, err: err}
}

// checkShape enforces that the checklist length is fixed once created.
func (a *Actor) checkShape(cur, next *ProjectState) error {
	if len(next.Checklist) != len(cur.Checklist) {
		return Invalid("checklist", "length must be %d, got %d", len(cur.Checklist), len(next.Checklist))
	}
	return nil
}

// load reads and migrates the record, persisting the default one if absent.
func (a *Actor) load(ctx context.Context) (*ProjectState, error) {
	doc, err := a.docs.LoadDocument(ctx, DocumentKey)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Info("no project state found, creating default record", "steps", a.stepCount)
		return a.commit(ctx, &ProjectState{}, Default(a.stepCount, a.clock()), "create")
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	s, err := Decode(doc.Body, a.stepCount)
	if err != nil {
		return nil, &PersistenceError{Op: "decode", Err: err}
	}
	return s, nil
}

// commit stamps s as the successor of cur and saves it.
func (a *Actor) commit(ctx context.Context, cur, s *ProjectState, reason string) (*ProjectState, error) {
	next := s.Clone()
	next.SchemaVersion = CurrentSchemaVersion
	next.Revision = cur.Revision + 1
	next.LastUpdated = a.stamp(cur.LastUpdated)

	body, err := json.Marshal(next)
	if err != nil {
		return nil, &PersistenceError{Op: "encode", Err: err}
	}
	if err := a.docs.SaveDocument(ctx, &store.Document{
		Key:       DocumentKey,
		Body:      body,
		UpdatedAt: next.LastUpdated,
	}); err != nil {
		return nil, &PersistenceError{Op: "save", Err: err}
	}

	completed, total := next.Completed(), len(next.Checklist)
	a.metrics.SetChecklistProgress(completed, total)
	if err := a.publisher.Publish(ctx, events.Commit{
		Revision:    next.Revision,
		LastUpdated: next.LastUpdated,
		Completed:   completed,
		Total:       total,
		Reason:      reason,
	}); err != nil {
		a.logger.Warn("failed to publish commit", "revision", next.Revision, "error", err)
	}

	a.logger.Debug("state committed",
		"revision", next.Revision,
		"reason", reason,
		"completed", completed,
		"total", total)

	return next.Clone(), nil
}

// stamp returns the server time for a commit, strictly after prev.
func (a *Actor) stamp(prev time.Time) time.Time {
	now := a.clock().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case IsConflict(err):
		return metrics.ResultConflict
	case IsValidation(err):
		return metrics.ResultInvalid
	default:
		return metrics.ResultFailed
	}
}
