// ABOUTME: Mutator applies batches of checklist changes as one logical write
// ABOUTME: Validates ids up front and optionally enforces prerequisite locks

package checklist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/forgestate/internal/projectstate"
)

// Update sets one checklist entry.
type Update struct {
	ID    int  `json:"id"`
	Value bool `json:"value"`
}

// StateUpdater is the part of the state actor the Mutator needs.
type StateUpdater interface {
	Update(ctx context.Context, reason string, fn projectstate.MutateFunc) (*projectstate.ProjectState, error)
}

// Mutator applies checklist batches through the state actor.
type Mutator struct {
	states       StateUpdater
	graph        *Graph
	enforceLocks bool
	logger       *slog.Logger
}

// MutatorOptions configures a Mutator.
type MutatorOptions struct {
	// EnforceLocks rejects completing a step whose prerequisites are not
	// complete in the resulting checklist.
	EnforceLocks bool
	Logger       *slog.Logger
}

// NewMutator creates a Mutator.
func NewMutator(states StateUpdater, graph *Graph, opts MutatorOptions) *Mutator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mutator{
		states:       states,
		graph:        graph,
		enforceLocks: opts.EnforceLocks,
		logger:       opts.Logger.With("component", "checklist"),
	}
}

// EnforcesLocks reports whether lock checks are on
func (m *Mutator) EnforcesLocks() bool {
	return m.enforceLocks
}

// ApplyBatch applies updates in order (later entries for the same id win) and
// commits the whole state once. Nothing is written if any id is out of range
// or, with lock enforcement, if a newly completed step is still locked.
func (m *Mutator) ApplyBatch(ctx context.Context, updates []Update) (*projectstate.ProjectState, error) {
	if err := m.ValidateBatch(updates); err != nil {
		return nil, err
	}

	s, err := m.states.Update(ctx, "batch", func(s *projectstate.ProjectState) error {
		before := append([]bool(nil), s.Checklist...)
		for _, u := range updates {
			s.Checklist[u.ID] = u.Value
		}
		return m.CheckTransition(before, s.Checklist)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("applied checklist batch", "updates", len(updates), "revision", s.Revision)
	return s, nil
}

// CompleteAll marks every checklist entry complete in one write.
// Repeating it only moves lastUpdated.
func (m *Mutator) CompleteAll(ctx context.Context) (*projectstate.ProjectState, error) {
	s, err := m.states.Update(ctx, "complete_all", func(s *projectstate.ProjectState) error {
		for i := range s.Checklist {
			s.Checklist[i] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("completed all checklist steps", "steps", len(s.Checklist), "revision", s.Revision)
	return s, nil
}

// ValidateBatch checks a batch without touching state.
func (m *Mutator) ValidateBatch(updates []Update) error {
	if len(updates) == 0 {
		return projectstate.Invalid("updates", "at least one update is required")
	}
	n := m.graph.Table().Len()
	for i, u := range updates {
		if u.ID < 0 || u.ID >= n {
			return projectstate.Invalid(fmt.Sprintf("updates[%d].id", i), "step %d does not exist (valid ids are 0-%d)", u.ID, n-1)
		}
	}
	return nil
}

// CheckTransition verifies every step that goes from incomplete to complete
// has its prerequisites satisfied in after. Unchecking is always allowed.
// It is a no-op when lock enforcement is off.
func (m *Mutator) CheckTransition(before, after []bool) error {
	if !m.enforceLocks {
		return nil
	}
	for id := range after {
		if !after[id] || (id < len(before) && before[id]) {
			continue
		}
		if id >= m.graph.Table().Len() {
			continue
		}
		if blockers := m.graph.Blockers(after, id); len(blockers) > 0 {
			return projectstate.Invalid(fmt.Sprintf("checklist[%d]", id), "step is locked until %v are complete", blockers)
		}
	}
	return nil
}
