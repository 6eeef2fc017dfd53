// ABOUTME: StateService is the transport-independent façade over the state actor
// ABOUTME: HTTP and gRPC handlers call into it; it owns no state of its own

package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/forgestate/internal/checklist"
	"github.com/2389/forgestate/internal/codex"
	"github.com/2389/forgestate/internal/projectstate"
)

// StateStore defines what the service needs from the state actor
type StateStore interface {
	Get(ctx context.Context) (*projectstate.ProjectState, error)
	Replace(ctx context.Context, s *projectstate.ProjectState, check projectstate.CheckFunc) (*projectstate.ProjectState, error)
	Update(ctx context.Context, reason string, fn projectstate.MutateFunc) (*projectstate.ProjectState, error)
}

// Service exposes one operation per state capability.
type Service struct {
	states  StateStore
	mutator *checklist.Mutator
	graph   *checklist.Graph
	catalog *codex.Catalog
	newID   func() string
	logger  *slog.Logger
}

// New creates a Service. Pass nil logger for default.
func New(states StateStore, mutator *checklist.Mutator, graph *checklist.Graph, catalog *codex.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		states:  states,
		mutator: mutator,
		graph:   graph,
		catalog: catalog,
		newID:   func() string { return "custom-" + uuid.New().String() },
		logger:  logger.With("component", "service"),
	}
}

// GetState returns the current project state.
func (s *Service) GetState(ctx context.Context) (*projectstate.ProjectState, error) {
	return s.states.Get(ctx)
}

// ReplaceState overwrites the whole record. A non-zero revision in next is a
// precondition; with lock enforcement on, newly completed steps must be unlocked.
func (s *Service) ReplaceState(ctx context.Context, next *projectstate.ProjectState) (*projectstate.ProjectState, error) {
	out, err := s.states.Replace(ctx, next, func(cur, proposed *projectstate.ProjectState) error {
		return s.mutator.CheckTransition(cur.Checklist, proposed.Checklist)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project state replaced", "revision", out.Revision)
	return out, nil
}

// BatchUpdate applies checklist updates as one write.
func (s *Service) BatchUpdate(ctx context.Context, updates []checklist.Update) (*projectstate.ProjectState, error) {
	return s.mutator.ApplyBatch(ctx, updates)
}

// RunSingularity marks every checklist step complete in one write.
func (s *Service) RunSingularity(ctx context.Context) (*projectstate.ProjectState, error) {
	return s.mutator.CompleteAll(ctx)
}

// AddCustomCodexItem appends item to the custom codex. Items without an id
// get a generated one; ids are not deduplicated.
func (s *Service) AddCustomCodexItem(ctx context.Context, item projectstate.CodexItem) (*projectstate.ProjectState, error) {
	if err := codex.PrepareCustom(&item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = s.newID()
	}

	out, err := s.states.Update(ctx, "codex_custom", func(st *projectstate.ProjectState) error {
		st.CustomCodex = append(st.CustomCodex, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("custom codex item added", "id", item.ID, "revision", out.Revision)
	return out, nil
}

// Codex returns the static catalog. Unlock status is derived from the current
// checklist when the state is readable and left unset otherwise.
func (s *Service) Codex(ctx context.Context) []projectstate.CodexItem {
	st, err := s.states.Get(ctx)
	if err != nil {
		s.logger.Warn("serving codex without unlock status", "error", err)
		return s.catalog.Items(nil)
	}
	return s.catalog.Items(st.Checklist)
}

// Checklist returns the lock and progress view of the current checklist.
func (s *Service) Checklist(ctx context.Context) (*checklist.View, error) {
	st, err := s.states.Get(ctx)
	if err != nil {
		return nil, err
	}
	v := s.graph.Evaluate(st.Checklist)
	return &v, nil
}

// Steps returns the static step table grouped by category.
func (s *Service) Steps() []checklist.CategoryGroup {
	return s.graph.GroupByCategory()
}
