// Package admin is the transport-agnostic service layer in front of an
// engine.Registry: create/delete/list/query-results/subscribe, expressed
// as plain Go request/response structs so internal/admin/rpc (gRPC) and
// cmd/viewstreamd (CLI) can both drive it without duplicating validation.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/user/viewstream"
	"github.com/user/viewstream/internal/engine"
	"github.com/user/viewstream/internal/query"
	"github.com/user/viewstream/internal/resultcache"
)

// CreateQueryRequest is the simplified, transport-facing subset of
// query.Config the admin surface accepts: a single Cypher-fragment query
// text scoped to zero or more source ids, with a retention policy. Richer
// per-source label remapping, middleware chains, and join definitions are
// configured through the library's query.Config directly (e.g. by a
// process loading them from YAML at startup), not through this surface.
type CreateQueryRequest struct {
	ID           string
	Name         string
	Mode         query.Mode
	Text         string
	SourceIDs    []string
	Retention    resultcache.RetentionKind
	RetentionTTL time.Duration
}

// Service exposes the engine's query lifecycle and results as
// request/response operations, independent of any particular transport.
type Service struct {
	registry *engine.Registry
}

func New(registry *engine.Registry) *Service {
	return &Service{registry: registry}
}

// CreateQuery compiles req into a query.ContinuousQuery and registers it.
func (s *Service) CreateQuery(req CreateQueryRequest) (*query.ContinuousQuery, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("admin: CreateQuery: id must not be empty")
	}
	retention := resultcache.RetentionPolicy{Kind: req.Retention, TTL: req.RetentionTTL}
	if retention.Kind == "" {
		retention.Kind = resultcache.Latest
	}

	subs := make([]query.SourceSubscription, 0, len(req.SourceIDs))
	for _, id := range req.SourceIDs {
		subs = append(subs, query.SourceSubscription{SourceID: id})
	}

	q, err := query.New(query.Config{
		ID:            req.ID,
		Name:          req.Name,
		Mode:          req.Mode,
		Text:          req.Text,
		Subscriptions: subs,
		View:          query.ViewConfig{Retention: retention},
	})
	if err != nil {
		return nil, fmt.Errorf("admin: CreateQuery: %w", err)
	}
	if err := s.registry.CreateQuery(q); err != nil {
		return nil, fmt.Errorf("admin: CreateQuery: %w", err)
	}
	return q, nil
}

// DeleteQuery removes a previously created query and its cached rows.
func (s *Service) DeleteQuery(queryID string) error {
	if err := s.registry.DeleteQuery(queryID); err != nil {
		return fmt.Errorf("admin: DeleteQuery: %w", err)
	}
	return nil
}

// ListQueries returns every currently registered query id.
func (s *Service) ListQueries() []string {
	return s.registry.ListQueries()
}

// GetQuery returns one query's descriptor.
func (s *Service) GetQuery(queryID string) (*query.ContinuousQuery, error) {
	q, ok := s.registry.GetQuery(queryID)
	if !ok {
		return nil, fmt.Errorf("admin: GetQuery: query %q not found", queryID)
	}
	return q, nil
}

// GetResults returns a query's current answer set.
func (s *Service) GetResults(queryID string) ([]viewstream.QueryResult, error) {
	results, err := s.registry.CurrentResults(queryID)
	if err != nil {
		return nil, fmt.Errorf("admin: GetResults: %w", err)
	}
	return results, nil
}

// GetResultsAt returns a query's answer set as of instant.
func (s *Service) GetResultsAt(queryID string, instant time.Time) ([]viewstream.QueryResult, error) {
	results, err := s.registry.ResultsAt(queryID, instant)
	if err != nil {
		return nil, fmt.Errorf("admin: GetResultsAt: %w", err)
	}
	return results, nil
}

// Stats returns a query's observability counters and health verdict.
func (s *Service) Stats(queryID string) (query.Snapshot, bool, error) {
	snap, healthy, err := s.registry.Stats(queryID)
	if err != nil {
		return query.Snapshot{}, false, fmt.Errorf("admin: Stats: %w", err)
	}
	return snap, healthy, nil
}

// Subscribe opens a streaming subscription to queryId: replay of the
// current answer set followed by live deltas (see engine.Registry.Subscribe).
func (s *Service) Subscribe(ctx context.Context, queryID string) (<-chan viewstream.ResultChange, error) {
	ch, err := s.registry.Subscribe(ctx, queryID)
	if err != nil {
		return nil, fmt.Errorf("admin: Subscribe: %w", err)
	}
	return ch, nil
}

// Ingest hands one decoded ChangeEvent to the registry.
func (s *Service) Ingest(ev viewstream.ChangeEvent) {
	s.registry.Ingest(ev)
}
