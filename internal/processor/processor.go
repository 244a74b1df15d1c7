// Package processor implements the IncrementalProcessor: the algorithm
// that turns one viewstream.ChangeEvent into the exact multiset of
// ResultChange values implied by a ContinuousQuery's current state,
// coordinating a graphstore.GraphStore and a resultcache.Cache without
// ever re-executing the query from scratch.
package processor

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/user/viewstream"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/query"
	"github.com/user/viewstream/internal/resultcache"
)

// Middleware enriches, validates, or fans out one ChangeEvent into zero or
// more ChangeEvents before pattern evaluation. Returning (nil, nil) drops
// the event without an error.
type Middleware func(ev viewstream.ChangeEvent) ([]viewstream.ChangeEvent, error)

// Processor is the shared IncrementalProcessor. A single Processor may
// drive many ContinuousQuery descriptors against one GraphStore/Cache
// pair; callers are responsible for serializing the events of any one
// query (see internal/engine's per-query ingest loop).
type Processor struct {
	store      graphstore.GraphStore
	cache      *resultcache.Cache
	log        viewstream.Logger
	middleware map[string]Middleware
}

// New constructs a Processor. middleware may be nil; named middlewares
// referenced by a SourceSubscription that aren't present here are a
// configuration error surfaced at Process time.
func New(store graphstore.GraphStore, cache *resultcache.Cache, log viewstream.Logger, middleware map[string]Middleware) *Processor {
	if log == nil {
		log = noopLogger{}
	}
	if middleware == nil {
		middleware = map[string]Middleware{}
	}
	return &Processor{store: store, cache: cache, log: log, middleware: middleware}
}

// Process runs the full per-event pipeline (spec §4.3) for one
// ChangeEvent against one query: subscription filter, middleware, graph
// apply, join re-derivation, and the INSERT/UPDATE/DELETE handler.
// Predicate, projection, and middleware errors are contained here — they
// are returned to the caller (who should count them and move on) but never
// leave the cache or graph store in a partially-updated state for the
// event that failed.
func (p *Processor) Process(q *query.ContinuousQuery, ev viewstream.ChangeEvent, now time.Time) ([]viewstream.ResultChange, error) {
	began := time.Now()
	deltas, err := p.process(q, ev, now)
	q.Stats().RecordEvent(time.Since(began), now)
	if err != nil {
		q.Stats().RecordError()
		return nil, err
	}
	for _, d := range deltas {
		switch d.Kind {
		case viewstream.Added:
			q.Stats().RecordAdded()
		case viewstream.Updated:
			q.Stats().RecordUpdated()
		case viewstream.Deleted:
			q.Stats().RecordDeleted()
		}
	}
	return deltas, nil
}

func (p *Processor) process(q *query.ContinuousQuery, ev viewstream.ChangeEvent, now time.Time) ([]viewstream.ResultChange, error) {
	if !q.AcceptsSource(ev.SourceID) {
		return nil, nil
	}
	sub, _ := q.SubscriptionFor(ev.SourceID)

	mapped := ev.Clone()
	mapped.EntityType = mapNodeLabel(sub, ev.EntityType)

	if err := validateAttributes(sub, mapped); err != nil {
		return nil, fmt.Errorf("processor: attribute schema: %w", err)
	}

	events, err := p.runMiddleware(sub, mapped)
	if err != nil {
		return nil, fmt.Errorf("processor: middleware: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	var all []viewstream.ResultChange
	for _, e := range events {
		if err := p.store.ApplyChange(e); err != nil {
			p.log.Warn("dropping malformed change event", "error", err, "sourceId", e.SourceID, "entityType", e.EntityType)
			continue
		}
		for _, def := range q.Joins {
			if err := p.store.CreateJoinRelationships(def); err != nil {
				p.log.Warn("join re-derivation failed", "join", def.ID, "error", err)
			}
		}
		if e.EntityType != q.Plan.Label {
			continue
		}
		deltas, err := p.dispatch(q, e, now)
		if err != nil {
			p.log.Warn("dropping event after processing error", "query", q.ID, "error", err)
			return nil, err
		}
		all = append(all, deltas...)
	}

	orderDeltas(all)

	if q.Mode == query.ModeFilter {
		filtered := all[:0]
		for _, d := range all {
			if d.Kind == viewstream.Added {
				filtered = append(filtered, d)
			}
		}
		all = filtered
	}
	return all, nil
}

// orderDeltas enforces the spec's within-event ordering guarantee: DELETED
// before UPDATED before ADDED, stable within each kind.
func orderDeltas(deltas []viewstream.ResultChange) {
	rank := func(k viewstream.ResultKind) int {
		switch k {
		case viewstream.Deleted:
			return 0
		case viewstream.Updated:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(deltas, func(i, j int) bool { return rank(deltas[i].Kind) < rank(deltas[j].Kind) })
}

func (p *Processor) dispatch(q *query.ContinuousQuery, ev viewstream.ChangeEvent, now time.Time) ([]viewstream.ResultChange, error) {
	switch ev.Kind {
	case viewstream.Insert, viewstream.Snapshot:
		return p.handleInsertOrSnapshot(q, ev, now)
	case viewstream.Update:
		return p.handleUpdate(q, ev, now)
	case viewstream.Delete:
		return p.handleDelete(q, ev, now)
	default:
		return nil, fmt.Errorf("unsupported change kind %q", ev.Kind)
	}
}

func (p *Processor) handleInsertOrSnapshot(q *query.ContinuousQuery, ev viewstream.ChangeEvent, now time.Time) ([]viewstream.ResultChange, error) {
	matched, err := q.Plan.Matches(ev.After)
	if err != nil {
		return nil, fmt.Errorf("predicate: %w", err)
	}
	if !matched {
		return nil, nil
	}
	data, err := q.Plan.Project(ev.After)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}

	resultID := computeResultID(q.ID, ev.EntityID)
	existing, exists := p.cache.Get(resultID)

	if exists && existing.DataEqual(data) {
		return nil, nil
	}

	version := 1
	kind := viewstream.Added
	createdAt := now
	var before *viewstream.QueryResult
	if exists {
		version = existing.Version + 1
		kind = viewstream.Updated
		createdAt = existing.CreatedAt
		b := existing
		before = &b
	}

	row := viewstream.QueryResult{
		ResultID:  resultID,
		QueryID:   q.ID,
		Data:      data,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: now,
		Metadata:  metadataFrom(ev),
	}
	p.cache.Put(row, resultcache.EntityRef{EntityType: q.Plan.Label, Value: ev.EntityID})

	return []viewstream.ResultChange{{
		QueryID:      q.ID,
		Kind:         kind,
		Before:       before,
		After:        &row,
		Timestamp:    now,
		SourceChange: sourceChangeFrom(ev),
	}}, nil
}

func (p *Processor) handleUpdate(q *query.ContinuousQuery, ev viewstream.ChangeEvent, now time.Time) ([]viewstream.ResultChange, error) {
	beforeMatched, err := q.Plan.Matches(ev.Before)
	if err != nil {
		return nil, fmt.Errorf("predicate (before): %w", err)
	}
	afterMatched, err := q.Plan.Matches(ev.After)
	if err != nil {
		return nil, fmt.Errorf("predicate (after): %w", err)
	}

	if !beforeMatched && !afterMatched {
		return nil, nil
	}
	if !beforeMatched && afterMatched {
		synthetic := ev
		synthetic.Kind = viewstream.Insert
		return p.handleInsertOrSnapshot(q, synthetic, now)
	}

	candidates := map[string]struct{}{computeResultID(q.ID, ev.EntityID): {}}
	for _, id := range p.cache.FindByEntity(q.Plan.Label, ev.EntityID) {
		candidates[id] = struct{}{}
	}
	for name, oldVal := range changedFields(ev.Before, ev.After) {
		for _, id := range p.cache.FindByField(name, oldVal) {
			candidates[id] = struct{}{}
		}
	}

	var out []viewstream.ResultChange
	for id := range candidates {
		row, ok := p.cache.Get(id)
		if !ok || row.QueryID != q.ID {
			continue
		}

		if !afterMatched {
			p.cache.Remove(id)
			before := row
			out = append(out, viewstream.ResultChange{
				QueryID:      q.ID,
				Kind:         viewstream.Deleted,
				Before:       &before,
				After:        nil,
				Timestamp:    now,
				SourceChange: sourceChangeFrom(ev),
			})
			continue
		}

		newData, err := q.Plan.Project(ev.After)
		if err != nil {
			return nil, fmt.Errorf("projection: %w", err)
		}
		if row.DataEqual(newData) {
			continue
		}
		updated := row
		updated.Data = newData
		updated.Version = row.Version + 1
		updated.UpdatedAt = now
		updated.Metadata = metadataFrom(ev)
		p.cache.Put(updated, resultcache.EntityRef{EntityType: q.Plan.Label, Value: ev.EntityID})

		before := row
		out = append(out, viewstream.ResultChange{
			QueryID:      q.ID,
			Kind:         viewstream.Updated,
			Before:       &before,
			After:        &updated,
			Timestamp:    now,
			SourceChange: sourceChangeFrom(ev),
		})
	}
	return out, nil
}

func (p *Processor) handleDelete(q *query.ContinuousQuery, ev viewstream.ChangeEvent, now time.Time) ([]viewstream.ResultChange, error) {
	candidates := map[string]struct{}{computeResultID(q.ID, ev.EntityID): {}}
	for _, id := range p.cache.FindByEntity(q.Plan.Label, ev.EntityID) {
		candidates[id] = struct{}{}
	}

	var out []viewstream.ResultChange
	for id := range candidates {
		row, ok := p.cache.Get(id)
		if !ok || row.QueryID != q.ID {
			continue
		}
		p.cache.Remove(id)
		before := row
		out = append(out, viewstream.ResultChange{
			QueryID:      q.ID,
			Kind:         viewstream.Deleted,
			Before:       &before,
			After:        nil,
			Timestamp:    now,
			SourceChange: sourceChangeFrom(ev),
		})
	}
	return out, nil
}

func (p *Processor) runMiddleware(sub query.SourceSubscription, ev viewstream.ChangeEvent) ([]viewstream.ChangeEvent, error) {
	events := []viewstream.ChangeEvent{ev}
	for _, name := range sub.MiddlewareNames {
		mw, ok := p.middleware[name]
		if !ok {
			return nil, fmt.Errorf("unknown middleware %q", name)
		}
		var next []viewstream.ChangeEvent
		for _, e := range events {
			out, err := mw(e)
			if err != nil {
				return nil, fmt.Errorf("middleware %q: %w", name, err)
			}
			next = append(next, out...)
		}
		events = next
		if len(events) == 0 {
			return nil, nil
		}
	}
	return events, nil
}

// validateAttributes runs sub's declared schema (if any) against whichever
// side of ev is present, before any middleware sees the event, per the
// field's own contract on SourceSubscription.
func validateAttributes(sub query.SourceSubscription, ev viewstream.ChangeEvent) error {
	if sub.AttributeSchema == nil {
		return nil
	}
	if ev.After != nil {
		if err := sub.AttributeSchema.Validate(context.Background(), ev.After); err != nil {
			return fmt.Errorf("after: %w", err)
		}
	}
	if ev.Before != nil {
		if err := sub.AttributeSchema.Validate(context.Background(), ev.Before); err != nil {
			return fmt.Errorf("before: %w", err)
		}
	}
	return nil
}

func mapNodeLabel(sub query.SourceSubscription, sourceLabel string) string {
	for _, m := range sub.NodeLabelMappings {
		if m.SourceLabel == sourceLabel {
			return m.QueryLabel
		}
	}
	return sourceLabel
}

func changedFields(before, after map[string]any) map[string]any {
	changed := make(map[string]any)
	for k, v := range before {
		if av, ok := after[k]; !ok || !reflect.DeepEqual(av, v) {
			changed[k] = v
		}
	}
	for k, v := range after {
		if _, seen := changed[k]; seen {
			continue
		}
		if bv, ok := before[k]; !ok || !reflect.DeepEqual(bv, v) {
			changed[k] = before[k]
		}
	}
	return changed
}

func sourceChangeFrom(ev viewstream.ChangeEvent) viewstream.SourceChange {
	return viewstream.SourceChange{
		SourceID:   ev.SourceID,
		Kind:       ev.Kind,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
	}
}

func metadataFrom(ev viewstream.ChangeEvent) viewstream.ResultMetadata {
	return viewstream.ResultMetadata{
		SourceEventID: ev.Metadata["eventId"],
		SourceKind:    ev.Kind,
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
