// Package engine wires one ContinuousQuery's compiled descriptor to a
// dedicated ingest loop: a serialized consumer of viewstream.ChangeEvent
// that drives the IncrementalProcessor and publishes deltas onto a bounded,
// drop-oldest output queue (pkg/buffer.RingBuffer), with a Registry that
// owns every live query's loop, subscription fan-out, and health probe.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/viewstream"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/metrics"
	"github.com/user/viewstream/internal/processor"
	"github.com/user/viewstream/internal/query"
	"github.com/user/viewstream/internal/resultcache"
	"github.com/user/viewstream/pkg/buffer"
)

var tracer = otel.Tracer("viewstream-engine")

// Config tunes the per-query ingest loop and health probe. See
// internal/config.EngineConfig/QueueConfig for the YAML-loaded equivalent.
type Config struct {
	QueueCapacity      int
	HealthWindow       int
	UnhealthyErrorRate float64
}

// DefaultConfig mirrors internal/config.Default()'s engine/queue section.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:      1024,
		HealthWindow:       100,
		UnhealthyErrorRate: 0.10,
	}
}

// runningQuery bundles one ContinuousQuery's ingest loop state. A single
// goroutine owns Process calls for this query, satisfying the spec's "one
// logical ingest loop per query" serialization requirement.
type runningQuery struct {
	q      *query.ContinuousQuery
	input  chan viewstream.ChangeEvent
	output *buffer.RingBuffer
	health *healthRing

	cancel context.CancelFunc
	done   chan struct{}

	lastDropped uint64

	mu   sync.Mutex
	subs map[chan viewstream.ResultChange]struct{}
}

// Registry owns every live ContinuousQuery's ingest loop against one shared
// GraphStore and ResultCache, matching the spec's "GraphStore and
// ResultCache are shared across queries running in the same process"
// requirement (§5).
type Registry struct {
	store graphstore.GraphStore
	cache *resultcache.Cache
	proc  *processor.Processor
	log   viewstream.Logger
	cfg   Config

	mu      sync.Mutex
	queries map[string]*runningQuery
}

// NewRegistry constructs a Registry sharing store/cache/proc across every
// query it registers.
func NewRegistry(store graphstore.GraphStore, cache *resultcache.Cache, proc *processor.Processor, log viewstream.Logger, cfg Config) *Registry {
	if log == nil {
		log = noopLogger{}
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	return &Registry{
		store:   store,
		cache:   cache,
		proc:    proc,
		log:     log,
		cfg:     cfg,
		queries: make(map[string]*runningQuery),
	}
}

// CreateQuery registers q and starts its ingest loop. Returns an error if a
// query with the same ID is already registered.
func (r *Registry) CreateQuery(q *query.ContinuousQuery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.queries[q.ID]; exists {
		return fmt.Errorf("engine: query %q already registered", q.ID)
	}

	r.cache.SetRetention(q.ID, q.View.Retention)

	ctx, cancel := context.WithCancel(context.Background())
	rq := &runningQuery{
		q:      q,
		input:  make(chan viewstream.ChangeEvent, 1),
		output: buffer.NewRingBuffer(r.cfg.QueueCapacity),
		health: newHealthRing(r.cfg.HealthWindow, r.cfg.UnhealthyErrorRate),
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[chan viewstream.ResultChange]struct{}),
	}
	r.queries[q.ID] = rq
	metrics.ActiveQueries.Inc()

	go rq.run(ctx, r)
	go rq.fanOut(ctx)

	return nil
}

// DeleteQuery closes queryId's stream. Per spec §5 cancellation: stop
// consuming, leave the graph store untouched, clear the cache's rows for
// this query. The Registry never calls GraphStore.ClearSource; a caller
// that knows a source is no longer referenced by any other query may call
// it separately.
func (r *Registry) DeleteQuery(queryID string) error {
	r.mu.Lock()
	rq, ok := r.queries[queryID]
	if ok {
		delete(r.queries, queryID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: query %q not found", queryID)
	}

	rq.cancel()
	_ = rq.output.Close()
	<-rq.done
	r.cache.ClearQuery(queryID)
	metrics.ActiveQueries.Dec()
	return nil
}

// GetQuery returns the registered ContinuousQuery descriptor.
func (r *Registry) GetQuery(queryID string) (*query.ContinuousQuery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rq, ok := r.queries[queryID]
	if !ok {
		return nil, false
	}
	return rq.q, true
}

// ListQueries returns every currently registered query id.
func (r *Registry) ListQueries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.queries))
	for id := range r.queries {
		out = append(out, id)
	}
	return out
}

// Ingest hands ev to every registered query's ingest loop. It does not
// block on a slow query's internal channel beyond its small buffer; a
// query whose loop cannot keep up will build up on its own output queue
// (see runningQuery.output) rather than stall ingestion for other queries.
func (r *Registry) Ingest(ev viewstream.ChangeEvent) {
	r.mu.Lock()
	targets := make([]*runningQuery, 0, len(r.queries))
	for _, rq := range r.queries {
		targets = append(targets, rq)
	}
	r.mu.Unlock()

	for _, rq := range targets {
		select {
		case rq.input <- ev:
		default:
			go func(rq *runningQuery, ev viewstream.ChangeEvent) {
				rq.input <- ev
			}(rq, ev)
		}
	}
}

// CurrentResults returns queryId's current answer set.
func (r *Registry) CurrentResults(queryID string) ([]viewstream.QueryResult, error) {
	if _, ok := r.GetQuery(queryID); !ok {
		return nil, fmt.Errorf("engine: query %q not found", queryID)
	}
	ids := r.cache.FindByQuery(queryID)
	out := make([]viewstream.QueryResult, 0, len(ids))
	for _, id := range ids {
		row, ok := r.cache.Get(id)
		if ok {
			metrics.CacheHits.WithLabelValues(queryID).Inc()
			out = append(out, row)
		} else {
			metrics.CacheMisses.WithLabelValues(queryID).Inc()
		}
	}
	return out, nil
}

// ResultsAt returns queryId's answer set as of instant. Meaningful only
// when the query's retention policy is not Latest (see spec §4.2).
func (r *Registry) ResultsAt(queryID string, instant time.Time) ([]viewstream.QueryResult, error) {
	if _, ok := r.GetQuery(queryID); !ok {
		return nil, fmt.Errorf("engine: query %q not found", queryID)
	}
	return r.cache.ResultsAt(queryID, instant), nil
}

// Stats returns queryId's observability counters plus the rolling health
// probe's healthy/unhealthy verdict (spec §7).
func (r *Registry) Stats(queryID string) (query.Snapshot, bool, error) {
	r.mu.Lock()
	rq, ok := r.queries[queryID]
	r.mu.Unlock()
	if !ok {
		return query.Snapshot{}, false, fmt.Errorf("engine: query %q not found", queryID)
	}
	return rq.q.Stats().Snapshot(), rq.health.healthy(), nil
}

// Subscribe opens a streaming subscription to queryId: the returned channel
// first receives a synthetic ADDED ResultChange for every row currently in
// queryId's answer set (in an unspecified order, per spec §6), then
// receives live deltas in arrival order. The channel is closed when ctx is
// cancelled; deleting the query does not close it.
func (r *Registry) Subscribe(ctx context.Context, queryID string) (<-chan viewstream.ResultChange, error) {
	r.mu.Lock()
	rq, ok := r.queries[queryID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: query %q not found", queryID)
	}

	ch := make(chan viewstream.ResultChange, r.cfg.QueueCapacity)
	rq.mu.Lock()
	rq.subs[ch] = struct{}{}
	rq.mu.Unlock()

	current, err := r.CurrentResults(queryID)
	if err != nil {
		return nil, err
	}
	go func() {
		for i := range current {
			row := current[i]
			select {
			case ch <- viewstream.ResultChange{
				QueryID:   queryID,
				Kind:      viewstream.Added,
				Before:    nil,
				After:     &row,
				Timestamp: row.UpdatedAt,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		rq.mu.Lock()
		delete(rq.subs, ch)
		rq.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// run is the query's single logical ingest loop: it consumes input
// serially, so a single query's state is never mutated by two events
// concurrently (spec §5), and pushes every resulting delta onto the
// query's bounded output queue.
func (rq *runningQuery) run(ctx context.Context, r *Registry) {
	defer close(rq.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-rq.input:
			r.process(ctx, rq, ev)
		}
	}
}

func (r *Registry) process(ctx context.Context, rq *runningQuery, ev viewstream.ChangeEvent) {
	spanCtx, span := tracer.Start(ctx, "ProcessChangeEvent", trace.WithAttributes(
		attribute.String("query_id", rq.q.ID),
		attribute.String("source_id", ev.SourceID),
		attribute.String("entity_type", ev.EntityType),
		attribute.String("change_kind", string(ev.Kind)),
	))
	defer span.End()
	_ = spanCtx

	start := time.Now()
	deltas, err := r.proc.Process(rq.q, ev, start)
	metrics.ProcessingLatency.WithLabelValues(rq.q.ID).Observe(time.Since(start).Seconds())
	metrics.EventsProcessed.WithLabelValues(rq.q.ID).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rq.health.record(true)
		r.log.Warn("dropping change event after processing error", "query", rq.q.ID, "error", err)
		return
	}
	rq.health.record(false)

	for _, d := range deltas {
		switch d.Kind {
		case viewstream.Added:
			metrics.ResultsAdded.WithLabelValues(rq.q.ID).Inc()
		case viewstream.Updated:
			metrics.ResultsUpdated.WithLabelValues(rq.q.ID).Inc()
		case viewstream.Deleted:
			metrics.ResultsDeleted.WithLabelValues(rq.q.ID).Inc()
		}
		if err := rq.output.Produce(ctx, d); err != nil {
			r.log.Warn("output queue closed, dropping result change", "query", rq.q.ID)
			return
		}
		if dropped := rq.output.DroppedCount(); dropped > rq.lastDropped {
			metrics.BackpressureDrops.WithLabelValues(rq.q.ID).Add(float64(dropped - rq.lastDropped))
			rq.lastDropped = dropped
		}
	}
}

// fanOut drains the query's output queue and republishes every delta to
// every currently subscribed channel (spec §6's "live deltas in arrival
// order"). A slow subscriber only risks its own channel filling — other
// subscribers and the ingest loop are unaffected since Produce already
// applied the drop-oldest policy at the source.
func (rq *runningQuery) fanOut(ctx context.Context) {
	_ = rq.output.Consume(ctx, func(ctx context.Context, rc viewstream.ResultChange) error {
		rq.mu.Lock()
		subs := make([]chan viewstream.ResultChange, 0, len(rq.subs))
		for ch := range rq.subs {
			subs = append(subs, ch)
		}
		rq.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- rc:
			case <-ctx.Done():
				return nil
			default:
				// Subscriber channel full: drop for this subscriber only,
				// matching the at-most-once delivery guarantee of §7.
			}
		}
		return nil
	})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
