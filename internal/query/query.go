// Package query defines the continuous query engine's immutable
// data-contract objects: ContinuousQuery, SourceSubscription, ViewConfig,
// and QueryStats. A ContinuousQuery is built once from a Config and never
// mutated afterwards — the compiled evaluator plan lives alongside it.
package query

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/user/viewstream/internal/evaluator"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/resultcache"
	"github.com/user/viewstream/pkg/schema"
)

// Mode selects whether a query emits the full ADDED/UPDATED/DELETED
// lifecycle or only ADDED events.
type Mode string

const (
	ModeQuery  Mode = "QUERY"
	ModeFilter Mode = "FILTER"
)

// NodeLabelMapping translates a source's own label for an entity type into
// the label the query's pattern matches against.
type NodeLabelMapping struct {
	SourceLabel   string
	QueryLabel    string
	SuppressIndex bool
}

// RelationLabelMapping is NodeLabelMapping's relationship-type analogue.
type RelationLabelMapping struct {
	SourceLabel string
	QueryLabel  string
}

// SourceSubscription scopes a ContinuousQuery to one upstream source and
// carries the per-source label remapping and middleware chain the
// processor applies before evaluation (spec §4.3 steps 1-2).
type SourceSubscription struct {
	SourceID               string
	NodeLabelMappings       []NodeLabelMapping
	RelationLabelMappings   []RelationLabelMapping
	MiddlewareNames         []string
	// AttributeSchema optionally validates ev.After/ev.Before against a
	// declared shape before middleware runs. Nil means no validation.
	AttributeSchema schema.Validator
}

// ViewConfig holds a query's retention policy; Retention.Kind selects the
// resultcache.RetentionKind and Retention.TTL is only meaningful for Expire.
type ViewConfig struct {
	Retention resultcache.RetentionPolicy
}

// Config is the immutable set of fields ContinuousQuery is constructed
// from. Compile turns Text into an evaluator.Plan once, at construction.
type Config struct {
	ID            string
	Name          string
	Mode          Mode
	Language      string
	Text          string
	Subscriptions []SourceSubscription
	Joins         []graphstore.JoinDefinition
	Middleware    []string
	Parameters    map[string]string
	View          ViewConfig
}

// ContinuousQuery is the compiled, immutable descriptor the processor
// drives. Use New to construct one — it compiles Text once so subsequent
// per-event evaluation never re-parses.
type ContinuousQuery struct {
	ID            string
	Name          string
	Mode          Mode
	Language      string
	Text          string
	Subscriptions []SourceSubscription
	Joins         []graphstore.JoinDefinition
	Middleware    []string
	Parameters    map[string]string
	View          ViewConfig

	Plan *evaluator.Plan

	stats *Stats
}

// New compiles cfg.Text and returns the resulting immutable
// ContinuousQuery. Subscriptions/Joins/Middleware/Parameters are copied so
// the caller's slices/maps cannot mutate the descriptor afterwards.
func New(cfg Config) (*ContinuousQuery, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("query: Config.ID must not be empty")
	}
	plan, err := evaluator.Compile(cfg.Text)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", cfg.ID, err)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeQuery
	}

	return &ContinuousQuery{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Mode:          mode,
		Language:      cfg.Language,
		Text:          cfg.Text,
		Subscriptions: append([]SourceSubscription(nil), cfg.Subscriptions...),
		Joins:         append([]graphstore.JoinDefinition(nil), cfg.Joins...),
		Middleware:    append([]string(nil), cfg.Middleware...),
		Parameters:    copyStringMap(cfg.Parameters),
		View:          cfg.View,
		Plan:          plan,
		stats:         newStats(),
	}, nil
}

// AcceptsSource reports whether sourceID is one of the query's
// SourceSubscriptions, or whether the query has no subscriptions at all
// (meaning it accepts every source, per spec §4.3 step 1's "if non-empty").
func (q *ContinuousQuery) AcceptsSource(sourceID string) bool {
	if len(q.Subscriptions) == 0 {
		return true
	}
	for _, sub := range q.Subscriptions {
		if sub.SourceID == sourceID {
			return true
		}
	}
	return false
}

// SubscriptionFor returns the SourceSubscription matching sourceID, if any.
func (q *ContinuousQuery) SubscriptionFor(sourceID string) (SourceSubscription, bool) {
	for _, sub := range q.Subscriptions {
		if sub.SourceID == sourceID {
			return sub, true
		}
	}
	return SourceSubscription{}, false
}

// Stats returns the query's live, concurrency-safe counters.
func (q *ContinuousQuery) Stats() *Stats { return q.stats }

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Stats holds QueryStats' observability-only counters, updated with
// relaxed atomics per spec §5: exact values are not guaranteed under
// concurrent queries, but monotonic progress is.
type Stats struct {
	eventsProcessed uint64
	resultsAdded    uint64
	resultsUpdated  uint64
	resultsDeleted  uint64
	errorCount      uint64

	lastProcessedUnixNano int64
	totalProcessingNanos  int64
}

func newStats() *Stats { return &Stats{} }

func (s *Stats) RecordEvent(d time.Duration, at time.Time) {
	atomic.AddUint64(&s.eventsProcessed, 1)
	atomic.AddInt64(&s.totalProcessingNanos, int64(d))
	atomic.StoreInt64(&s.lastProcessedUnixNano, at.UnixNano())
}

func (s *Stats) RecordAdded()   { atomic.AddUint64(&s.resultsAdded, 1) }
func (s *Stats) RecordUpdated() { atomic.AddUint64(&s.resultsUpdated, 1) }
func (s *Stats) RecordDeleted() { atomic.AddUint64(&s.resultsDeleted, 1) }
func (s *Stats) RecordError()   { atomic.AddUint64(&s.errorCount, 1) }

// Snapshot is a point-in-time, copyable view of Stats.
type Snapshot struct {
	EventsProcessed   uint64
	ResultsAdded      uint64
	ResultsUpdated    uint64
	ResultsDeleted    uint64
	ErrorCount        uint64
	LastProcessedAt   time.Time
	AverageProcessing time.Duration
}

// Snapshot copies the counters into a plain struct.
func (s *Stats) Snapshot() Snapshot {
	processed := atomic.LoadUint64(&s.eventsProcessed)
	total := atomic.LoadInt64(&s.totalProcessingNanos)
	var avg time.Duration
	if processed > 0 {
		avg = time.Duration(total / int64(processed))
	}
	var lastAt time.Time
	if nanos := atomic.LoadInt64(&s.lastProcessedUnixNano); nanos != 0 {
		lastAt = time.Unix(0, nanos).UTC()
	}
	return Snapshot{
		EventsProcessed:   processed,
		ResultsAdded:      atomic.LoadUint64(&s.resultsAdded),
		ResultsUpdated:    atomic.LoadUint64(&s.resultsUpdated),
		ResultsDeleted:    atomic.LoadUint64(&s.resultsDeleted),
		ErrorCount:        atomic.LoadUint64(&s.errorCount),
		LastProcessedAt:   lastAt,
		AverageProcessing: avg,
	}
}

// ErrorRate reports the fraction of all processed events, over the query's
// whole lifetime, that were errors. The windowed rate the health probe
// uses is tracked separately by internal/engine's health ring.
func (s Snapshot) ErrorRate() float64 {
	if s.EventsProcessed == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.EventsProcessed)
}
