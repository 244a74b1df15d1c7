package processor

import (
	"testing"
	"time"

	"github.com/user/viewstream"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/query"
	"github.com/user/viewstream/internal/resultcache"
	"github.com/user/viewstream/pkg/schema"
)

func newFixture(t *testing.T, text string) (*Processor, *query.ContinuousQuery) {
	t.Helper()
	store := graphstore.New(nil)
	cache := resultcache.New()
	p := New(store, cache, nil, nil)

	q, err := query.New(query.Config{
		ID:   "q1",
		Text: text,
	})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return p, q
}

func ev(kind viewstream.ChangeKind, id any, before, after map[string]any) viewstream.ChangeEvent {
	return viewstream.ChangeEvent{
		Kind:       kind,
		SourceID:   "S",
		EntityType: "Order",
		EntityID:   id,
		Before:     before,
		After:      after,
		Timestamp:  time.Unix(0, 0).UTC(),
	}
}

const orderQuery = `MATCH (o:Order) WHERE o.status = 'READY_FOR_PICKUP' RETURN o.id, o.customer`

func TestS1InsertMatch(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	now := time.Unix(1000, 0).UTC()

	deltas, err := p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP", "driverAssigned": false,
	}), now)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d: %+v", len(deltas), deltas)
	}
	d := deltas[0]
	if d.Kind != viewstream.Added {
		t.Errorf("expected ADDED, got %v", d.Kind)
	}
	if d.After == nil || d.After.Data["id"] != 5 || d.After.Data["customer"] != "Alice" {
		t.Errorf("unexpected projected data: %+v", d.After)
	}
	if _, ok := d.After.Data["driverAssigned"]; ok {
		t.Errorf("expected projection to exclude unselected field, got %+v", d.After.Data)
	}
}

func TestS2UpdateTransitionIntoMatch(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	now := time.Unix(1000, 0).UTC()

	deltas, err := p.Process(q, ev(viewstream.Update, 1,
		map[string]any{"id": 1, "status": "PREPARING", "driverAssigned": false},
		map[string]any{"id": 1, "status": "READY_FOR_PICKUP", "driverAssigned": false},
	), now)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Kind != viewstream.Added {
		t.Fatalf("expected single ADDED delta, got %+v", deltas)
	}
}

func TestS3UpdateStayingInWithProjectionChange(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	t0 := time.Unix(1000, 0).UTC()
	t1 := time.Unix(2000, 0).UTC()

	if _, err := p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP",
	}), t0); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	deltas, err := p.Process(q, ev(viewstream.Update, 5,
		map[string]any{"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP"},
		map[string]any{"id": 5, "customer": "Alicia", "status": "READY_FOR_PICKUP"},
	), t1)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %+v", deltas)
	}
	d := deltas[0]
	if d.Kind != viewstream.Updated {
		t.Fatalf("expected UPDATED, got %v", d.Kind)
	}
	if d.Before.Data["customer"] != "Alice" || d.After.Data["customer"] != "Alicia" {
		t.Errorf("unexpected before/after: %+v / %+v", d.Before.Data, d.After.Data)
	}
	if d.Before.ResultID != d.After.ResultID {
		t.Errorf("expected same resultId across update, got %s vs %s", d.Before.ResultID, d.After.ResultID)
	}
}

func TestS4UpdateLeavingMatch(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	t0 := time.Unix(1000, 0).UTC()
	t1 := time.Unix(2000, 0).UTC()

	if _, err := p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP",
	}), t0); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	deltas, err := p.Process(q, ev(viewstream.Update, 5,
		map[string]any{"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP"},
		map[string]any{"id": 5, "customer": "Alice", "status": "PICKED_UP"},
	), t1)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Kind != viewstream.Deleted {
		t.Fatalf("expected single DELETED delta, got %+v", deltas)
	}
	if deltas[0].After != nil {
		t.Errorf("expected nil After on DELETED, got %+v", deltas[0].After)
	}
	if deltas[0].Before == nil || deltas[0].Before.Data["customer"] != "Alice" {
		t.Errorf("expected prior row as Before, got %+v", deltas[0].Before)
	}
}

func TestS5Delete(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	t0 := time.Unix(1000, 0).UTC()
	t1 := time.Unix(2000, 0).UTC()

	if _, err := p.Process(q, ev(viewstream.Insert, 1, nil, map[string]any{
		"id": 1, "status": "READY_FOR_PICKUP",
	}), t0); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	deltas, err := p.Process(q, ev(viewstream.Delete, 1, map[string]any{
		"id": 1, "status": "READY_FOR_PICKUP",
	}, nil), t1)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Kind != viewstream.Deleted {
		t.Fatalf("expected single DELETED delta, got %+v", deltas)
	}
}

func TestS6IdempotentReplay(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	t0 := time.Unix(1000, 0).UTC()
	t1 := time.Unix(2000, 0).UTC()

	insert := ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP",
	})

	first, err := p.Process(q, insert, t0)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 delta on first apply, got %+v", first)
	}

	replay, err := p.Process(q, insert, t1)
	if err != nil {
		t.Fatalf("replay Process: %v", err)
	}
	if len(replay) != 0 {
		t.Fatalf("expected zero ResultChanges on idempotent replay, got %+v", replay)
	}
}

func TestNonMatchingInsertEmitsNothing(t *testing.T) {
	p, q := newFixture(t, orderQuery)
	deltas, err := p.Process(q, ev(viewstream.Insert, 9, nil, map[string]any{
		"id": 9, "customer": "Bob", "status": "PREPARING",
	}), time.Unix(1000, 0).UTC())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("expected no deltas, got %+v", deltas)
	}
}

func TestUnsubscribedSourceIsIgnored(t *testing.T) {
	store := graphstore.New(nil)
	cache := resultcache.New()
	p := New(store, cache, nil, nil)
	q, err := query.New(query.Config{
		ID:   "q1",
		Text: orderQuery,
		Subscriptions: []query.SourceSubscription{
			{SourceID: "other-source"},
		},
	})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}

	deltas, err := p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP",
	}), time.Unix(1000, 0).UTC())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("expected event from unsubscribed source to be ignored, got %+v", deltas)
	}
}

func TestNodeLabelMappingTranslatesSourceLabel(t *testing.T) {
	store := graphstore.New(nil)
	cache := resultcache.New()
	p := New(store, cache, nil, nil)
	q, err := query.New(query.Config{
		ID:   "q1",
		Text: orderQuery,
		Subscriptions: []query.SourceSubscription{
			{
				SourceID:          "S",
				NodeLabelMappings: []query.NodeLabelMapping{{SourceLabel: "orders_tbl", QueryLabel: "Order"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}

	e := ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP",
	})
	e.EntityType = "orders_tbl"

	deltas, err := p.Process(q, e, time.Unix(1000, 0).UTC())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Kind != viewstream.Added {
		t.Fatalf("expected mapped label to match, got %+v", deltas)
	}
}

func TestFilterModeEmitsOnlyAdded(t *testing.T) {
	store := graphstore.New(nil)
	cache := resultcache.New()
	p := New(store, cache, nil, nil)
	q, err := query.New(query.Config{ID: "q1", Mode: query.ModeFilter, Text: orderQuery})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}

	t0 := time.Unix(1000, 0).UTC()
	t1 := time.Unix(2000, 0).UTC()

	added, err := p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP",
	}), t0)
	if err != nil || len(added) != 1 {
		t.Fatalf("expected 1 ADDED delta, got %+v err=%v", added, err)
	}

	leaving, err := p.Process(q, ev(viewstream.Update, 5,
		map[string]any{"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP"},
		map[string]any{"id": 5, "customer": "Alice", "status": "PICKED_UP"},
	), t1)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(leaving) != 0 {
		t.Fatalf("expected FILTER mode to suppress the DELETED delta, got %+v", leaving)
	}

	if _, ok := cache.Get(computeResultID("q1", 5)); ok {
		t.Error("expected the cache to still be mutated even though FILTER mode suppressed the delta")
	}
}

func TestPredicateErrorIsContainedAndCounted(t *testing.T) {
	p, q := newFixture(t, `MATCH (o:Order) WHERE o.amount > 10 RETURN o.id`)

	_, err := p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "amount": "not-a-number",
	}), time.Unix(1000, 0).UTC())
	if err == nil {
		t.Fatal("expected a predicate type error")
	}
	if got := q.Stats().Snapshot().ErrorCount; got != 1 {
		t.Errorf("expected error count 1, got %d", got)
	}
}

func TestOrderingGuaranteeDeletedBeforeUpdatedBeforeAdded(t *testing.T) {
	d := []viewstream.ResultChange{
		{Kind: viewstream.Added},
		{Kind: viewstream.Deleted},
		{Kind: viewstream.Updated},
		{Kind: viewstream.Added},
		{Kind: viewstream.Deleted},
	}
	orderDeltas(d)
	want := []viewstream.ResultKind{viewstream.Deleted, viewstream.Deleted, viewstream.Updated, viewstream.Added, viewstream.Added}
	for i, k := range want {
		if d[i].Kind != k {
			t.Fatalf("position %d: want %v, got %v (full: %+v)", i, k, d[i].Kind, d)
		}
	}
}

func TestAttributeSchemaRejectsMalformedEvent(t *testing.T) {
	store := graphstore.New(nil)
	cache := resultcache.New()
	p := New(store, cache, nil, nil)

	validator, err := schema.NewJSONSchemaValidator(`{
		"type": "object",
		"required": ["id", "status"],
		"properties": {"id": {"type": "number"}, "status": {"type": "string"}}
	}`)
	if err != nil {
		t.Fatalf("NewJSONSchemaValidator: %v", err)
	}

	q, err := query.New(query.Config{
		ID:   "q1",
		Text: orderQuery,
		Subscriptions: []query.SourceSubscription{
			{SourceID: "S", AttributeSchema: validator},
		},
	})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}

	_, err = p.Process(q, ev(viewstream.Insert, 5, nil, map[string]any{
		"id": 5, "customer": "Alice", "status": "READY_FOR_PICKUP", "driverAssigned": false,
	}), time.Unix(1000, 0).UTC())
	if err != nil {
		t.Fatalf("expected schema-conformant event to pass, got %v", err)
	}

	_, err = p.Process(q, ev(viewstream.Insert, 6, nil, map[string]any{
		"customer": "Bob",
	}), time.Unix(1001, 0).UTC())
	if err == nil {
		t.Fatal("expected missing required field to fail attribute schema validation")
	}
}

func TestComputeResultIDIsDeterministic(t *testing.T) {
	a := computeResultID("q1", 5)
	b := computeResultID("q1", 5)
	if a != b {
		t.Fatalf("expected stable hash, got %s vs %s", a, b)
	}
	if c := computeResultID("q1", 6); c == a {
		t.Fatalf("expected different entity id to produce different resultId")
	}
}
