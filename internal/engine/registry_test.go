package engine

import (
	"context"
	"testing"
	"time"

	"github.com/user/viewstream"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/processor"
	"github.com/user/viewstream/internal/query"
	"github.com/user/viewstream/internal/resultcache"
)

const orderQuery = `MATCH (o:Order) WHERE o.status = 'READY_FOR_PICKUP' RETURN o.id, o.customer`

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	store := graphstore.New(nil)
	cache := resultcache.New()
	proc := processor.New(store, cache, nil, nil)
	return NewRegistry(store, cache, proc, nil, DefaultConfig())
}

func insertOrder(id any, customer, status string) viewstream.ChangeEvent {
	return viewstream.ChangeEvent{
		Kind:       viewstream.Insert,
		SourceID:   "S",
		EntityType: "Order",
		EntityID:   id,
		After:      map[string]any{"id": id, "customer": customer, "status": status},
		Timestamp:  time.Now(),
	}
}

func TestRegistryIngestAndSubscribeReplay(t *testing.T) {
	r := newRegistry(t)
	q, err := query.New(query.Config{ID: "q1", Text: orderQuery})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	if err := r.CreateQuery(q); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	r.Ingest(insertOrder(5, "Alice", "READY_FOR_PICKUP"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		results, err := r.CurrentResults("q1")
		if err != nil {
			t.Fatalf("CurrentResults: %v", err)
		}
		if len(results) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for result to appear, got %d", len(results))
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Subscribe(ctx, "q1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case rc := <-ch:
		if rc.Kind != viewstream.Added {
			t.Errorf("expected replay ADDED, got %v", rc.Kind)
		}
		if rc.After == nil || rc.After.Data["customer"] != "Alice" {
			t.Errorf("unexpected replay row: %+v", rc.After)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replay event")
	}
}

func TestRegistryLiveDeltaAfterSubscribe(t *testing.T) {
	r := newRegistry(t)
	q, err := query.New(query.Config{ID: "q1", Text: orderQuery})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	if err := r.CreateQuery(q); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Subscribe(ctx, "q1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	r.Ingest(insertOrder(5, "Alice", "READY_FOR_PICKUP"))

	select {
	case rc := <-ch:
		if rc.Kind != viewstream.Added {
			t.Errorf("expected live ADDED, got %v", rc.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live delta")
	}
}

func TestRegistryDeleteQueryClearsCache(t *testing.T) {
	r := newRegistry(t)
	q, err := query.New(query.Config{ID: "q1", Text: orderQuery})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	if err := r.CreateQuery(q); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	r.Ingest(insertOrder(5, "Alice", "READY_FOR_PICKUP"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if results, _ := r.CurrentResults("q1"); len(results) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for seed insert")
		}
		time.Sleep(time.Millisecond)
	}

	if err := r.DeleteQuery("q1"); err != nil {
		t.Fatalf("DeleteQuery: %v", err)
	}
	if _, ok := r.GetQuery("q1"); ok {
		t.Fatalf("expected GetQuery to report deleted query as absent")
	}
	if _, err := r.CurrentResults("q1"); err == nil {
		t.Fatal("expected CurrentResults to fail for deleted query")
	}
	if ids := r.cache.FindByQuery("q1"); len(ids) != 0 {
		t.Errorf("expected DeleteQuery to clear the query's cached rows, got %v", ids)
	}
}

func TestRegistryCreateQueryDuplicateErrors(t *testing.T) {
	r := newRegistry(t)
	q, err := query.New(query.Config{ID: "q1", Text: orderQuery})
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	if err := r.CreateQuery(q); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	if err := r.CreateQuery(q); err == nil {
		t.Fatal("expected error registering duplicate query id")
	}
}

func TestHealthRingTracksErrorRate(t *testing.T) {
	h := newHealthRing(10, 0.3)
	for i := 0; i < 7; i++ {
		h.record(false)
	}
	for i := 0; i < 3; i++ {
		h.record(true)
	}
	if !h.healthy() {
		t.Errorf("expected healthy at exactly threshold, rate=%v", h.errorRate())
	}
	h.record(true)
	if h.healthy() {
		t.Errorf("expected unhealthy above threshold, rate=%v", h.errorRate())
	}
}
