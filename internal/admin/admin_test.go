package admin

import (
	"testing"
	"time"

	"github.com/user/viewstream"
	"github.com/user/viewstream/internal/engine"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/processor"
	"github.com/user/viewstream/internal/resultcache"
)

func newService(t *testing.T) *Service {
	t.Helper()
	store := graphstore.New(nil)
	cache := resultcache.New()
	proc := processor.New(store, cache, nil, nil)
	reg := engine.NewRegistry(store, cache, proc, nil, engine.DefaultConfig())
	return New(reg)
}

func TestServiceCreateGetDeleteQuery(t *testing.T) {
	s := newService(t)

	q, err := s.CreateQuery(CreateQueryRequest{
		ID:   "q1",
		Text: `MATCH (o:Order) WHERE o.status = 'READY_FOR_PICKUP' RETURN o.id`,
	})
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	if q.ID != "q1" {
		t.Errorf("ID = %q, want q1", q.ID)
	}

	if ids := s.ListQueries(); len(ids) != 1 || ids[0] != "q1" {
		t.Errorf("ListQueries = %v, want [q1]", ids)
	}

	if _, err := s.GetQuery("q1"); err != nil {
		t.Errorf("GetQuery: %v", err)
	}

	if err := s.DeleteQuery("q1"); err != nil {
		t.Errorf("DeleteQuery: %v", err)
	}
	if _, err := s.GetQuery("q1"); err == nil {
		t.Error("expected GetQuery to fail after delete")
	}
}

func TestServiceIngestAndGetResults(t *testing.T) {
	s := newService(t)
	if _, err := s.CreateQuery(CreateQueryRequest{
		ID:   "q1",
		Text: `MATCH (o:Order) WHERE o.status = 'READY_FOR_PICKUP' RETURN o.id, o.customer`,
	}); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	s.Ingest(viewstream.ChangeEvent{
		Kind:       viewstream.Insert,
		SourceID:   "S",
		EntityType: "Order",
		EntityID:   1,
		After:      map[string]any{"id": 1, "customer": "Alice", "status": "READY_FOR_PICKUP"},
		Timestamp:  time.Now(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		results, err := s.GetResults("q1")
		if err != nil {
			t.Fatalf("GetResults: %v", err)
		}
		if len(results) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for result, got %d", len(results))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServiceCreateQueryRejectsEmptyID(t *testing.T) {
	s := newService(t)
	if _, err := s.CreateQuery(CreateQueryRequest{Text: "MATCH (o:Order) RETURN o.id"}); err == nil {
		t.Fatal("expected error for empty id")
	}
}
