package rpc

import (
	"context"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/viewstream/internal/admin"
	"github.com/user/viewstream/internal/engine"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/processor"
	"github.com/user/viewstream/internal/resultcache"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := graphstore.New(nil)
	cache := resultcache.New()
	proc := processor.New(store, cache, nil, nil)
	reg := engine.NewRegistry(store, cache, proc, nil, engine.DefaultConfig())
	return NewServer(admin.New(reg))
}

func TestServerCreateAndListQueries(t *testing.T) {
	s := newTestServer(t)

	req, err := structpb.NewStruct(map[string]any{
		"id":   "q1",
		"text": "MATCH (o:Order) WHERE o.status = 'READY_FOR_PICKUP' RETURN o.id",
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}

	if _, err := s.CreateQuery(context.Background(), req); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	out, err := s.ListQueries(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListQueries: %v", err)
	}
	ids := out.Fields["ids"].GetListValue().GetValues()
	if len(ids) != 1 || ids[0].GetStringValue() != "q1" {
		t.Errorf("ids = %v, want [q1]", ids)
	}
}

func TestServerDeleteQueryRequiresID(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.DeleteQuery(context.Background(), &structpb.Struct{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestServerIngestAndGetResults(t *testing.T) {
	s := newTestServer(t)

	createReq, _ := structpb.NewStruct(map[string]any{
		"id":   "q1",
		"text": "MATCH (o:Order) WHERE o.status = 'READY_FOR_PICKUP' RETURN o.id, o.customer",
	})
	if _, err := s.CreateQuery(context.Background(), createReq); err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}

	ingestReq, _ := structpb.NewStruct(map[string]any{
		"type":       "INSERT",
		"sourceId":   "S",
		"entityType": "Order",
		"entityId":   "1",
		"after":      map[string]any{"id": "1", "customer": "Alice", "status": "READY_FOR_PICKUP"},
	})
	if _, err := s.Ingest(context.Background(), ingestReq); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	getReq, _ := structpb.NewStruct(map[string]any{"id": "q1"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err := s.GetResults(context.Background(), getReq)
		if err != nil {
			t.Fatalf("GetResults: %v", err)
		}
		results := out.Fields["results"].GetListValue().GetValues()
		if len(results) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for result, got %d", len(results))
		}
		time.Sleep(time.Millisecond)
	}
}
