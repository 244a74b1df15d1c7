// Package rpc exposes internal/admin.Service over gRPC. The wire contract
// mirrors admin.proto (checked in alongside this file as the
// source-of-truth schema a future codegen step would compile): every
// request and response is a google.protobuf.Struct, built and read with
// structpb so the service evolves without a generated stub for each new
// field. Subscribe is the one server-streaming method, matching the
// replay-then-live-deltas semantics a continuous query's result stream
// needs.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/viewstream/internal/admin"
	"github.com/user/viewstream/internal/ingest"
)

// AdminServer is the service interface internal/admin/rpc.ServiceDesc
// dispatches onto, structured the way protoc-gen-go-grpc would generate
// it for a service with one streaming and six unary methods.
type AdminServer interface {
	CreateQuery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteQuery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListQueries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetResults(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetResultsAt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, Admin_SubscribeServer) error
}

// Admin_SubscribeServer is the server-side stream handle Subscribe writes
// ResultChange rows onto.
type Admin_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type adminSubscribeServer struct{ grpc.ServerStream }

func (x *adminSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// Server adapts an admin.Service to AdminServer, converting every
// request/response through JSON so admin.Service never has to know about
// protobuf, and rpc never has to know about admin's Go-native types.
type Server struct {
	svc *admin.Service
}

func NewServer(svc *admin.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) CreateQuery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req admin.CreateQueryRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, fmt.Errorf("rpc: CreateQuery: decode request: %w", err)
	}
	q, err := s.svc.CreateQuery(req)
	if err != nil {
		return nil, err
	}
	return toStruct(q)
}

func (s *Server) DeleteQuery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireStringField(in, "id")
	if err != nil {
		return nil, fmt.Errorf("rpc: DeleteQuery: %w", err)
	}
	if err := s.svc.DeleteQuery(id); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"id": id, "deleted": true})
}

func (s *Server) ListQueries(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ids := s.svc.ListQueries()
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	return structpb.NewStruct(map[string]any{"ids": anyIDs})
}

func (s *Server) GetResults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireStringField(in, "id")
	if err != nil {
		return nil, fmt.Errorf("rpc: GetResults: %w", err)
	}
	results, err := s.svc.GetResults(id)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"results": results})
}

func (s *Server) GetResultsAt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireStringField(in, "id")
	if err != nil {
		return nil, fmt.Errorf("rpc: GetResultsAt: %w", err)
	}
	instantField, ok := in.Fields["instant"]
	if !ok {
		return nil, fmt.Errorf("rpc: GetResultsAt: request missing instant")
	}
	instant, err := time.Parse(time.RFC3339Nano, instantField.GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("rpc: GetResultsAt: invalid instant: %w", err)
	}
	results, err := s.svc.GetResultsAt(id, instant)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"results": results})
}

func (s *Server) Ingest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, fmt.Errorf("rpc: Ingest: %w", err)
	}
	ev, err := ingest.DecodeJSONEnvelope(raw)
	if err != nil {
		return nil, err
	}
	s.svc.Ingest(ev)
	return structpb.NewStruct(map[string]any{"accepted": true})
}

// Subscribe opens one streaming call. Every delta sent over it carries the
// same correlationId so a client juggling several concurrent or
// re-established subscriptions to the same query can tell which stream a
// given delta came from — the ids in the stream itself (queryId, resultId)
// identify the data, not the subscription that delivered it.
func (s *Server) Subscribe(in *structpb.Struct, stream Admin_SubscribeServer) error {
	id, err := requireStringField(in, "id")
	if err != nil {
		return fmt.Errorf("rpc: Subscribe: %w", err)
	}
	correlationID := uuid.New().String()
	ch, err := s.svc.Subscribe(stream.Context(), id)
	if err != nil {
		return err
	}
	for {
		select {
		case rc, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := toStructWithCorrelation(rc, correlationID)
			if err != nil {
				return fmt.Errorf("rpc: Subscribe: encode delta: %w", err)
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func requireStringField(in *structpb.Struct, name string) (string, error) {
	if in == nil {
		return "", fmt.Errorf("request missing %q", name)
	}
	v, ok := in.Fields[name]
	if !ok || v.GetStringValue() == "" {
		return "", fmt.Errorf("request missing %q", name)
	}
	return v.GetStringValue(), nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	return structpb.NewStruct(m)
}

func toStructWithCorrelation(v any, correlationID string) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	m["correlationId"] = correlationID
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
