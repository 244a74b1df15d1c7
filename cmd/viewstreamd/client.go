package main

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/spf13/viper"
)

const adminServiceName = "viewstream.admin.v1.Admin"

func dialAdmin(ctx context.Context) (*grpc.ClientConn, error) {
	addr := viper.GetString("server")
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func callUnary(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	conn, err := dialAdmin(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	fullMethod := fmt.Sprintf("/%s/%s", adminServiceName, method)
	if err := conn.Invoke(ctx, fullMethod, in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func callSubscribeStream(ctx context.Context, queryID string, onDelta func(*structpb.Struct)) error {
	conn, err := dialAdmin(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	fullMethod := fmt.Sprintf("/%s/Subscribe", adminServiceName)
	stream, err := conn.NewStream(ctx, desc, fullMethod)
	if err != nil {
		return fmt.Errorf("subscribe: open stream: %w", err)
	}

	req, err := structpb.NewStruct(map[string]any{"id": queryID})
	if err != nil {
		return fmt.Errorf("subscribe: encode request: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("subscribe: send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("subscribe: close send: %w", err)
	}

	for {
		delta := new(structpb.Struct)
		if err := stream.RecvMsg(delta); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("subscribe: recv: %w", err)
		}
		onDelta(delta)
	}
}
