// ============================================================================
// gymflow remote decision bridge - service definition
// ============================================================================
//
// Package: internal/bridge
// File: service.go
// Purpose: gRPC surface through which an out-of-process agent drives the
//          handshake channel
//
// Service gymflow.v1.AgentBridge:
//
//   rpc Reset(google.protobuf.Struct) returns (google.protobuf.Struct)
//   rpc Step (google.protobuf.Struct) returns (google.protobuf.Struct)
//
// Payloads are the JSON form of the domain types carried in a Struct, so any
// gRPC client can talk to the bridge without generated stubs:
//
//   Reset  →  {}
//          ←  {"episode_id": "...", "result": AgentResult}
//   Step   →  {"episode_id": "...", "action": StaticAction}
//          ←  {"episode_id": "...", "result": AgentResult}
// ============================================================================

package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "gymflow.v1.AgentBridge"

	resetMethod = "/" + ServiceName + "/Reset"
	stepMethod  = "/" + ServiceName + "/Step"
)

// AgentBridgeServer is the server API of the bridge service.
type AgentBridgeServer interface {
	Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Step(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the bridge service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentBridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reset", Handler: resetHandler},
		{MethodName: "Step", Handler: stepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gymflow/v1/bridge.proto",
}

// RegisterAgentBridgeServer registers srv on s.
func RegisterAgentBridgeServer(s grpc.ServiceRegistrar, srv AgentBridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func resetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentBridgeServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resetMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentBridgeServer).Reset(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func stepHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentBridgeServer).Step(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: stepMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentBridgeServer).Step(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ============================================================================
// Wire messages
// ============================================================================

// StaticResult is the result type exchanged for static scheduling.
type StaticResult = types.AgentResult[types.StaticObservation]

type resetRequest struct{}

type stepRequest struct {
	EpisodeID string             `json:"episode_id"`
	Action    types.StaticAction `json:"action"`
}

type resultResponse struct {
	EpisodeID string       `json:"episode_id"`
	Result    StaticResult `json:"result"`
}

// toStruct converts a JSON-serialisable value into a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into v.
func fromStruct(s *structpb.Struct, v interface{}) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
