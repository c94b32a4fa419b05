// Package wpsservice runs WPS processes on worker nodes. Requests travel
// over gRPC as JSON documents wrapped in BytesValue messages, so the
// service needs no generated code.
package wpsservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/nci/geoserve/wps"
	"google.golang.org/grpc"
)

const (
	serviceName   = "wpsservice.Processor"
	executeMethod = "/" + serviceName + "/Execute"
)

// RemoteRequest is an Execute request whose references are already
// resolved.
type RemoteRequest struct {
	Identifier string              `json:"identifier"`
	Inputs     []wps.InputValue    `json:"inputs"`
	Outputs    []wps.OutputRequest `json:"outputs,omitempty"`
	RawOutput  *wps.OutputRequest  `json:"rawOutput,omitempty"`
}

func NewRemoteRequest(req *wps.ExecuteRequest) *RemoteRequest {
	return &RemoteRequest{
		Identifier: req.Identifier,
		Inputs:     req.Inputs,
		Outputs:    req.Outputs,
		RawOutput:  req.RawOutput,
	}
}

func (r *RemoteRequest) ExecuteRequest() *wps.ExecuteRequest {
	return &wps.ExecuteRequest{
		Identifier: r.Identifier,
		Inputs:     r.Inputs,
		Outputs:    r.Outputs,
		RawOutput:  r.RawOutput,
	}
}

// RemoteResponse carries either the encoded outputs or the exception the
// process failed with.
type RemoteResponse struct {
	Outputs map[string]wps.Data `json:"outputs,omitempty"`
	Error   *wps.Exception      `json:"error,omitempty"`
}

// ProcessorServer is implemented by worker nodes.
type ProcessorServer interface {
	Execute(ctx context.Context, in *wrappers.BytesValue) (*wrappers.BytesValue, error)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrappers.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessorServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessorServer).Execute(ctx, req.(*wrappers.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProcessorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wpsservice",
}

func RegisterProcessorServer(s *grpc.Server, srv ProcessorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func marshal(v interface{}) (*wrappers.BytesValue, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode failed: %v", err)
	}
	return &wrappers.BytesValue{Value: body}, nil
}

func unmarshal(in *wrappers.BytesValue, v interface{}) error {
	if in == nil {
		return fmt.Errorf("empty message")
	}
	if err := json.Unmarshal(in.Value, v); err != nil {
		return fmt.Errorf("error decoding data: %v", err)
	}
	return nil
}
