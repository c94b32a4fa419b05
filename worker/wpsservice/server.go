package wpsservice

import (
	"context"
	"fmt"

	"github.com/golang/protobuf/ptypes/wrappers"
)

// Server executes remote requests through a ProcessPool.
type Server struct {
	Pool *ProcessPool
}

func (s *Server) Execute(ctx context.Context, in *wrappers.BytesValue) (*wrappers.BytesValue, error) {
	var req RemoteRequest
	if err := unmarshal(in, &req); err != nil {
		return nil, err
	}

	// Buffered so a worker finishing after the caller gave up never blocks.
	rChan := make(chan *RemoteResponse, 1)
	errChan := make(chan error, 1)
	s.Pool.AddQueue(&Task{Context: ctx, Payload: &req, Resp: rChan, Error: errChan})

	select {
	case out := <-rChan:
		return marshal(out)
	case err := <-errChan:
		return nil, fmt.Errorf("Error in ops: %v", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
