package wpsservice

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/nci/geoserve/wps"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client sends executions to a random worker node. It implements
// wps.RemoteExecutor.
type Client struct {
	conns []*grpc.ClientConn
}

// NewClient connects to every address. Extra options are appended to the
// insecure transport credentials.
func NewClient(addresses []string, opts ...grpc.DialOption) (*Client, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no worker nodes configured")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	c := &Client{}
	for _, addr := range addresses {
		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("gRPC connection problem with %s: %v", addr, err)
		}
		c.conns = append(c.conns, conn)
	}
	return c, nil
}

func (c *Client) Close() {
	for _, conn := range c.conns {
		conn.Close()
	}
}

// Execute runs req on a worker node. Exceptions raised by the process are
// returned as *wps.Exception, transport failures as plain errors.
func (c *Client) Execute(ctx context.Context, req *wps.ExecuteRequest) (map[string]wps.Data, error) {
	in, err := marshal(NewRemoteRequest(req))
	if err != nil {
		return nil, err
	}
	conn := c.conns[rand.Intn(len(c.conns))]
	out := new(wrappers.BytesValue)
	if err := conn.Invoke(ctx, executeMethod, in, out); err != nil {
		return nil, fmt.Errorf("worker %s: %v", conn.Target(), err)
	}
	var resp RemoteResponse
	if err := unmarshal(out, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Outputs, nil
}
