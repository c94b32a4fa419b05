package wpsservice

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nci/geoserve/utils"
	"github.com/nci/geoserve/wps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type upperProcess struct{}

func (upperProcess) Describe() wps.ProcessDescriptor {
	return wps.ProcessDescriptor{
		Identifier: "test:upper",
		Title:      "Upper",
		Inputs: []wps.InputDescriptor{{
			Identifier: "text", MinOccurs: 1, MaxOccurs: 1,
			Literal: &wps.LiteralDesc{Type: wps.LiteralString},
		}},
		Outputs: []wps.OutputDescriptor{{Identifier: "result", Literal: &wps.LiteralDesc{Type: wps.LiteralString}}},
	}
}

func (upperProcess) Execute(ctx context.Context, in *wps.Inputs, progress *wps.Progress) (wps.Outputs, error) {
	text := in.String("text", "")
	if text == "fail" {
		return nil, wps.InvalidParam("text", "cannot upper case %s", text)
	}
	return wps.Outputs{"result": strings.ToUpper(text)}, nil
}

func startWorker(t *testing.T) *Client {
	reg := wps.NewRegistry()
	reg.Register(upperProcess{})
	manager := wps.NewExecutionManager(reg, utils.WPSConfig{}, nil, nil)
	pool := CreateProcessPool(2, manager, false)

	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	RegisterProcessorServer(s, &Server{Pool: pool})
	go s.Serve(lis)

	client, err := NewClient([]string{"passthrough:///bufnet"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		s.GracefulStop()
		pool.DeleteProcessPool()
	})
	return client
}

func request(text string) *wps.ExecuteRequest {
	return &wps.ExecuteRequest{
		Identifier: "test:upper",
		Inputs:     []wps.InputValue{{Identifier: "text", Data: wps.Data{Value: []byte(text)}}},
	}
}

func TestRemoteExecute(t *testing.T) {
	client := startWorker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := client.Execute(ctx, request("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(out["result"].Value))
}

func TestRemoteException(t *testing.T) {
	client := startWorker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Execute(ctx, request("fail"))
	require.Error(t, err)
	e, ok := err.(*wps.Exception)
	require.True(t, ok, "%T", err)
	assert.Equal(t, wps.InvalidParameterValue, e.Code)
	assert.Equal(t, "text", e.Locator)

	req := request("x")
	req.Identifier = "test:missing"
	_, err = client.Execute(ctx, req)
	e, ok = err.(*wps.Exception)
	require.True(t, ok, "%T", err)
	assert.Equal(t, wps.NoSuchProcess, e.Code)
}

func TestRemoteTransportError(t *testing.T) {
	lis := bufconn.Listen(1024)
	lis.Close()
	client, err := NewClient([]string{"passthrough:///bufnet"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = client.Execute(ctx, request("hello"))
	require.Error(t, err)
	_, isException := err.(*wps.Exception)
	assert.False(t, isException)
}

func TestRemoteRequestRoundTrip(t *testing.T) {
	req := request("abc")
	req.RawOutput = &wps.OutputRequest{Identifier: "result", MimeType: wps.MimeText}
	back := NewRemoteRequest(req).ExecuteRequest()
	assert.Equal(t, req.Identifier, back.Identifier)
	assert.Equal(t, req.Inputs, back.Inputs)
	assert.Equal(t, req.RawOutput, back.RawOutput)
}

func TestPoolQueueFull(t *testing.T) {
	p := &ProcessPool{TaskQueue: make(chan *Task, queueSize)}
	for i := 0; i <= queueSize-10; i++ {
		p.TaskQueue <- &Task{}
	}
	errChan := make(chan error, 1)
	p.AddQueue(&Task{Context: context.Background(), Error: errChan})
	assert.Error(t, <-errChan)
}

func TestNewClientNoAddresses(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}
