package client_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/jeffhajewski/quill/client"
	"github.com/jeffhajewski/quill/common"
	"github.com/jeffhajewski/quill/server"
	"github.com/jeffhajewski/quill/testutil"
)

func echoRegister(r *server.Router) {
	r.Register("echo.v1.EchoService/Echo", func(ctx context.Context, req []byte) ([]byte, error) {
		return req, nil
	})
}

func newTestClient(t *testing.T, ts *testutil.RPCServer, compression bool) *client.Client {
	t.Helper()
	c, err := client.NewClient(&client.Config{
		BaseURL:     ts.URL(),
		Preference:  common.NewPreference(common.Classic),
		Compression: compression,
	})
	assert.NoError(t, err)
	return c
}

func TestUnaryEcho(t *testing.T) {
	ts := testutil.NewRPCServer(t, echoRegister)
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	resp, err := c.Call(context.Background(), "echo.v1.EchoService", "Echo", []byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(resp))
}

func TestUnaryNotFound(t *testing.T) {
	ts := testutil.NewRPCServer(t, echoRegister)
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	_, err := c.Call(context.Background(), "echo.v1.EchoService", "Missing", nil)
	assert.Error(t, err)

	problem, ok := err.(*common.Problem)
	assert.True(t, ok, "expected a Problem, got %T", err)
	assert.Equal(t, 404, problem.Status)
	assert.Contains(t, problem.Detail, "echo.v1.EchoService/Missing")
}

func TestUnaryHandlerProblemPropagates(t *testing.T) {
	ts := testutil.NewRPCServer(t, func(r *server.Router) {
		r.Register("auth.v1.AuthService/Login", func(ctx context.Context, req []byte) ([]byte, error) {
			return nil, common.NewProblem(401, "Unauthorized").WithDetail("bad credentials")
		})
	})
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	_, err := c.Call(context.Background(), "auth.v1.AuthService", "Login", nil)
	problem, ok := err.(*common.Problem)
	assert.True(t, ok)
	assert.Equal(t, 401, problem.Status)
	assert.Equal(t, "bad credentials", problem.Detail)
}

func TestUnaryUnstructuredErrorBecomes500(t *testing.T) {
	ts := testutil.NewRPCServer(t, func(r *server.Router) {
		r.Register("echo.v1.EchoService/Echo", func(ctx context.Context, req []byte) ([]byte, error) {
			return nil, assert.AnError
		})
	})
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	_, err := c.Call(context.Background(), "echo.v1.EchoService", "Echo", nil)
	problem, ok := err.(*common.Problem)
	assert.True(t, ok)
	assert.Equal(t, 500, problem.Status)
}

func TestServerStreamingLogTail(t *testing.T) {
	entries := [][]byte{
		[]byte("line-0"), []byte("line-1"), []byte("line-2"),
		[]byte("line-3"), []byte("line-4"),
	}

	ts := testutil.NewRPCServer(t, func(r *server.Router) {
		r.RegisterStreaming("logs.v1.LogService/Tail",
			func(ctx context.Context, stream *server.RequestStream) (*server.Response, error) {
				// Request carries the entry budget; this handler tails a
				// fixed window regardless.
				if _, err := stream.Collect(ctx); err != nil {
					return nil, err
				}
				return server.Streaming(server.SliceSource(entries...)), nil
			})
	})
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	stream, err := c.CallServerStreaming(context.Background(), "logs.v1.LogService", "Tail", []byte("max_entries=5"))
	assert.NoError(t, err)
	defer stream.Close()

	msgs, err := stream.Collect(context.Background())
	assert.NoError(t, err)
	assert.Len(t, msgs, 5)
	for i, msg := range msgs {
		assert.Equal(t, string(entries[i]), string(msg))
	}

	// The sequence is terminal after END_STREAM.
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientStreaming(t *testing.T) {
	ts := testutil.NewRPCServer(t, func(r *server.Router) {
		r.RegisterStreaming("upload.v1.UploadService/Put",
			func(ctx context.Context, stream *server.RequestStream) (*server.Response, error) {
				msgs, err := stream.Collect(ctx)
				if err != nil {
					return nil, err
				}
				return server.Unary(bytes.Join(msgs, []byte("|"))), nil
			})
	})
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	resp, err := c.CallClientStreaming(context.Background(), "upload.v1.UploadService", "Put",
		client.Messages([]byte("a"), []byte("b"), []byte("c")))
	assert.NoError(t, err)
	assert.Equal(t, "a|b|c", string(resp))
}

func TestBidiStreamingEcho(t *testing.T) {
	ts := testutil.NewRPCServer(t, func(r *server.Router) {
		r.RegisterStreaming("chat.v1.ChatService/Converse",
			func(ctx context.Context, stream *server.RequestStream) (*server.Response, error) {
				msgs, err := stream.Collect(ctx)
				if err != nil {
					return nil, err
				}
				return server.Streaming(server.SliceSource(msgs...)), nil
			})
	})
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	stream, err := c.CallBidiStreaming(context.Background(), "chat.v1.ChatService", "Converse",
		client.Messages([]byte("ping"), []byte("pong")))
	assert.NoError(t, err)
	defer stream.Close()

	msgs, err := stream.Collect(context.Background())
	assert.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "ping", string(msgs[0]))
	assert.Equal(t, "pong", string(msgs[1]))
}

func TestZstdCompressionRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte("compressible "), 256)

	ts := testutil.NewRPCServerConfig(t, &server.Config{
		Address:     ":0",
		Profiles:    []common.Profile{common.Turbo, common.Classic},
		Compression: true,
	}, echoRegister)
	defer ts.Close()

	c := newTestClient(t, ts, true)
	defer c.Close()

	resp, err := c.Call(context.Background(), "echo.v1.EchoService", "Echo", payload)
	assert.NoError(t, err)
	assert.Equal(t, payload, resp)
}

func TestChannelMessages(t *testing.T) {
	ch := make(chan []byte, 2)
	ch <- []byte("x")
	ch <- []byte("y")
	close(ch)

	stream := client.ChannelMessages(ch)
	msg, err := stream.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "x", string(msg))

	msg, err = stream.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "y", string(msg))

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestCallWithRetryRecoversFromTransientFailure(t *testing.T) {
	failures := 2
	ts := testutil.NewRPCServer(t, func(r *server.Router) {
		r.Register("echo.v1.EchoService/Echo", func(ctx context.Context, req []byte) ([]byte, error) {
			if failures > 0 {
				failures--
				return nil, common.NewProblem(503, "warming up")
			}
			return req, nil
		})
	})
	defer ts.Close()

	c := newTestClient(t, ts, false)
	defer c.Close()

	policy := client.DefaultRetryPolicy()
	policy.InitialBackoff = 1 // effectively immediate for a real clock

	resp, err := c.CallWithRetry(context.Background(), "echo.v1.EchoService", "Echo",
		[]byte("eventually"), policy, nil)
	assert.NoError(t, err)
	assert.Equal(t, "eventually", string(resp))
}
