package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeffhajewski/quill/server"
)

// RPCServer represents a test Quill RPC server bound to a loopback port.
type RPCServer struct {
	Router *server.Router
	inner  *httptest.Server
}

// Register is a function that registers handlers on the test server's router.
type Register func(r *server.Router)

// NewRPCServer delivers a new loopback test server with the supplied
// handlers registered. The default configuration negotiates Turbo and
// Classic and leaves compression off.
func NewRPCServer(t *testing.T, register Register) *RPCServer {
	return NewRPCServerConfig(t, nil, register)
}

// NewRPCServerConfig delivers a new loopback test server with a custom
// configuration.
func NewRPCServerConfig(t *testing.T, cfg *server.Config, register Register) *RPCServer {
	if cfg == nil {
		cfg = server.DefaultConfig
	}
	router := server.NewRouter(cfg, nil)
	if register != nil {
		register(router)
	}

	srv := server.NewServer(cfg, router)
	inner := httptest.NewServer(srv.Handler())
	assert.NotNil(t, inner, "test server start failed")

	return &RPCServer{Router: router, inner: inner}
}

// URL delivers the base URL of the server.
func (ts *RPCServer) URL() string {
	return ts.inner.URL
}

// Port delivers the tcp port number on which the server is listening.
func (ts *RPCServer) Port() int {
	return ts.inner.Listener.Addr().(*net.TCPAddr).Port
}

// Client delivers the underlying test HTTP client.
func (ts *RPCServer) Client() *http.Client {
	return ts.inner.Client()
}

// Close closes any resources used by the server.
func (ts *RPCServer) Close() {
	ts.inner.Close()
}
