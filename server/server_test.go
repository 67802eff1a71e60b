package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnehpets/hello/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Port = 0
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// start runs srv in the background and returns a stop func that cancels it
// and waits for Serve to return.
func start(t *testing.T, srv *Server) func() error {
	t.Helper()
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func post(t *testing.T, addr, body string) (int, string) {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServer_Greets(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()
	srv := New(cfg, NewHandler(cfg, zap.NewNop(), reg), reg, zap.NewNop())
	stop := start(t, srv)

	status, body := post(t, srv.Addr(), `{"username":"alice"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello alice", body)

	status, _ = post(t, srv.Addr(), `{"name":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	require.NoError(t, stop())
}

func TestServer_BindsLoopback(t *testing.T) {
	cfg := testConfig()
	srv := New(cfg, http.NotFoundHandler(), nil, nil)
	start(t, srv)

	host, _, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	assert.True(t, net.ParseIP(host).IsLoopback(), "host %s is not loopback", host)
}

func TestServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	srv := New(cfg, http.NotFoundHandler(), nil, nil)

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestServer_MetricsListener(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = "127.0.0.1:0"
	reg := NewRegistry()
	srv := New(cfg, NewHandler(cfg, zap.NewNop(), reg), reg, zap.NewNop())
	start(t, srv)

	status, _ := post(t, srv.Addr(), `{"username":"bob"}`)
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get("http://" + srv.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `hello_http_requests_total{method="POST",status="200"} 1`)
	assert.Contains(t, string(b), "go_goroutines")

	// The public listener does not expose metrics.
	resp, err = http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	srv := New(cfg, http.NotFoundHandler(), NewRegistry(), nil)
	assert.Equal(t, "", srv.MetricsAddr())
}

func TestServer_ServeBeforeListen(t *testing.T) {
	srv := New(testConfig(), http.NotFoundHandler(), nil, nil)
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServer_ResponseHeaders(t *testing.T) {
	cfg := testConfig()
	srv := New(cfg, NewHandler(cfg, zap.NewNop(), nil), nil, nil)
	start(t, srv)

	resp, err := http.Post("http://"+srv.Addr()+"/", "application/json", strings.NewReader(`{"username":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestServer_BodyLimitFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 32
	srv := New(cfg, NewHandler(cfg, zap.NewNop(), nil), nil, nil)
	start(t, srv)

	status, _ := post(t, srv.Addr(), `{"username":"`+strings.Repeat("z", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}
