package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adcondev/receipt-daemon/internal/config"
	"github.com/adcondev/receipt-daemon/internal/printer"
	"github.com/adcondev/receipt-daemon/internal/server"
)

type noPrinters struct{}

func (noPrinters) List(context.Context) ([]printer.Detail, error) { return nil, nil }

// rawPrinter accepts one connection and returns everything written to it.
func rawPrinter(t *testing.T) (string, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		data, _ := io.ReadAll(conn)
		got <- data
	}()
	return ln.Addr().String(), got
}

func testProgram(t *testing.T, addr string) (*Program, *httptest.Server) {
	t.Helper()
	cfg := config.GetEnvironment("remote")
	cfg.Printer.Default = "Kitchen"
	cfg.Printer.Paper = "58"
	cfg.Delivery.Methods = []string{"raw"}
	cfg.Delivery.Timeout = 5 * time.Second
	cfg.Delivery.RawAddresses = map[string]string{"kitchen": addr}
	cfg.AllowedOrigins = nil

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := &Program{cfg: cfg, logger: zap.NewNop(), startTime: time.Now()}
	handler, err := p.build(ctx, noPrinters{})
	require.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		p.wsServer.Shutdown()
		ts.Close()
	})
	return p, ts
}

func TestTicketPrintsEndToEnd(t *testing.T) {
	addr, received := rawPrinter(t)
	p, ts := testProgram(t, addr)
	assert.Equal(t, "Kitchen", p.printer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	var msg server.Response
	require.NoError(t, wsjson.Read(ctx, conn, &msg)) // welcome

	doc := `{"business":{"name":"Spice House"},"items":[{"name":"Naan","quantity":2,"unit_price":"2.00"}]}`
	require.NoError(t, wsjson.Write(ctx, conn, server.Message{Tipo: "ticket", ID: "t-1", Datos: json.RawMessage(doc)}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, "ack", msg.Tipo, msg.Mensaje)

	require.NoError(t, p.poller.Tick(ctx))

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "result", msg.Tipo)
	assert.Equal(t, "success", msg.Status, msg.Mensaje)
	assert.Equal(t, "raw", msg.Method)

	select {
	case data := <-received:
		assert.True(t, bytes.HasPrefix(data, []byte{0x1B, 0x40}), "payload starts with ESC @")
		assert.Contains(t, string(data), "Spice House")
	case <-ctx.Done():
		t.Fatal("printer received nothing")
	}

	job, ok := p.backend.intake.Get("t-1")
	require.True(t, ok)
	assert.EqualValues(t, "COMPLETED", job.Status)
}

func TestHealthAndAdminRoutes(t *testing.T) {
	addr, _ := rawPrinter(t)
	_, ts := testProgram(t, addr)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))

	assert.Equal(t, "memory", health.Queue.Backend)
	assert.Equal(t, 50, health.Queue.Capacity)
	assert.Equal(t, "Kitchen", health.Delivery.Printer)
	assert.Equal(t, []string{"raw"}, health.Delivery.Methods)
	assert.Equal(t, "degraded", health.Status, "no printers detected and poller not started")

	jobs, err := http.Get(ts.URL + "/jobs")
	require.NoError(t, err)
	_ = jobs.Body.Close()
	assert.Equal(t, http.StatusOK, jobs.StatusCode, "admin routes are open without a password hash")
}

func TestOpenBackend(t *testing.T) {
	cfg := config.GetEnvironment("local")

	cfg.Queue = config.Queue{Backend: config.BackendSQL, Driver: "sqlite", DSN: ":memory:"}
	b, err := openBackend(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, b.intake)
	_, err = b.queue.FetchPending(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, b.close())

	cfg.Queue = config.Queue{Backend: config.BackendHTTP, URL: "http://127.0.0.1:1"}
	b, err = openBackend(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, b.close())

	cfg.Queue = config.Queue{Backend: "redis"}
	_, err = openBackend(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestLoggerVerbosityAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	l, err := NewLogger(path, false, false)
	require.NoError(t, err)

	l.Logger.Debug("hidden")
	l.Logger.Info("shown")
	assert.False(t, l.Verbose())
	l.SetVerbose(true)
	l.Logger.Debug("now visible")
	assert.True(t, l.Verbose())
	require.NoError(t, l.Logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
	assert.Contains(t, string(data), "now visible")

	for i := 0; i < 80; i++ {
		l.Logger.Info("filler")
	}
	require.NoError(t, l.File.Flush())
	assert.Len(t, readLastNLines(path, 1000), flushKeep)
	l.Logger.Info("after flush")
	require.NoError(t, l.Close())
}

func TestRotateLogIfNeeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	line := strings.Repeat("x", 1023) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(line, maxLogSize/1024+1)), 0600))

	require.NoError(t, rotateLogIfNeeded(path))
	lines := readLastNLines(path, 5000)
	assert.LessOrEqual(t, len(lines), rotateKeep)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(maxLogSize))
}
