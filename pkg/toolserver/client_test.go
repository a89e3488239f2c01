package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/knowhub/pkg/metrics"
	"github.com/harun/knowhub/pkg/resilience"
)

type fakeServer struct {
	srv         *httptest.Server
	connections atomic.Int32
	initialized atomic.Int32
	// dropAfter closes the connection after answering this many tool calls
	dropAfter int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fs.connections.Add(1)

		var (
			writeMu sync.Mutex
			calls   atomic.Int32
		)
		reply := func(v any) {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteJSON(v)
		}

		for {
			var req struct {
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
				ID     *int64          `json:"id"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Method {
			case "initialize":
				reply(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]any{
					"protocolVersion": protocolVersion,
					"serverInfo":      map[string]any{"name": "fake"},
				}})
			case "notifications/initialized":
				fs.initialized.Add(1)
			case "tools/list":
				reply(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": map[string]any{
					"tools": []map[string]any{{"name": "findNodes", "description": "find"}},
				}})
			case "tools/call":
				var p callToolParams
				_ = json.Unmarshal(req.Params, &p)
				go func(id int64, p callToolParams) {
					reply(fs.answer(id, p))
				}(*req.ID, p)

				if n := calls.Add(1); fs.dropAfter > 0 && n >= fs.dropAfter {
					time.Sleep(20 * time.Millisecond)
					return
				}
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) answer(id int64, p callToolParams) map[string]any {
	text := func(s string, isErr bool) map[string]any {
		return map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{
			"content": []map[string]any{{"type": "text", "text": s}},
			"isError": isErr,
		}}
	}

	switch p.Name {
	case "findNodes":
		args, _ := json.Marshal(p.Arguments)
		return text(`{"nodes":[{"id":"n1"}],"args":`+string(args)+`}`, false)
	case "healthCheck":
		return text(`{"status":"ok"}`, false)
	case "plain":
		return text("just text", false)
	case "broken":
		return text("node not found", true)
	case "slow":
		time.Sleep(200 * time.Millisecond)
		return text(`{}`, false)
	default:
		return map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{
			"code": codeMethodNotFound, "message": "unknown tool " + p.Name,
		}}
	}
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func TestClientCallTool(t *testing.T) {
	fs := newFakeServer(t)
	agg := metrics.NewAggregator(10)
	client := New(Config{URL: fs.url(), CallTimeout: time.Second}, WithRecorder(agg))
	defer client.Close()

	t.Run("should handshake and decode json text content", func(t *testing.T) {
		resp, err := client.CallTool(context.Background(), "findNodes", map[string]any{"label": "Person"})
		require.NoError(t, err)

		var out struct {
			Nodes []struct{ ID string } `json:"nodes"`
			Args  map[string]any        `json:"args"`
		}
		require.NoError(t, resp.Decode(&out))
		assert.Equal(t, "n1", out.Nodes[0].ID)
		assert.Equal(t, "Person", out.Args["label"])
		assert.True(t, client.Connected())

		assert.Eventually(t, func() bool { return fs.initialized.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("should keep non json text raw", func(t *testing.T) {
		resp, err := client.CallTool(context.Background(), "plain", nil)
		require.NoError(t, err)
		assert.Equal(t, "just text", resp.Text)
		assert.Empty(t, resp.Data)
	})

	t.Run("should surface remote isError as soft tool error", func(t *testing.T) {
		resp, err := client.CallTool(context.Background(), "broken", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.True(t, resp.IsError)

		var te *resilience.ToolExecutionError
		require.ErrorAs(t, err, &te)
		assert.False(t, te.Fatal)
		assert.Equal(t, "node not found", te.Message)
	})

	t.Run("should mark method not found as fatal", func(t *testing.T) {
		_, err := client.CallTool(context.Background(), "missing", nil)

		var te *resilience.ToolExecutionError
		require.ErrorAs(t, err, &te)
		assert.True(t, te.Fatal)
		assert.Equal(t, codeMethodNotFound, te.Code)
		assert.Equal(t, resilience.KindNonRecoverable, resilience.Classify(err))
	})

	t.Run("should list tools and ping", func(t *testing.T) {
		tools, err := client.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, 1)
		assert.Equal(t, "findNodes", tools[0].Name)

		resp, err := client.Ping(context.Background(), false)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok"}`, string(resp.Data))
	})

	t.Run("should record one tool_call event per remote call", func(t *testing.T) {
		for _, ev := range agg.Snapshot() {
			assert.Equal(t, metrics.KindToolCall, ev.Kind)
			assert.NotNil(t, ev.DurationMs)
		}
		assert.Equal(t, 5, agg.Len())
	})

	assert.Equal(t, int32(1), fs.connections.Load())
}

func TestClientSharesConnection(t *testing.T) {
	fs := newFakeServer(t)
	client := New(Config{URL: fs.url()})
	defer client.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.CallTool(context.Background(), "findNodes", map[string]any{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fs.connections.Load())
}

func TestClientReconnects(t *testing.T) {
	fs := newFakeServer(t)
	fs.dropAfter = 1

	var states []bool
	var mu sync.Mutex
	client := New(Config{URL: fs.url()}, WithStateHook(func(up bool) {
		mu.Lock()
		states = append(states, up)
		mu.Unlock()
	}))
	defer client.Close()

	_, err := client.CallTool(context.Background(), "findNodes", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !client.Connected() }, time.Second, 5*time.Millisecond)

	_, err = client.CallTool(context.Background(), "findNodes", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fs.connections.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, states[:3])
}

func TestClientFailures(t *testing.T) {
	t.Run("should report connect failure to every waiting caller", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		srv.Close()

		client := New(Config{URL: url, ConnectTimeout: 500 * time.Millisecond})
		defer client.Close()

		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := client.CallTool(context.Background(), "findNodes", nil)
				var ce *ConnectError
				if assert.ErrorAs(t, err, &ce) {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(5), failures.Load())
		assert.False(t, client.Connected())
	})

	t.Run("should report its own call timeout as a soft tool error", func(t *testing.T) {
		fs := newFakeServer(t)
		client := New(Config{URL: fs.url(), CallTimeout: 50 * time.Millisecond})
		defer client.Close()

		_, err := client.CallTool(context.Background(), "slow", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)

		var te *resilience.ToolExecutionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "slow", te.Tool)
		assert.Equal(t, "timeout", te.Message)
		assert.False(t, te.Fatal)
	})

	t.Run("should keep the caller's deadline as a deadline", func(t *testing.T) {
		fs := newFakeServer(t)
		client := New(Config{URL: fs.url(), CallTimeout: time.Second})
		defer client.Close()
		require.NoError(t, client.Connect(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.CallTool(ctx, "slow", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("should report its own connect timeout as ErrTimeout", func(t *testing.T) {
		hang := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-hang
		}))
		defer srv.Close()
		defer close(hang)

		client := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), ConnectTimeout: 50 * time.Millisecond})
		defer client.Close()

		err := client.Connect(context.Background())
		var ce *ConnectError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("should refuse calls after close", func(t *testing.T) {
		fs := newFakeServer(t)
		client := New(Config{URL: fs.url()})
		require.NoError(t, client.Connect(context.Background()))
		require.NoError(t, client.Close())

		_, err := client.CallTool(context.Background(), "findNodes", nil)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("should require a url", func(t *testing.T) {
		client := New(Config{})
		err := client.Connect(context.Background())
		var ce *ConnectError
		assert.ErrorAs(t, err, &ce)
	})
}
