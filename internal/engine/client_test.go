package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

// fakeEngine is an in-process aria2 stand-in: a WebSocket endpoint
// serving the subset of aria2.* methods the client uses.
type fakeEngine struct {
	mu     sync.Mutex
	tasks  map[string]*RawStatus
	limits map[string]string
	downed bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		tasks:  make(map[string]*RawStatus),
		limits: make(map[string]string),
	}
}

func (f *fakeEngine) addTask(st RawStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[st.GID] = &st
}

func (f *fakeEngine) methods() handler.Map {
	return handler.Map{
		"aria2.getVersion": handler.New(func(_ context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"version": "1.36.0"}, nil
		}),
		"aria2.addUri": handler.New(func(_ context.Context, params []json.RawMessage) (string, error) {
			var uris []string
			if len(params) == 0 || json.Unmarshal(params[0], &uris) != nil || len(uris) == 0 {
				return "", &jrpc2.Error{Code: -32602, Message: "missing uris"}
			}
			gid := "gid-" + uris[0]
			f.addTask(RawStatus{
				GID:             gid,
				Status:          "active",
				TotalLength:     "1024",
				CompletedLength: "0",
				DownloadSpeed:   "0",
				Connections:     "1",
				Files: []RawFile{{
					Path: "/downloads/" + uris[0],
					URIs: []RawURI{{URI: uris[0]}},
				}},
			})
			return gid, nil
		}),
		"aria2.tellActive": handler.New(func(_ context.Context, _ [][]string) ([]*RawStatus, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var out []*RawStatus
			for _, st := range f.tasks {
				if st.Status == "active" {
					out = append(out, st)
				}
			}
			return out, nil
		}),
		"aria2.tellStatus": handler.New(func(_ context.Context, params []json.RawMessage) (*RawStatus, error) {
			var gid string
			if len(params) == 0 || json.Unmarshal(params[0], &gid) != nil {
				return nil, &jrpc2.Error{Code: -32602, Message: "missing gid"}
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			st, ok := f.tasks[gid]
			if !ok {
				return nil, &jrpc2.Error{Code: 1, Message: "GID not found"}
			}
			return st, nil
		}),
		"aria2.pause": handler.New(func(_ context.Context, params []string) (string, error) {
			return f.setStatus(params, "paused")
		}),
		"aria2.unpause": handler.New(func(_ context.Context, params []string) (string, error) {
			return f.setStatus(params, "active")
		}),
		"aria2.changeOption": handler.New(func(_ context.Context, params []json.RawMessage) (string, error) {
			var gid string
			var opts map[string]string
			if len(params) < 2 ||
				json.Unmarshal(params[0], &gid) != nil ||
				json.Unmarshal(params[1], &opts) != nil {
				return "", &jrpc2.Error{Code: -32602, Message: "bad params"}
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.tasks[gid]; !ok {
				return "", &jrpc2.Error{Code: 1, Message: "GID not found"}
			}
			f.limits[gid] = opts["max-download-limit"]
			return "OK", nil
		}),
		"aria2.shutdown": handler.New(func(_ context.Context) (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.downed = true
			return "OK", nil
		}),
	}
}

func (f *fakeEngine) setStatus(params []string, status string) (string, error) {
	if len(params) == 0 {
		return "", &jrpc2.Error{Code: -32602, Message: "missing gid"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.tasks[params[0]]
	if !ok {
		return "", &jrpc2.Error{Code: 1, Message: "GID not found"}
	}
	st.Status = status
	return params[0], nil
}

// serve upgrades each HTTP request to a WebSocket and runs a jrpc2
// server over it until the peer disconnects.
func (f *fakeEngine) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := cws.Accept(w, r, nil)
		if err != nil {
			return
		}
		ch := &wsChannel{conn: conn, ctx: r.Context()}
		rpc := jrpc2.NewServer(f.methods(), nil)
		rpc.Start(ch)
		rpc.Wait()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jsonrpc"
	c := NewClient(url, logger.NewNopLogger())
	c.maxRedials = 1
	c.redialWait = 10 * time.Millisecond
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_Version(t *testing.T) {
	f := newFakeEngine()
	c := newTestClient(t, f.serve(t))

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "1.36.0" {
		t.Errorf("Version = %q, want 1.36.0", v)
	}
}

func TestClient_AddAndQuery(t *testing.T) {
	f := newFakeEngine()
	c := newTestClient(t, f.serve(t))
	ctx := context.Background()

	gid, err := c.AddURI(ctx, []string{"http://example.com/file.zip"}, Options{"dir": "/downloads"})
	if err != nil {
		t.Fatalf("AddURI: %v", err)
	}
	if gid == "" {
		t.Fatal("AddURI returned empty gid")
	}

	st, err := c.TellStatus(ctx, gid)
	if err != nil {
		t.Fatalf("TellStatus: %v", err)
	}
	if st.Status != "active" || st.TotalLength != "1024" {
		t.Errorf("TellStatus = %+v", st)
	}

	active, err := c.TellActive(ctx)
	if err != nil {
		t.Fatalf("TellActive: %v", err)
	}
	if len(active) != 1 || active[0].GID != gid {
		t.Errorf("TellActive = %+v", active)
	}

	gids, err := c.ActiveGIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveGIDs: %v", err)
	}
	if len(gids) != 1 || gids[0] != gid {
		t.Errorf("ActiveGIDs = %v", gids)
	}
}

func TestClient_PauseUnpause(t *testing.T) {
	f := newFakeEngine()
	f.addTask(RawStatus{GID: "g1", Status: "active"})
	c := newTestClient(t, f.serve(t))
	ctx := context.Background()

	if err := c.Pause(ctx, "g1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if st, _ := c.TellStatus(ctx, "g1"); st.Status != "paused" {
		t.Errorf("status after pause = %q", st.Status)
	}

	if err := c.Unpause(ctx, "g1"); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	if st, _ := c.TellStatus(ctx, "g1"); st.Status != "active" {
		t.Errorf("status after unpause = %q", st.Status)
	}
}

func TestClient_SetSpeedLimitNormalizes(t *testing.T) {
	f := newFakeEngine()
	f.addTask(RawStatus{GID: "g1", Status: "active"})
	c := newTestClient(t, f.serve(t))

	if err := c.SetSpeedLimit(context.Background(), "g1", "1.5M"); err != nil {
		t.Fatalf("SetSpeedLimit: %v", err)
	}
	f.mu.Lock()
	limit := f.limits["g1"]
	f.mu.Unlock()
	if limit != "1536K" {
		t.Errorf("engine received limit %q, want 1536K", limit)
	}
}

func TestClient_Shutdown(t *testing.T) {
	f := newFakeEngine()
	c := newTestClient(t, f.serve(t))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	f.mu.Lock()
	downed := f.downed
	f.mu.Unlock()
	if !downed {
		t.Error("shutdown did not reach the engine")
	}
}

func TestClient_RPCErrorIsNotUnavailable(t *testing.T) {
	f := newFakeEngine()
	c := newTestClient(t, f.serve(t))

	_, err := c.TellStatus(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown gid")
	}
	if errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("rpc-level rejection misreported as unavailable: %v", err)
	}
}

func TestClient_UnreachableEngine(t *testing.T) {
	f := newFakeEngine()
	srv := f.serve(t)
	c := newTestClient(t, srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.Version(ctx)
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Version against dead engine = %v, want ErrEngineUnavailable", err)
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	f := newFakeEngine()
	c := newTestClient(t, f.serve(t))
	ctx := context.Background()

	if _, err := c.Version(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// Sever the connection behind the client's back.
	c.drop()
	if _, err := c.Version(ctx); err != nil {
		t.Fatalf("call after drop should redial: %v", err)
	}
}
