package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestGateway(t *testing.T, routes Routes, timeout time.Duration) *Gateway {
	t.Helper()
	g := New(routes, nil, timeout, nil)
	t.Cleanup(g.Close)
	return g
}

// backendPort extracts the port an httptest server listens on.
func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("backend port: %v", err)
	}
	return port
}

func TestFilterHeadersDropsHopByHop(t *testing.T) {
	in := http.Header{}
	in.Set("Connection", "keep-alive")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Proxy-Authenticate", "Basic")
	in.Set("Proxy-Authorization", "Basic abc")
	in.Set("Te", "trailers")
	in.Set("Trailers", "X-Foo")
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Upgrade", "websocket")
	in.Set("Host", "example.com")
	in.Set("Content-Type", "application/json")
	in.Set("Authorization", "Bearer tok")
	in.Add("Accept-Encoding", "gzip")
	in.Add("Accept-Encoding", "br")

	out := filterHeaders(in)

	for _, h := range []string{
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Host",
	} {
		if got := out.Get(h); got != "" {
			t.Errorf("header %s survived filtering: %q", h, got)
		}
	}
	if got := out.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := out.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	if got := out.Values("Accept-Encoding"); len(got) != 2 {
		t.Errorf("Accept-Encoding values = %v", got)
	}
}

func TestResolveTarget(t *testing.T) {
	g := newTestGateway(t, DefaultRoutes(), 0)

	got, err := g.ResolveTarget("frontend", "main.js", "v=2")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if want := "http://127.0.0.1:3002/main.js?v=2"; got != want {
		t.Errorf("target = %q, want %q", got, want)
	}

	got, err = g.ResolveTarget("prototype", "", "")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if want := "http://127.0.0.1:3001/"; got != want {
		t.Errorf("target = %q, want %q", got, want)
	}
}

func TestResolveTargetUnknownModule(t *testing.T) {
	g := newTestGateway(t, DefaultRoutes(), 0)

	_, err := g.ResolveTarget("agent", "x", "")
	var pe *ProxyError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *ProxyError", err)
	}
	if pe.StatusCode != 404 {
		t.Errorf("status = %d, want 404", pe.StatusCode)
	}
	if pe.Msg != "Unknown module: agent" {
		t.Errorf("msg = %q", pe.Msg)
	}
}

func TestProxyHTTPRoundTrip(t *testing.T) {
	var seen *http.Request
	var seenBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer backend.Close()

	g := newTestGateway(t, Routes{"frontend": backendPort(t, backend)}, 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	req, _ := http.NewRequest(http.MethodPost, front.URL+"/connect/alice/p1/frontend/api/items?limit=5", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "created" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("X-Backend") != "yes" {
		t.Errorf("backend header missing")
	}

	if seen == nil {
		t.Fatal("backend never saw the request")
	}
	if seen.URL.Path != "/api/items" {
		t.Errorf("backend path = %q", seen.URL.Path)
	}
	if seen.URL.RawQuery != "limit=5" {
		t.Errorf("backend query = %q", seen.URL.RawQuery)
	}
	if string(seenBody) != `{"a":1}` {
		t.Errorf("backend body = %q", seenBody)
	}
	if got := seen.Header.Get("X-Devlabo-User"); got != "alice" {
		t.Errorf("X-Devlabo-User = %q", got)
	}
	if got := seen.Header.Get("X-Devlabo-Project"); got != "p1" {
		t.Errorf("X-Devlabo-Project = %q", got)
	}
	if seen.Header.Get("X-Forwarded-For") == "" {
		t.Error("X-Forwarded-For missing")
	}
	if got := seen.Header.Get("X-Forwarded-Proto"); got != "http" {
		t.Errorf("X-Forwarded-Proto = %q", got)
	}
}

func TestProxyHTTPBackendErrorPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	g := newTestGateway(t, Routes{"frontend": backendPort(t, backend)}, 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/connect/u/p/frontend/")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 passed through", resp.StatusCode)
	}
}

func TestProxyHTTPUnknownModule(t *testing.T) {
	g := newTestGateway(t, DefaultRoutes(), 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/connect/u/p/agent/anything")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Unknown module: agent") {
		t.Errorf("body = %q", body)
	}
}

func TestProxyHTTPDeadBackend(t *testing.T) {
	// Grab a port nothing listens on.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := backendPort(t, dead)
	dead.Close()

	g := newTestGateway(t, Routes{"frontend": port}, 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/connect/u/p/frontend/")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Cannot connect to frontend server") {
		t.Errorf("body = %q", body)
	}
}

func TestProxyHTTPSlowBackendTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()

	g := newTestGateway(t, Routes{"frontend": backendPort(t, backend)}, 150*time.Millisecond)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/connect/u/p/frontend/slow")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t, DefaultRoutes(), 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"gateway":"ok"`) {
		t.Errorf("body = %q", body)
	}
}

func TestWebSocketUnknownModuleCloseCode(t *testing.T) {
	g := newTestGateway(t, DefaultRoutes(), 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/connect/u/p/agent/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected close, got a frame")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusCode(4004) {
		t.Errorf("close status = %d, want 4004", got)
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Reason != "Unknown module: agent" {
		t.Errorf("close reason = %q", ce.Reason)
	}
}

func TestWebSocketBridgeEcho(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := r.Context()
		for {
			typ, data, rerr := conn.Read(ctx)
			if rerr != nil {
				return
			}
			if werr := conn.Write(ctx, typ, data); werr != nil {
				return
			}
		}
	}))
	defer backend.Close()

	g := newTestGateway(t, Routes{"frontend": backendPort(t, backend)}, 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/connect/u/p/frontend/hmr"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText || string(data) != "hello" {
		t.Errorf("echo = %v %q", typ, data)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestWebSocketDeadBackend(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := backendPort(t, dead)
	dead.Close()

	g := newTestGateway(t, Routes{"frontend": port}, 0)
	front := httptest.NewServer(NewRouter(g, nil).Handler())
	defer front.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/connect/u/p/frontend/hmr"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected close, got a frame")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusBadGateway {
		t.Errorf("close status = %d, want %d", got, websocket.StatusBadGateway)
	}
}
