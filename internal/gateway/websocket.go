package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/devlabo/sandboxd/internal/metrics"
)

// Close code sent to clients that open a socket against a module the route
// table does not know.
const closeUnknownModule websocket.StatusCode = 4004

const wsReadLimit = 1 << 20

// ProxyWebSocket bridges the client connection on w/r to the module's
// backend over ws://. Frames are relayed verbatim in both directions until
// either side closes; the first side to finish tears down the other.
func (g *Gateway) ProxyWebSocket(w http.ResponseWriter, r *http.Request, user, project, module, path string) {
	port, ok := g.routes[module]
	if !ok {
		// The handshake must complete before a close frame can carry the
		// reason to the client.
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		_ = conn.Close(closeUnknownModule, fmt.Sprintf("Unknown module: %s", module))
		return
	}

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		g.logger.Warn("websocket accept failed", "module", module, "error", err)
		return
	}
	defer func() { _ = client.CloseNow() }()
	client.SetReadLimit(wsReadLimit)

	backendURL := fmt.Sprintf("ws://127.0.0.1:%d/%s", port, strings.TrimPrefix(path, "/"))
	if q := r.URL.RawQuery; q != "" {
		backendURL += "?" + q
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	backend, _, err := websocket.Dial(ctx, backendURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"X-Devlabo-User":    {user},
			"X-Devlabo-Project": {project},
		},
	})
	if err != nil {
		g.logger.Warn("websocket backend dial failed", "module", module, "error", err)
		_ = client.Close(websocket.StatusBadGateway, fmt.Sprintf("Cannot connect to %s server", module))
		return
	}
	defer func() { _ = backend.CloseNow() }()
	backend.SetReadLimit(wsReadLimit)

	metrics.WSSessionStart(module)
	defer metrics.WSSessionEnd(module)
	g.logger.Debug("websocket session open", "module", module, "user", user, "project", project)

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		errc <- relayFrames(ctx, backend, client)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		errc <- relayFrames(ctx, client, backend)
	}()
	wg.Wait()

	first := <-errc
	if isExpectedClose(first) {
		_ = client.Close(websocket.StatusNormalClosure, "")
		_ = backend.Close(websocket.StatusNormalClosure, "")
		return
	}
	g.logger.Warn("websocket session error", "module", module, "error", first)
	_ = client.Close(websocket.StatusInternalError, "Internal server error")
	_ = backend.Close(websocket.StatusInternalError, "Internal server error")
}

// relayFrames copies messages from src to dst until src closes or ctx is
// canceled.
func relayFrames(ctx context.Context, src, dst *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}

// isExpectedClose reports whether err ends a session in a way the client
// should see as a clean shutdown: a close frame from either peer or the
// cancellation triggered by the other direction finishing first.
func isExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled)
}
