// Package gateway routes sandbox traffic to the per-module dev servers. It
// terminates HTTP and WebSocket connections under /connect/{user}/{project}/
// and forwards them to 127.0.0.1 ports looked up from the route table.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devlabo/sandboxd/internal/metrics"
)

// Bodies up to this size are buffered before being written out; anything
// larger (or of unknown length) is streamed.
const maxBufferedBody = 1 << 20

const defaultClientTimeout = 30 * time.Second

// Routes maps module path segments to backend ports on loopback.
type Routes map[string]int

// DefaultRoutes returns the built-in module route table.
func DefaultRoutes() Routes {
	return Routes{
		"prototype": 3001,
		"frontend":  3002,
		"dbml":      3003,
		"tests":     3004,
	}
}

// StatusReporter is the process-state view the gateway exposes on /health.
type StatusReporter interface {
	AllStatuses() map[string]string
}

type Gateway struct {
	routes Routes
	sup    StatusReporter
	client *http.Client
	logger *slog.Logger
}

// New builds a gateway over the given route table. sup may be nil; /health
// then reports the gateway alone. A single pooled client serves all proxied
// requests, with redirects passed through to the caller untouched.
func New(routes Routes, sup StatusReporter, clientTimeout time.Duration, lg *slog.Logger) *Gateway {
	if clientTimeout <= 0 {
		clientTimeout = defaultClientTimeout
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &Gateway{
		routes: routes,
		sup:    sup,
		logger: lg,
		client: &http.Client{
			Timeout: clientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Close releases pooled backend connections.
func (g *Gateway) Close() { g.client.CloseIdleConnections() }

// ResolveTarget maps a module segment plus remainder path and raw query to
// the backend URL. Unknown modules yield a 404 ProxyError.
func (g *Gateway) ResolveTarget(module, path, rawQuery string) (string, error) {
	port, ok := g.routes[module]
	if !ok {
		return "", errUnknownModule(module)
	}
	target := fmt.Sprintf("http://127.0.0.1:%d/%s", port, strings.TrimPrefix(path, "/"))
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target, nil
}

// Hop-by-hop headers are connection-scoped and must not be forwarded in
// either direction.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// filterHeaders copies h minus hop-by-hop headers. Also strips Host, which
// the outbound request carries separately.
func filterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		lk := strings.ToLower(k)
		if _, drop := hopByHop[lk]; drop {
			continue
		}
		if lk == "host" {
			continue
		}
		for _, v := range vv {
			out.Add(k, v)
		}
	}
	return out
}

// ProxyHTTP forwards the request on c to the module's backend and relays the
// response. All backend status codes pass through verbatim, including errors.
func (g *Gateway) ProxyHTTP(c *gin.Context, user, project, module, path string) {
	start := time.Now()

	target, err := g.ResolveTarget(module, path, c.Request.URL.RawQuery)
	if err != nil {
		g.writeProxyError(c, module, err, start)
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		g.writeProxyError(c, module, errBadGateway(module), start)
		return
	}
	req.Header = filterHeaders(c.Request.Header)
	req.Host = fmt.Sprintf("127.0.0.1:%d", g.routes[module])
	req.Header.Set("X-Forwarded-For", clientAddr(c.Request))
	req.Header.Set("X-Forwarded-Proto", requestScheme(c.Request))
	req.Header.Set("X-Devlabo-User", user)
	req.Header.Set("X-Devlabo-Project", project)
	if cl := c.Request.ContentLength; cl >= 0 {
		req.ContentLength = cl
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.writeProxyError(c, module, classifyDialError(module, err), start)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	hdr := c.Writer.Header()
	for k, vv := range filterHeaders(resp.Header) {
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	if resp.ContentLength >= 0 && resp.ContentLength <= maxBufferedBody {
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody+1))
		if rerr == nil {
			_, _ = c.Writer.Write(body)
		}
	} else {
		_, _ = io.Copy(c.Writer, resp.Body)
	}

	metrics.ObserveProxy(module, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
}

// classifyDialError turns a transport failure into the proxy error the
// client sees: timeouts become 504, everything else 502.
func classifyDialError(module string, err error) *ProxyError {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errGatewayTimeout(module)
	}
	return errBadGateway(module)
}

func (g *Gateway) writeProxyError(c *gin.Context, module string, err error, start time.Time) {
	var pe *ProxyError
	if !errors.As(err, &pe) {
		pe = &ProxyError{StatusCode: http.StatusBadGateway, Module: module, Msg: err.Error()}
	}
	g.logger.Warn("proxy error", "module", module, "status", pe.StatusCode, "error", pe.Msg)
	c.JSON(pe.StatusCode, gin.H{"error": pe.Msg})
	metrics.ObserveProxy(module, strconv.Itoa(pe.StatusCode), time.Since(start).Seconds())
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
