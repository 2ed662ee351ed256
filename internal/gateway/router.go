package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devlabo/sandboxd/internal/history"
	"github.com/devlabo/sandboxd/internal/metrics"
	"github.com/devlabo/sandboxd/internal/pathscope"
	"github.com/devlabo/sandboxd/internal/workspace"
)

const maxFileUpload = 32 << 20

// Router mounts the gateway's HTTP surface:
//
//	GET  /health                                    gateway + process status
//	GET  /metrics                                   Prometheus exposition
//	GET  /history                                   recent lifecycle events
//	POST /processes/{name}/restart                  explicit process restart
//	ANY  /connect/{user}/{project}/{module}[/path]  HTTP and WebSocket proxy
//	GET  /files/{scope}                             list scope files
//	GET  /files/{scope}/{path}                      read file
//	PUT  /files/{scope}/{path}                      write file
//	DELETE /files/{scope}/{path}                    delete file
//	POST /files/{scope}/rename                      rename within scope
//	POST /exec/{scope}                              run shell command in scope
//
// The files and exec routes are mounted only when a workspace accessor is
// provided; history and restart routes only when wired via WithHistory and
// WithProcesses.
type Router struct {
	gw      *Gateway
	files   workspace.Accessor
	history history.Reader
	procs   ProcessManager
}

// ProcessManager is the control surface for explicit process restarts.
type ProcessManager interface {
	Restart(name string) bool
}

func NewRouter(gw *Gateway, files workspace.Accessor) *Router {
	return &Router{gw: gw, files: files}
}

// WithHistory mounts GET /history serving recent lifecycle events from rd.
func (r *Router) WithHistory(rd history.Reader) *Router {
	r.history = rd
	return r
}

// WithProcesses mounts POST /processes/{name}/restart backed by pm.
func (r *Router) WithProcesses(pm ProcessManager) *Router {
	r.procs = pm
	return r
}

// Handler returns an http.Handler that can be mounted in any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/health", r.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	connect := g.Group("/connect")
	connect.Any("/:user/:project/:module", r.handleConnect)
	connect.Any("/:user/:project/:module/*path", r.handleConnect)

	if r.history != nil {
		g.GET("/history", r.handleHistory)
	}
	if r.procs != nil {
		g.POST("/processes/:name/restart", r.handleRestart)
	}

	if r.files != nil {
		g.GET("/files/:scope", r.handleListFiles)
		g.GET("/files/:scope/*path", r.handleReadFile)
		g.PUT("/files/:scope/*path", r.handleWriteFile)
		g.DELETE("/files/:scope/*path", r.handleDeleteFile)
		g.POST("/files/:scope/rename", r.handleRenameFile)
		g.POST("/exec/:scope", r.handleExec)
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealth(c *gin.Context) {
	resp := gin.H{"gateway": "ok"}
	if r.gw.sup != nil {
		resp["processes"] = r.gw.sup.AllStatuses()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleConnect(c *gin.Context) {
	user := c.Param("user")
	project := c.Param("project")
	module := c.Param("module")
	path := strings.TrimPrefix(c.Param("path"), "/")

	if isWebSocketUpgrade(c.Request) {
		r.gw.ProxyWebSocket(c.Writer, c.Request, user, project, module, path)
		return
	}
	r.gw.ProxyHTTP(c, user, project, module, path)
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Param("name")
	if r.procs.Restart(name) {
		c.JSON(http.StatusOK, okResp{OK: true})
		return
	}
	c.JSON(http.StatusInternalServerError, errorResp{Error: fmt.Sprintf("restart of %q failed", name)})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := r.history.Recent(c.Request.Context(), c.Query("name"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- files API ---

func writeFileError(c *gin.Context, err error) {
	var se *pathscope.SecurityError
	switch {
	case errors.As(err, &se):
		c.JSON(http.StatusForbidden, errorResp{Error: se.Error()})
	case errors.Is(err, workspace.ErrReadOnlyScope):
		c.JSON(http.StatusForbidden, errorResp{Error: err.Error()})
	case errors.Is(err, workspace.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleListFiles(c *gin.Context) {
	files, err := r.files.List(c.Param("scope"))
	if err != nil {
		writeFileError(c, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (r *Router) handleReadFile(c *gin.Context) {
	data, err := r.files.Read(c.Param("scope"), strings.TrimPrefix(c.Param("path"), "/"))
	if err != nil {
		writeFileError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (r *Router) handleWriteFile(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFileUpload))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	if err := r.files.Write(c.Param("scope"), strings.TrimPrefix(c.Param("path"), "/"), body); err != nil {
		writeFileError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDeleteFile(c *gin.Context) {
	if err := r.files.Delete(c.Param("scope"), strings.TrimPrefix(c.Param("path"), "/")); err != nil {
		writeFileError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRenameFile(c *gin.Context) {
	var req struct {
		OldPath string `json:"old_path" binding:"required"`
		NewPath string `json:"new_path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.files.Rename(c.Param("scope"), req.OldPath, req.NewPath); err != nil {
		writeFileError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleExec(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	out, err := r.files.Exec(c.Request.Context(), c.Param("scope"), req.Command)
	if err != nil {
		var se *pathscope.SecurityError
		if errors.As(err, &se) {
			c.JSON(http.StatusForbidden, errorResp{Error: se.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "output": out})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out})
}
