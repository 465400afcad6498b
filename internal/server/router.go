package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devlauncher/internal/metrics"
	"github.com/loykin/devlauncher/internal/service"
	"github.com/loykin/devlauncher/internal/supervisor"
)

// Controller is the subset of the supervisor the HTTP API drives.
type Controller interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	RestartAll(ctx context.Context) error
	ForceKillAll(ctx context.Context)
	Status() []service.Status
	StatusOf(name string) (service.Status, error)
}

// Router provides embeddable HTTP handlers for controlling services.
// Endpoints:
//
//	GET  {basePath}/status                     all services
//	GET  {basePath}/services/:name             one service
//	POST {basePath}/services/:name/start
//	POST {basePath}/services/:name/stop
//	POST {basePath}/services/:name/restart
//	POST {basePath}/start | /stop | /restart   every service
//	POST {basePath}/force-kill-all
//	GET  /metrics                              prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(ctl Controller, basePath string) *Router {
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath), metrics: metrics.Handler()}
}

// WithMetricsHandler replaces the default prometheus handler.
func (r *Router) WithMetricsHandler(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(r.metrics))
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/services/:name", r.handleService)
	group.POST("/services/:name/:action", r.handleServiceAction)
	group.POST("/start", r.bulk(r.ctl.StartAll))
	group.POST("/stop", r.bulk(r.ctl.StopAll))
	group.POST("/restart", r.bulk(r.ctl.RestartAll))
	group.POST("/force-kill-all", r.handleForceKill)
	return g
}

// NewServer listens on addr and serves the router in the background. Bind
// errors are returned; later serve errors are logged.
func NewServer(addr, basePath string, ctl Controller, log *slog.Logger) (*http.Server, error) {
	// route dumps would interleave with the service log stream
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           NewRouter(ctl, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// bulk stops wait a grace period per service
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "addr", srv.Addr, "error", err)
		}
	}()
	return srv, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Services []service.Status `json:"services"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{Services: r.ctl.Status()})
}

func (r *Router) handleService(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	st, err := r.ctl.StatusOf(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleServiceAction(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	var op func(context.Context, string) error
	switch c.Param("action") {
	case "start":
		op = r.ctl.Start
	case "stop":
		op = r.ctl.Stop
	case "restart":
		op = r.ctl.Restart
	default:
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown action " + c.Param("action")})
		return
	}
	if err := op(lifecycleContext(c), name); err != nil {
		writeError(c, err)
		return
	}
	st, err := r.ctl.StatusOf(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) bulk(op func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(lifecycleContext(c)); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, statusResp{Services: r.ctl.Status()})
	}
}

func (r *Router) handleForceKill(c *gin.Context) {
	r.ctl.ForceKillAll(lifecycleContext(c))
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// lifecycleContext detaches an operation from its request. A client that
// gives up must not turn a graceful stop into a kill or leave a restart
// half done.
func lifecycleContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
}

func statusCode(err error) int {
	var spawnErr *supervisor.SpawnError
	switch {
	case errors.Is(err, supervisor.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &spawnErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
