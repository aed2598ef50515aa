package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/loykin/pwstudio/internal/apperr"
	"github.com/loykin/pwstudio/internal/history"
	"github.com/loykin/pwstudio/internal/recorder"
	"github.com/loykin/pwstudio/internal/runner"
	"github.com/loykin/pwstudio/internal/specstore"
)

// Recorder is the recording surface the router drives.
type Recorder interface {
	Start(url string, onError recorder.ErrorFunc) <-chan error
	Stop() string
	Peek() (string, bool)
	Status() recorder.Status
}

// Runner executes test scripts.
type Runner interface {
	Execute(ctx context.Context, body string) (runner.Result, error)
}

type Options struct {
	BasePath    string
	CORSOrigins []string
	History     history.Reader // optional; enables GET /history
	Metrics     http.Handler   // optional; served at /metrics outside basePath
	Logger      *slog.Logger
}

// Router provides embeddable HTTP handlers for the recorder, the runner and
// saved specs. Endpoints, relative to basePath:
//
//	POST   /start                 body: {"url": ...}
//	POST   /stop                  -> {"code": ...}
//	POST   /code                  -> {"code": string|null}
//	GET    /status
//	POST   /run                   body: {"code": ...} -> {"output": ...}
//	POST   /clean-temp
//	GET    /saved-specs
//	GET    /saved-spec/:filename
//	POST   /save-spec             body: {"filename": ..., "code": ...}
//	DELETE /saved-spec/:filename
//	GET    /history?limit=N
type Router struct {
	rec      Recorder
	run      Runner
	store    *specstore.Store
	opts     Options
	basePath string
	log      *slog.Logger
}

// NewRouter constructs a new Router. basePath "/api" results in /api/start, /api/run, ...
func NewRouter(rec Recorder, run Runner, store *specstore.Store, opts Options) *Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Router{rec: rec, run: run, store: store, opts: opts, basePath: sanitizeBase(opts.BasePath), log: log.With("component", "http")}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), cors.New(corsConfig(r.opts.CORSOrigins, r.log)), requestLog(r.log))
	if r.opts.Metrics != nil {
		g.GET("/metrics", gin.WrapH(r.opts.Metrics))
	}
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/code", r.handleCode)
	group.GET("/status", r.handleStatus)
	group.POST("/run", r.handleRun)
	group.POST("/clean-temp", r.handleCleanTemp)
	group.GET("/saved-specs", r.handleListSpecs)
	group.GET("/saved-spec/:filename", r.handleReadSpec)
	group.POST("/save-spec", r.handleSaveSpec)
	group.DELETE("/saved-spec/:filename", r.handleDeleteSpec)
	group.GET("/history", r.handleHistory)
	return g
}

// NewServer wraps h in an http.Server for addr. There is no write timeout:
// /run holds the connection for the whole test run.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Output  string `json:"output,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type codeResp struct {
	Code *string `json:"code"`
}

type startReq struct {
	URL string `json:"url"`
}

type runReq struct {
	Code *string `json:"code"`
}

type runResp struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
	Passed   bool   `json:"passed"`
	Reused   bool   `json:"reused"`
}

type saveReq struct {
	Filename string  `json:"filename"`
	Code     *string `json:"code"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.URL == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "url required"})
		return
	}
	onError := func(msg string) { r.log.Warn("recorder diagnostic", "url", req.URL, "msg", msg) }
	err := <-r.rec.Start(req.URL, onError)
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	case apperr.IsKind(err, apperr.KindAlreadyRecording):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "failed to start recorder", Details: err.Error()})
	}
}

func (r *Router) handleStop(c *gin.Context) {
	code := r.rec.Stop()
	writeJSON(c, http.StatusOK, codeResp{Code: &code})
}

func (r *Router) handleCode(c *gin.Context) {
	var resp codeResp
	if code, ok := r.rec.Peek(); ok {
		resp.Code = &code
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.rec.Status())
}

func (r *Router) handleRun(c *gin.Context) {
	var req runReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "code required"})
		return
	}
	res, err := r.run.Execute(c.Request.Context(), runner.CleanScript(*req.Code))
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, runResp{Output: res.Report, ExitCode: res.ExitCode, Passed: res.Passed(), Reused: res.Reused})
	case apperr.IsKind(err, apperr.KindExecutionTimeout):
		writeJSON(c, http.StatusGatewayTimeout, errorResp{Error: err.Error(), Output: res.Report})
	default:
		r.log.Error("test execution failed", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "test execution failed", Details: err.Error()})
	}
}

func (r *Router) handleCleanTemp(c *gin.Context) {
	n, err := r.store.CleanScratch()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "failed to clean scratch files", Details: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "removed": n})
}

func (r *Router) handleListSpecs(c *gin.Context) {
	names, err := r.store.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "failed to list specs", Details: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"specs": names})
}

func (r *Router) handleReadSpec(c *gin.Context) {
	code, err := r.store.Read(c.Param("filename"))
	if err != nil {
		r.writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"code": code})
}

func (r *Router) handleSaveSpec(c *gin.Context) {
	var req saveReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "filename and code required"})
		return
	}
	if err := r.store.Save(req.Filename, *req.Code); err != nil {
		r.writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDeleteSpec(c *gin.Context) {
	if err := r.store.Delete(c.Param("filename")); err != nil {
		r.writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) writeStoreErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, specstore.ErrInvalidName):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, specstore.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "spec storage failed", Details: err.Error()})
	}
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.opts.History == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := r.opts.History.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "failed to read history", Details: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}
