package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/client"
	"github.com/pixperk/zkmutex/pkg/lock"
	"github.com/pixperk/zkmutex/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// reads the holder and queue of a lock root
type StatusReader interface {
	Status(ctx context.Context, root string) (*client.Status, error)
}

// Server exposes metrics, health and, given a StatusReader, lock status
// over HTTP.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	status     StatusReader
	logger     hclog.Logger
}

// status may be nil, the status route then answers 404
func NewServer(httpAddr string, status StatusReader, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		status: status,
		logger: logger,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", s.health)
	router.GET("/v1/locks/status", s.lockStatus)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type contenderResponse struct {
	Node  string `json:"node"`
	Token uint64 `json:"token"`
	Owner string `json:"owner"`
}

type statusResponse struct {
	Root   string              `json:"root"`
	Free   bool                `json:"free"`
	Holder *contenderResponse  `json:"holder,omitempty"`
	Queue  []contenderResponse `json:"queue"`
}

func (s *Server) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /v1/locks/status?root=/locks
func (s *Server) lockStatus(ctx *gin.Context) {
	if s.status == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "lock status is not served here"})
		return
	}

	root := ctx.DefaultQuery("root", lock.DefaultRoot)
	if err := lock.ValidateRoot(root); err != nil {
		ctx.JSON(toHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	status, err := s.status.Status(ctx.Request.Context(), root)
	if err != nil {
		s.logger.Warn("status read failed", "root", root, "error", err)
		ctx.JSON(toHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp := statusResponse{
		Root:  status.Root,
		Free:  status.Holder == nil,
		Queue: make([]contenderResponse, 0, len(status.Queue)),
	}
	if status.Holder != nil {
		h := toContenderResponse(*status.Holder)
		resp.Holder = &h
	}
	for _, c := range status.Queue {
		resp.Queue = append(resp.Queue, toContenderResponse(c))
	}

	ctx.JSON(http.StatusOK, resp)
}

func toContenderResponse(c types.Contender) contenderResponse {
	return contenderResponse{
		Node:  c.Name,
		Token: c.Sequence,
		Owner: c.Owner,
	}
}
