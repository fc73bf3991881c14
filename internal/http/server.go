package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/internal/inbox"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
	"moff.io/wallet-bridge/pkg/log/middleware"
)

// Bridge is the part of *bridge.Bridge the admin API drives.
type Bridge interface {
	Sessions() []bridge.Session
	ConnectionState() bridge.ConnectionState
	Connect(ctx context.Context, uri string) error
	Disconnect(ctx context.Context, peerID string) error
	Reconnect(ctx context.Context, peerID string) error
}

// Inbox is the part of *inbox.Inbox the admin API drives.
type Inbox interface {
	Proposals() []inbox.Proposal
	Decide(id string, approve bool) error
	Actions() []*bridge.Action
	Fulfill(ctx context.Context, id string, value interface{}) error
	Reject(ctx context.Context, id string) error
	Failures() []inbox.Failure
}

type Server struct {
	bridge Bridge
	inbox  Inbox
	engine *gin.Engine
	srv    *http.Server
}

func NewServer(addr string, requestTimeout time.Duration, b Bridge, in Inbox, gatherer prometheus.Gatherer) *Server {
	s := &Server{bridge: b, inbox: in}
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(middleware.SkipPaths("/metrics")), middleware.TimeoutHTTP(requestTimeout))

	router.GET("/connection", s.connection)
	router.GET("/sessions", s.sessions)
	router.POST("/sessions", s.connect)
	router.DELETE("/sessions/:peer", s.disconnect)
	router.POST("/sessions/:peer/reconnect", s.reconnect)

	router.GET("/proposals", s.proposals)
	router.POST("/proposals/:id/approve", s.decide(true))
	router.POST("/proposals/:id/decline", s.decide(false))

	router.GET("/actions", s.actions)
	router.POST("/actions/:id/fulfill", s.fulfill)
	router.POST("/actions/:id/reject", s.reject)
	router.GET("/failures", s.failures)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.engine = router
	s.srv = &http.Server{Addr: addr, Handler: router}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go func() {
		log.Infof("admin http server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(errors.WrapAndReport(err, "admin http server"))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdown); err != nil {
			log.Warnf("admin http server shutdown: %v", err)
		}
	}()
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func fail(ctx *gin.Context, err error) {
	status := statusOf(err)
	ctx.JSON(status, gin.H{"code": status * 10, "msg": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, inbox.ErrNotFound), errors.Is(err, bridge.ErrConnectionInvalid):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrInvalidURL), errors.Is(err, bridge.ErrReplyConstruction):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) connection(ctx *gin.Context) {
	ok(ctx, gin.H{
		"state":    s.bridge.ConnectionState(),
		"sessions": len(s.bridge.Sessions()),
	})
}

func (s *Server) sessions(ctx *gin.Context) {
	ok(ctx, s.bridge.Sessions())
}

type connectRequest struct {
	URI string `json:"uri" binding:"required"`
}

func (s *Server) connect(ctx *gin.Context) {
	var req connectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 4000, "msg": err.Error()})
		return
	}
	if err := s.bridge.Connect(ctx.Request.Context(), req.URI); err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"code": 0})
}

func (s *Server) disconnect(ctx *gin.Context) {
	if err := s.bridge.Disconnect(ctx.Request.Context(), ctx.Param("peer")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) reconnect(ctx *gin.Context) {
	if err := s.bridge.Reconnect(ctx.Request.Context(), ctx.Param("peer")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) proposals(ctx *gin.Context) {
	ok(ctx, s.inbox.Proposals())
}

func (s *Server) decide(approve bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := s.inbox.Decide(ctx.Param("id"), approve); err != nil {
			fail(ctx, err)
			return
		}
		ok(ctx, nil)
	}
}

func (s *Server) actions(ctx *gin.Context) {
	ok(ctx, s.inbox.Actions())
}

type fulfillRequest struct {
	Result json.RawMessage `json:"result" binding:"required"`
}

func (s *Server) fulfill(ctx *gin.Context) {
	var req fulfillRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 4000, "msg": err.Error()})
		return
	}
	if err := s.inbox.Fulfill(ctx.Request.Context(), ctx.Param("id"), req.Result); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) reject(ctx *gin.Context) {
	if err := s.inbox.Reject(ctx.Request.Context(), ctx.Param("id")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) failures(ctx *gin.Context) {
	ok(ctx, s.inbox.Failures())
}
