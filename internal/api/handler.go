// Package api exposes the engine facade over HTTP and pushes bus events to
// websocket clients.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"signal-trader/internal/engine"
	"signal-trader/internal/events"
	"signal-trader/pkg/logging"
)

// Server wires HTTP endpoints around the engine facade and the event bus.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	JWTSecret string
	Meta      SystemMeta

	limiters *ipLimiters
	log      logrus.FieldLogger
}

// SystemMeta describes runtime status exposed on /health.
type SystemMeta struct {
	DryRun      bool     `json:"dryRun"`
	Symbols     []string `json:"symbols"`
	UseMockFeed bool     `json:"useMockFeed"`
	Version     string   `json:"version"`
}

func NewServer(svc engine.Service, bus *events.Bus, meta SystemMeta, jwtSecret string, log logrus.FieldLogger) *Server {
	log = logging.OrDiscard(log).WithField("component", "api")
	r := gin.New()

	s := &Server{
		Router:    r,
		Engine:    svc,
		Bus:       bus,
		JWTSecret: jwtSecret,
		Meta:      meta,
		limiters:  newIPLimiters(20, 50),
		log:       log,
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(s.limiters, log))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))

	// Long-lived; kept outside the request timeout.
	api.GET("/ws", s.websocket)

	protected := api.Group("")
	protected.Use(TimeoutMiddleware(30 * time.Second))
	{
		protected.POST("/exchanges/connect", s.connectExchange)
		protected.GET("/exchanges/:exchange/balance", s.getBalance)
		protected.GET("/exchanges/:exchange/positions", s.getPositions)
		protected.POST("/orders", s.placeOrder)

		protected.GET("/autotrading/config", s.getAutoTradingConfig)
		protected.PUT("/autotrading/config", s.updateAutoTradingConfig)
		protected.POST("/autotrading/toggle", s.toggleAutoTrading)
		protected.GET("/autotrading/stats", s.getTradingStats)
		protected.GET("/autotrading/trades", s.getTradeHistory)
		protected.GET("/autotrading/open", s.getOpenTrades)
		protected.POST("/autotrading/signal", s.processSignal)
		protected.POST("/autotrading/manual", s.executeManualTrade)
		protected.POST("/autotrading/close/:symbol", s.closePosition)

		protected.POST("/signals", s.ingestSignal)
		protected.POST("/signals/score", s.scoreSignal)
		protected.GET("/signals/:symbol", s.latestSignal)

		protected.GET("/metrics", s.getMetrics)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "system": s.Meta})
}

// StartCleanup resets the per-IP limiters periodically until ctx ends.
func (s *Server) StartCleanup(ctx context.Context) {
	go s.limiters.reset(ctx, 5*time.Minute)
}
