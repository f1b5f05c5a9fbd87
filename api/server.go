// Package api serves the monitor over HTTP and pushes live events over a
// websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/models"
	"github.com/SUIXIN531/Monitor/pkg/monitor"
)

// Monitor is the engine surface the API needs.
type Monitor interface {
	Coins(ctx context.Context) ([]monitor.CoinView, error)
	Coin(ctx context.Context, symbol string) (monitor.CoinView, error)
	Track(ctx context.Context, symbol string) error
	Untrack(ctx context.Context, symbol string) error
	Reconnect(ctx context.Context, symbol string) error
	Analyze(ctx context.Context, symbol string, lang models.Language) (models.Analysis, error)
	Tickers(ctx context.Context) (monitor.TickerView, error)
	SetWatchlist(ctx context.Context, symbols []string) ([]string, error)
	Settings(ctx context.Context) (monitor.Settings, error)
	UpdateSettings(ctx context.Context, s monitor.Settings) error
	Alerts(ctx context.Context, symbol string, limit int) ([]models.AlertRecord, error)
}

type Options struct {
	Port        int
	JWTSecret   string
	ReadTimeout time.Duration
}

type Server struct {
	monitor Monitor
	hub     *Hub
	auth    *Authenticator
	logger  *logrus.Logger
	opts    Options
	started time.Time
}

// NewServer builds the API server. Authentication is enabled when
// opts.JWTSecret is set.
func NewServer(m Monitor, hub *Hub, opts Options, logger *logrus.Logger) *Server {
	s := &Server{
		monitor: m,
		hub:     hub,
		logger:  logger,
		opts:    opts,
		started: time.Now(),
	}
	if opts.JWTSecret != "" {
		s.auth = NewAuthenticator(opts.JWTSecret)
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.opts.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on port %d", s.opts.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware())

	router.GET("/api/health", s.handleHealth)

	protected := router.Group("/")
	if s.auth != nil {
		protected.Use(s.auth.Middleware())
	}

	api := protected.Group("/api")
	{
		coins := api.Group("/coins")
		{
			coins.GET("", s.handleCoins)
			coins.GET("/:symbol", s.handleCoin)
			coins.POST("/:symbol", s.handleTrack)
			coins.DELETE("/:symbol", s.handleUntrack)
			coins.POST("/:symbol/reconnect", s.handleReconnect)
			coins.POST("/:symbol/analyze", s.handleAnalyze)
		}
		api.GET("/tickers", s.handleTickers)
		api.PUT("/watchlist", s.handleWatchlist)
		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handlePutSettings)
		api.GET("/alerts", s.handleAlerts)
	}

	if s.hub != nil {
		protected.GET("/ws", s.hub.HandleWebSocket)
	}
	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.hub != nil {
		resp["clients"] = s.hub.Clients()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCoins(c *gin.Context) {
	coins, err := s.monitor.Coins(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coins)
}

func (s *Server) handleCoin(c *gin.Context) {
	coin, err := s.monitor.Coin(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coin)
}

func (s *Server) handleTrack(c *gin.Context) {
	if err := s.monitor.Track(c.Request.Context(), c.Param("symbol")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "tracking"})
}

func (s *Server) handleUntrack(c *gin.Context) {
	if err := s.monitor.Untrack(c.Request.Context(), c.Param("symbol")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReconnect(c *gin.Context) {
	if err := s.monitor.Reconnect(c.Request.Context(), c.Param("symbol")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	lang := models.ParseLanguage(c.DefaultQuery("lang", string(models.LangEnglish)))
	result, err := s.monitor.Analyze(c.Request.Context(), c.Param("symbol"), lang)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTickers(c *gin.Context) {
	view, err := s.monitor.Tickers(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type watchlistRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbols, err := s.monitor.SetWatchlist(c.Request.Context(), req.Symbols)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.monitor.Settings(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req monitor.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.monitor.UpdateSettings(c.Request.Context(), req); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) handleAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}
	alerts, err := s.monitor.Alerts(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if alerts == nil {
		alerts = []models.AlertRecord{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrUnknownSymbol):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrAlreadyTracked):
		status = http.StatusConflict
	case errors.Is(err, monitor.ErrInvalidSettings), errors.Is(err, monitor.ErrEmptySymbol):
		status = http.StatusBadRequest
	case errors.Is(err, monitor.ErrAnalysisDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
