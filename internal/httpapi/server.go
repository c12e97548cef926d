// Package httpapi serves the assistant over HTTP: the same conversation as
// the chat transport, plus plugin listing, sync triggering and stats.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dkotama/firefly-telegram-assistant/internal/daemon"
	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
)

const (
	shutdownTimeout = 5 * time.Second
	userIDKey       = "userID"
	maxMessageLen   = 4096
)

// Handler answers one user message.
type Handler interface {
	HandleMessage(ctx context.Context, userID, text string) ([]api.OutboundMessage, error)
}

// Pipeline is the running sync and write pipeline.
type Pipeline interface {
	SyncNow() bool
	Status() daemon.Status
}

// Counter reports the number of stored records.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// CatalogStats reports the vocabulary sizes.
type CatalogStats interface {
	Stats() catalog.Stats
}

// Deps are the components the API exposes.
type Deps struct {
	Handler  Handler
	Pipeline Pipeline
	Plugins  []plugins.Info
	Store    Counter
	Catalog  CatalogStats
}

// Config holds configuration for the HTTP server.
type Config struct {
	Addr      string
	JWTSecret string
}

// Response is the envelope of every JSON answer. Code 0 means success.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// MessageRequest is the body of POST /api/v1/messages.
type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// Stats is the payload of GET /api/v1/stats.
type Stats struct {
	Records  int            `json:"records"`
	Catalog  catalog.Stats  `json:"catalog"`
	Pipeline *daemon.Status `json:"pipeline,omitempty"`
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	cfg    Config
	engine *gin.Engine
	logger *slog.Logger
}

// New builds the server and its routes.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("HTTP_JWT_SECRET is required")
	}
	if deps.Handler == nil {
		return nil, errors.New("message handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{deps: deps, cfg: cfg, engine: gin.New(), logger: logger}
	s.engine.Use(gin.Recovery(), s.logRequests())
	s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := s.engine.Group("/api/v1")
	public.GET("/plugins", s.listPlugins)

	protected := s.engine.Group("/api/v1")
	protected.Use(s.auth())
	{
		protected.POST("/messages", s.postMessage)
		protected.POST("/sync", s.triggerSync)
		protected.GET("/stats", s.stats)
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http api: %w", err)
	}
	s.logger.Info("http api stopped")
	return ctx.Err()
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Code: 0, Msg: "success", Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Code: -1, Msg: msg})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// auth requires a bearer token signed with the configured secret. The
// token subject becomes the conversation's user id.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			fail(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			fail(c, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		subject, err := ParseToken(s.cfg.JWTSecret, parts[1])
		if err != nil {
			fail(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		c.Set(userIDKey, subject)
		c.Next()
	}
}

func (s *Server) listPlugins(c *gin.Context) {
	success(c, http.StatusOK, s.deps.Plugins)
}

func (s *Server) postMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.Text) > maxMessageLen {
		fail(c, http.StatusRequestEntityTooLarge, "text is too long")
		return
	}

	userID := c.GetString(userIDKey)
	msgs, err := s.deps.Handler.HandleMessage(c.Request.Context(), userID, req.Text)
	if err != nil {
		s.logger.Error("failed to handle message", "user", userID, "error", err)
		fail(c, http.StatusInternalServerError, "failed to handle message")
		return
	}
	if msgs == nil {
		msgs = []api.OutboundMessage{}
	}
	success(c, http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) triggerSync(c *gin.Context) {
	if s.deps.Pipeline == nil || !s.deps.Pipeline.SyncNow() {
		fail(c, http.StatusConflict, "no running reader supports on-demand sync")
		return
	}
	success(c, http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) stats(c *gin.Context) {
	var out Stats
	if s.deps.Store != nil {
		n, err := s.deps.Store.Count(c.Request.Context())
		if err != nil {
			s.logger.Error("failed to count records", "error", err)
			fail(c, http.StatusInternalServerError, "failed to count records")
			return
		}
		out.Records = n
	}
	if s.deps.Catalog != nil {
		out.Catalog = s.deps.Catalog.Stats()
	}
	if s.deps.Pipeline != nil {
		st := s.deps.Pipeline.Status()
		out.Pipeline = &st
	}
	success(c, http.StatusOK, out)
}

// IssueToken signs an HS256 token for userID valid for ttl. A zero ttl
// issues a token without expiry.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   "firefly-assistant",
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a token and returns its subject.
func ParseToken(secret, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
