// Package api provides the HTTP server for the chatrelay service: the
// WhatsApp webhook ingress (verification handshake and message delivery),
// health endpoints, Prometheus metrics and a small management surface.
//
// The delivery handler acknowledges every POST with success before any
// processing happens; pipeline runs are scheduled fire-and-forget so the
// provider never re-delivers an event because of an internal failure.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/loopera/chatrelay/internal/api/middleware"
	"github.com/loopera/chatrelay/internal/config"
	"github.com/loopera/chatrelay/internal/logging"
	"github.com/loopera/chatrelay/internal/session"
	"github.com/loopera/chatrelay/internal/wa"
)

// maxWebhookBodyBytes caps inbound webhook payload reads.
const maxWebhookBodyBytes = 1 << 20 // 1MiB

// EventDispatcher schedules pipeline runs without a return channel.
type EventDispatcher interface {
	Dispatch(msg *wa.InboundMessage)
}

// Server is the chatrelay HTTP server.
type Server struct {
	engine     *gin.Engine
	server     *http.Server
	cfg        *config.Config
	dispatcher EventDispatcher
	store      session.Store
	version    string
}

// NewServer constructs the HTTP server with all routes and middleware wired.
func NewServer(cfg *config.Config, dispatcher EventDispatcher, store session.Store, version string) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		logging.GinLogrusRecovery(),
		logging.GinLogrusLogger(),
		middleware.MetricsMiddleware(),
		middleware.RequestDecompressionMiddleware(),
	)

	s := &Server{
		engine:     engine,
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		version:    version,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.GetPort()),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", middleware.MetricsHandler())

	for _, path := range []string{"/webhook", "/webhook/whatsapp"} {
		s.engine.GET(path, s.handleVerification)
		s.engine.POST(path, s.handleDelivery)
	}

	if s.cfg.ManagementKey != "" {
		s.engine.DELETE("/v0/sessions/:user", s.requireManagementKey, s.handleClearSession)
	}
}

// Handler exposes the underlying engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	log.WithField("addr", s.server.Addr).Info("chatrelay server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "chatrelay",
		"version": s.version,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleVerification answers the provider's subscription handshake: echo the
// challenge as plain text when the mode is "subscribe" and the token matches
// the configured secret.
func (s *Server) handleVerification(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && tokenMatches(token, s.cfg.WhatsApp.VerifyToken) {
		log.Info("webhook verified")
		c.String(http.StatusOK, "%s", challenge)
		return
	}
	log.Warn("webhook verification failed")
	c.String(http.StatusForbidden, "Verification failed")
}

// handleDelivery acknowledges every delivery with success, then schedules the
// pipeline when the payload resolves to a message. Status callbacks and
// malformed bodies are acknowledged and ignored; answering anything but
// success would only trigger provider redelivery of an event we cannot
// process any better the second time.
func (s *Server) handleDelivery(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		log.WithError(err).Warn("webhook body read failed")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	msg, ok := wa.ParseWebhook(body)
	if !ok {
		log.Debug("webhook without message, ignoring")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	log.WithFields(log.Fields{"user": msg.From, "type": msg.Type}).Info("message received")
	s.dispatcher.Dispatch(msg)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requireManagementKey(c *gin.Context) {
	key := c.GetHeader("X-Management-Key")
	if !tokenMatches(key, s.cfg.ManagementKey) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
		return
	}
	c.Next()
}

// handleClearSession is the administrative session wipe.
func (s *Server) handleClearSession(c *gin.Context) {
	user := c.Param("user")
	if err := s.store.Clear(c.Request.Context(), user); err != nil {
		log.WithError(err).WithField("user", user).Error("session clear failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session clear failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "user": user})
}

func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
