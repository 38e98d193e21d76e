package gate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/logger"
)

// StatusFunc supplies the read-only run summary served while the gate
// waits.
type StatusFunc func() any

// HTTPSource serves a small approval API while the run is suspended:
//
//	GET  /api/v1/runs/:id           run status (authenticated)
//	POST /api/v1/runs/:id/decision  {"decision": "approved"|"rejected", "note": "..."}
//
// The listener lives only as long as the wait; the first accepted decision
// resolves it.
type HTTPSource struct {
	cfg    config.CheckpointConfig
	runID  string
	status StatusFunc
	log    *logger.Logger

	mu      sync.Mutex
	decided chan Decision
	done    bool
	ready   chan string
}

// NewHTTPSource creates the source; nothing listens until Await.
func NewHTTPSource(cfg config.CheckpointConfig, runID string, status StatusFunc, log *logger.Logger) *HTTPSource {
	return &HTTPSource{
		cfg:     cfg,
		runID:   runID,
		status:  status,
		log:     log.WithComponent("gate.http"),
		decided: make(chan Decision, 1),
		ready:   make(chan string, 1),
	}
}

// Ready yields the bound listener address once Await is serving. Useful
// when Listen was configured with port 0.
func (s *HTTPSource) Ready() <-chan string { return s.ready }

// Await serves the approval API until a decision is posted or ctx ends.
func (s *HTTPSource) Await(ctx context.Context) (Decision, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.register(engine)

	h2s := &http2.Server{IdleTimeout: 120 * time.Second}
	srv := &http.Server{
		Handler:           h2c.NewHandler(engine, h2s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return Decision{}, fmt.Errorf("bind approval listener %s: %w", s.cfg.Listen, err)
	}
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("approval listener failed", logger.Fields("error", err.Error()))
		}
	}()
	s.log.Info("awaiting reviewer decision", logger.Fields(
		"run_id", s.runID, "addr", listener.Addr().String(),
	))
	s.ready <- listener.Addr().String()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case d := <-s.decided:
		return d, nil
	}
}

// Addr is the configured listen address.
func (s *HTTPSource) Addr() string { return s.cfg.Listen }

func (s *HTTPSource) register(engine *gin.Engine) {
	api := engine.Group("/api/v1", s.authenticate)
	api.GET("/runs/:id", s.handleStatus)
	api.POST("/runs/:id/decision", s.handleDecision)
}

// authenticate accepts either a signed reviewer JWT or the static reviewer
// token, whichever the deployment configured.
func (s *HTTPSource) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	if s.cfg.JWTSecret != "" && s.verifyJWT(token) {
		c.Next()
		return
	}
	if s.cfg.ReviewerTokenHash != "" &&
		bcrypt.CompareHashAndPassword([]byte(s.cfg.ReviewerTokenHash), []byte(token)) == nil {
		c.Next()
		return
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
}

func (s *HTTPSource) verifyJWT(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && parsed.Valid
}

func (s *HTTPSource) handleStatus(c *gin.Context) {
	if c.Param("id") != s.runID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":   s.runID,
		"decision": "pending",
		"status":   s.status(),
	})
}

func (s *HTTPSource) handleDecision(c *gin.Context) {
	if c.Param("id") != s.runID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}

	var body struct {
		Decision string `json:"decision" binding:"required"`
		Note     string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision, err := ParseDecision(body.Decision)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "decision already recorded"})
		return
	}
	s.done = true
	s.decided <- Decision{Decision: decision, Note: body.Note}
	s.mu.Unlock()

	s.log.Info("decision received", logger.Fields(
		"run_id", s.runID, "decision", string(decision),
	))
	c.JSON(http.StatusOK, gin.H{"run_id": s.runID, "decision": string(decision)})
}
