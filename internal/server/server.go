package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sift/internal/agent"
	"sift/internal/auth"
	"sift/internal/ingest"
	"sift/internal/logging"
)

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Debug          bool
}

// Server exposes the decision engine over HTTP: JSON request/response,
// SSE streaming and a websocket channel, plus knowledge-base management.
type Server struct {
	config  Config
	engine  *agent.Engine
	users   *auth.Registry
	indexer *ingest.Indexer
	logger  logging.Logger

	router     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// Uploaded document name -> stored chunk IDs, for listing and removal.
	docsMu sync.RWMutex
	docs   map[string][]string
}

// New builds the server and its routes. promRegistry may be nil to disable
// the metrics endpoint, indexer may be nil to disable document management.
func New(config Config, engine *agent.Engine, users *auth.Registry, indexer *ingest.Indexer, promRegistry *prometheus.Registry, logger logging.Logger) *Server {
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.Port == 0 {
		config.Port = 8000
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		// Streaming responses outlive a typical write timeout.
		config.WriteTimeout = 5 * time.Minute
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:  config,
		engine:  engine,
		users:   users,
		indexer: indexer,
		logger:  logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		docs: make(map[string][]string),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", s.handleHealth)
	if promRegistry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	}

	router.POST("/auth/login", s.handleLogin)

	authed := router.Group("/", s.requireAuth())
	authed.GET("/auth/me", s.handleMe)
	authed.POST("/query", s.handleQuery)
	authed.POST("/query/stream", s.handleQueryStream)
	authed.GET("/query/ws", s.handleQueryWS)

	if indexer != nil {
		authed.GET("/kb/documents", s.handleListDocuments)
		authed.POST("/kb/documents", s.handleUploadDocument)
		authed.DELETE("/kb/documents/:name", s.handleDeleteDocument)
	}

	s.router = router
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
