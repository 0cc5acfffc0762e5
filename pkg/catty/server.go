package catty

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/albertbausili/catty/internal/date"
	"github.com/albertbausili/catty/internal/h1"
	"go.uber.org/zap"
)

// Names of the plugins every server starts with.
const (
	PluginDefaultHeaders = "default headers"
	PluginRequestID      = "request id"
	PluginParameters     = "parameters"
)

// Server represents a server instance: the connection engine, a router and
// the plugin pipelines around every handler.
type Server struct {
	config  Config
	router  *Router
	before  *Plugins
	after   *Plugins
	logger  *zap.Logger
	metrics *Metrics
	tracing *tracing
	now     func() time.Time

	mu       sync.Mutex
	engine   *h1.Server
	stopDate func()
}

// New creates a new Server with the provided configuration. A nil router
// gets an empty one.
func New(config Config, router *Router) *Server {
	if err := config.Validate(); err != nil {
		panic(err)
	}
	if router == nil {
		router = NewRouter()
	}

	s := &Server{
		config:  config,
		router:  router,
		before:  NewPlugins(config.Logger),
		after:   NewPlugins(config.Logger),
		logger:  config.Logger,
		metrics: NewMetrics(config.Registerer),
		tracing: newTracing(config.TracerName),
		now:     time.Now,
	}
	s.before.Use(PluginDefaultHeaders, DefaultHeaders(config.ServerName))
	s.before.Use(PluginRequestID, RequestID())
	s.before.Use(PluginParameters, PathParams())
	return s
}

// NewWithDefaults creates a new Server with default configuration.
func NewWithDefaults() *Server {
	return New(DefaultConfig(), nil)
}

// Router returns the server's router.
func (s *Server) Router() *Router {
	return s.router
}

// Use adds or replaces a plugin that runs before the handler.
func (s *Server) Use(name string, plugin Plugin) *Server {
	s.before.Use(name, plugin)
	return s
}

// UseAfter adds or replaces a plugin that runs after the handler.
func (s *Server) UseAfter(name string, plugin Plugin) *Server {
	s.after.Use(name, plugin)
	return s
}

// Plugins returns the before-handler pipeline.
func (s *Server) Plugins() *Plugins {
	return s.before
}

// AfterPlugins returns the after-handler pipeline.
func (s *Server) AfterPlugins() *Plugins {
	return s.after
}

// Metrics returns the server metrics, nil when no registerer was configured.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// Start binds the listen address and begins accepting connections. The
// router is frozen from here on.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return errors.New("catty: server already started")
	}

	s.router.seal()
	stopDate := date.StartTicker()

	var observer h1.Observer
	if s.metrics != nil {
		observer = s.metrics
	}
	engine, err := h1.Listen(context.Background(), h1.Config{
		Addr:              s.config.Addr,
		Multicore:         s.config.Multicore,
		NumEventLoop:      s.config.NumEventLoop,
		ReusePort:         s.config.ReusePort,
		WorkerPoolSize:    s.config.WorkerPoolSize,
		InitialBufferSize: s.config.InitialBufferSize,
		MaxRequestBytes:   s.config.MaxRequestBytes,
		ReadTimeout:       s.config.ReadTimeout,
		Logger:            s.logger,
		Observer:          observer,
	}, s.newDispatcher)
	if err != nil {
		stopDate()
		return err
	}

	s.engine = engine
	s.stopDate = stopDate
	s.logger.Info("catty server started",
		zap.String("addr", s.config.Addr),
		zap.Int("routes", len(s.router.Routes())),
		zap.Strings("plugins", s.before.Names()))
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	engine, stopDate := s.engine, s.stopDate
	s.stopDate = nil
	s.mu.Unlock()

	if engine == nil {
		return nil
	}
	err := engine.Stop(ctx)
	if stopDate != nil {
		stopDate()
	}
	return err
}

// Close stops the server without a deadline.
func (s *Server) Close() error {
	return s.Stop(context.Background())
}

// Wait blocks until the engine has stopped.
func (s *Server) Wait() error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return h1.ErrEngineClosed
	}
	return engine.Wait()
}
