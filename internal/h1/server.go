// Package h1 implements a one-shot HTTP/1.1 connection engine on top of gnet.
// Each accepted connection reads exactly one request, hands the framed bytes
// to a Dispatcher on a worker pool, writes the response and closes.
package h1

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

// DefaultInitialBufferSize is the capacity of a connection's first read buffer.
const DefaultInitialBufferSize = 16 << 10

// DefaultMaxRequestBytes caps the grown read buffer.
const DefaultMaxRequestBytes = 5_000_000

// ErrEngineClosed is returned by Stop and Listen once the engine is gone.
var ErrEngineClosed = errors.New("h1: engine closed")

// Config defines the configuration options for the connection engine.
type Config struct {
	Addr              string
	Multicore         bool
	NumEventLoop      int
	ReusePort         bool
	WorkerPoolSize    int
	InitialBufferSize int
	MaxRequestBytes   int
	ReadTimeout       time.Duration
	Logger            *zap.Logger
	Observer          Observer
}

// Validate normalises zero values and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("h1: address is required")
	}
	if c.NumEventLoop < 0 {
		c.NumEventLoop = 0
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = runtime.NumCPU()
	}
	if c.InitialBufferSize <= 0 {
		c.InitialBufferSize = DefaultInitialBufferSize
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.InitialBufferSize > c.MaxRequestBytes {
		return fmt.Errorf("h1: initial buffer size %d exceeds max request bytes %d",
			c.InitialBufferSize, c.MaxRequestBytes)
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return nil
}

// Server implements gnet.EventHandler for one-shot HTTP/1.1 connections.
type Server struct {
	gnet.BuiltinEventEngine
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         Config
	factory     Factory
	logger      *zap.Logger
	pool        *ants.Pool
	activeConns atomic.Int64
	engine      gnet.Engine
	booted      chan struct{}
	done        chan struct{}
	runErr      error
	stopOnce    sync.Once
	stopErr     error
}

// Listen binds cfg.Addr and starts accepting connections. It returns once the
// event loops are running; every accepted connection gets a fresh Dispatcher
// from factory. ctx is the parent of every dispatch context.
func Listen(ctx context.Context, cfg Config, factory Factory) (*Server, error) {
	if factory == nil {
		return nil, errors.New("h1: dispatcher factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	pool, err := ants.NewPool(cfg.WorkerPoolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("worker panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("h1: worker pool: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	s := &Server{
		ctx:     serverCtx,
		cancel:  cancel,
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		pool:    pool,
		booted:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		s.runErr = gnet.Run(s, "tcp://"+cfg.Addr, s.options()...)
	}()

	select {
	case <-s.booted:
		return s, nil
	case <-s.done:
		cancel()
		pool.Release()
		if s.runErr == nil {
			return nil, ErrEngineClosed
		}
		return nil, fmt.Errorf("h1: listen on %s: %w", cfg.Addr, s.runErr)
	}
}

func (s *Server) options() []gnet.Option {
	options := []gnet.Option{
		gnet.WithMulticore(s.cfg.Multicore),
		gnet.WithReusePort(s.cfg.ReusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLogger(s.logger.Sugar()),
		gnet.WithLoadBalancing(gnet.RoundRobin),
	}
	if s.cfg.NumEventLoop > 0 {
		options = append(options, gnet.WithNumEventLoop(s.cfg.NumEventLoop))
	}
	return options
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int64 {
	return s.activeConns.Load()
}

// Stop stops accepting connections, cancels in-flight dispatch contexts and
// waits for the event loops to exit or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping engine", zap.String("addr", s.cfg.Addr))
		s.cancel()
		if err := s.engine.Stop(ctx); err != nil {
			s.stopErr = fmt.Errorf("h1: stop engine: %w", err)
		}
		s.pool.Release()
	})
	return s.stopErr
}

// Close stops the engine without a deadline.
func (s *Server) Close() error {
	return s.Stop(context.Background())
}

// Wait blocks until the event loops have exited and returns the run error.
func (s *Server) Wait() error {
	<-s.done
	return s.runErr
}

// OnBoot is called when the server is ready to accept connections.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	s.logger.Info("engine listening",
		zap.String("addr", s.cfg.Addr),
		zap.Bool("multicore", s.cfg.Multicore),
		zap.Int("workers", s.cfg.WorkerPoolSize))
	close(s.booted)
	return gnet.None
}

// OnShutdown is called when the server is shutting down.
func (s *Server) OnShutdown(_ gnet.Engine) {
	s.logger.Info("engine stopped", zap.String("addr", s.cfg.Addr))
}

// OnOpen is called when a new connection is accepted.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if s.ctx.Err() != nil {
		return nil, gnet.Close
	}
	s.activeConns.Add(1)

	info := ClientInfo{LocalAddr: c.LocalAddr(), RemoteAddr: c.RemoteAddr()}
	conn := newConnection(s.ctx, c, s.factory(info), s.pool, connOptions{
		bufferSize:  s.cfg.InitialBufferSize,
		policy:      GrowthPolicy{Limit: s.cfg.MaxRequestBytes},
		readTimeout: s.cfg.ReadTimeout,
		logger:      s.logger.With(zap.String("remote", addrString(info.RemoteAddr))),
		observer:    s.cfg.Observer,
	})
	c.SetContext(conn)
	s.cfg.Observer.ConnectionOpened()
	return nil, gnet.None
}

// OnTraffic is called when data is received on a connection.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	conn, ok := c.Context().(*Connection)
	if !ok {
		s.logger.Error("connection context missing", zap.String("remote", addrString(c.RemoteAddr())))
		return gnet.Close
	}
	conn.OnTraffic()
	return gnet.None
}

// OnClose is called when a connection is closed.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	conn, ok := c.Context().(*Connection)
	if !ok {
		return gnet.None
	}
	s.activeConns.Add(-1)
	conn.OnClose(err)
	s.cfg.Observer.ConnectionClosed()
	return gnet.None
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
