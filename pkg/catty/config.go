// Package catty provides a one-shot HTTP/1.1 server: every connection carries
// exactly one request and is closed once the response has been written.
package catty

import (
	"fmt"
	"runtime"
	"time"

	"github.com/albertbausili/catty/internal/h1"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds the server configuration options.
type Config struct {
	Addr              string                // Server address to bind to
	Multicore         bool                  // Enable multicore mode for better performance
	NumEventLoop      int                   // Number of event loops (0 for auto-detect)
	ReusePort         bool                  // Enable SO_REUSEPORT for load balancing
	WorkerPoolSize    int                   // Goroutines available for dispatch
	InitialBufferSize int                   // First read buffer per connection
	MaxRequestBytes   int                   // Ceiling for the grown read buffer
	ReadTimeout       time.Duration         // Idle time allowed between reads
	HandlerTimeout    time.Duration         // Wall clock for plugins plus handler
	ServerName        string                // Value of the Server header
	Logger            *zap.Logger           // Logger for server events
	Registerer        prometheus.Registerer // Metrics registry; nil disables metrics
	TracerName        string                // OpenTelemetry tracer name
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		Multicore:         true,
		NumEventLoop:      0,
		ReusePort:         false,
		WorkerPoolSize:    runtime.NumCPU(),
		InitialBufferSize: h1.DefaultInitialBufferSize,
		MaxRequestBytes:   h1.DefaultMaxRequestBytes,
		ReadTimeout:       10 * time.Second,
		HandlerTimeout:    30 * time.Second,
		ServerName:        "Catty",
		Logger:            zap.NewNop(),
		TracerName:        "catty",
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.NumEventLoop < 0 {
		c.NumEventLoop = 0
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = def.WorkerPoolSize
	}
	if c.InitialBufferSize <= 0 {
		c.InitialBufferSize = def.InitialBufferSize
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = def.MaxRequestBytes
	}
	if c.InitialBufferSize > c.MaxRequestBytes {
		return fmt.Errorf("catty: initial buffer size %d exceeds max request bytes %d",
			c.InitialBufferSize, c.MaxRequestBytes)
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = def.HandlerTimeout
	}
	if c.ServerName == "" {
		c.ServerName = def.ServerName
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.TracerName == "" {
		c.TracerName = def.TracerName
	}
	return nil
}
