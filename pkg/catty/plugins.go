package catty

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/albertbausili/catty/internal/date"
	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Plugin decorates a request or response around the route handler.
type Plugin interface {
	Apply(req *Request, res *Response) error
}

// PluginFunc is an adapter to allow ordinary functions to be used as plugins.
type PluginFunc func(req *Request, res *Response) error

// Apply calls f(req, res).
func (f PluginFunc) Apply(req *Request, res *Response) error {
	return f(req, res)
}

type namedPlugin struct {
	name   string
	plugin Plugin
}

// Plugins is an ordered, named pipeline. Running it is best effort: a plugin
// that fails or panics is logged and the rest still run.
type Plugins struct {
	mu      sync.RWMutex
	entries []namedPlugin
	logger  *zap.Logger
}

// NewPlugins creates an empty pipeline.
func NewPlugins(logger *zap.Logger) *Plugins {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugins{logger: logger}
}

// Use appends a plugin, or replaces the one already registered under name.
func (p *Plugins) Use(name string, plugin Plugin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// entries is never written in place; Exec iterates a captured slice.
	next := make([]namedPlugin, len(p.entries), len(p.entries)+1)
	copy(next, p.entries)
	for i := range next {
		if next[i].name == name {
			next[i].plugin = plugin
			p.entries = next
			return
		}
	}
	p.entries = append(next, namedPlugin{name: name, plugin: plugin})
}

// Remove drops the plugin registered under name.
func (p *Plugins) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.entries {
		if p.entries[i].name == name {
			next := make([]namedPlugin, 0, len(p.entries)-1)
			next = append(next, p.entries[:i]...)
			p.entries = append(next, p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns the plugin names in execution order.
func (p *Plugins) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.name
	}
	return names
}

// Exec runs every plugin in order.
func (p *Plugins) Exec(req *Request, res *Response) {
	p.mu.RLock()
	entries := p.entries
	p.mu.RUnlock()

	for _, e := range entries {
		if err := p.apply(e, req, res); err != nil {
			p.logger.Warn("plugin failed",
				zap.String("plugin", e.name),
				zap.String("request_id", req.RequestID()),
				zap.Error(err))
		}
	}
}

func (p *Plugins) apply(e namedPlugin, req *Request, res *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.plugin.Apply(req, res)
}

// DefaultHeaders sets Date, Server and Connection: close on every response.
func DefaultHeaders(serverName string) Plugin {
	return PluginFunc(func(_ *Request, res *Response) error {
		res.SetHeader(HeaderDate, date.Current())
		res.SetHeader(HeaderServer, serverName)
		res.SetHeader(HeaderConnection, "close")
		return nil
	})
}

// RequestID tags each request with an id, reusing a client-supplied
// X-Request-ID when present. The id is stored as ParamRequestID and echoed
// in the response.
func RequestID() Plugin {
	return PluginFunc(func(req *Request, res *Response) error {
		id := req.Header(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		req.SetParam(ParamRequestID, id)
		res.SetHeader(HeaderRequestID, id)
		return nil
	})
}

// PathParams copies the route's {name} variables and wildcard capture into
// the request parameters. Requests without a route are left alone.
func PathParams() Plugin {
	return PluginFunc(func(req *Request, _ *Response) error {
		rt := req.Route()
		if rt == nil {
			return nil
		}
		for name, value := range rt.Vars(req.Path) {
			req.SetParam(name, value)
		}
		return nil
	})
}

// CompressConfig holds configuration for the Compress plugin.
type CompressConfig struct {
	// Level specifies the compression level (1-9 for gzip, 0-11 for brotli)
	Level int
	// MinSize specifies the minimum response size to compress (default: 1024 bytes)
	MinSize int
	// ExcludedTypes lists content types to skip compression
	ExcludedTypes []string
}

// DefaultCompressConfig returns a CompressConfig with sensible defaults.
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		Level:   6,
		MinSize: 1024,
		ExcludedTypes: []string{
			"image/",
			"video/",
			"audio/",
			"application/zip",
			"application/gzip",
		},
	}
}

// Compress returns an after-handler plugin that compresses the response body
// with brotli or gzip according to Accept-Encoding. The body is only
// replaced when the encoded form is smaller.
func Compress(config CompressConfig) Plugin {
	if config.MinSize == 0 {
		config.MinSize = 1024
	}
	if config.Level == 0 {
		config.Level = 6
	}

	return PluginFunc(func(req *Request, res *Response) error {
		accept := req.Header(HeaderAcceptEncoding)
		supportsBrotli := strings.Contains(accept, "br")
		supportsGzip := strings.Contains(accept, "gzip")
		if !supportsBrotli && !supportsGzip {
			return nil
		}
		if res.Header(HeaderContentEncoding) != "" {
			return nil
		}

		body := res.Body()
		if len(body) < config.MinSize {
			return nil
		}
		contentType := res.Header(HeaderContentType)
		for _, excluded := range config.ExcludedTypes {
			if strings.HasPrefix(contentType, excluded) {
				return nil
			}
		}

		var compressed bytes.Buffer
		var encoding string
		if supportsBrotli {
			w := brotli.NewWriterLevel(&compressed, config.Level)
			if _, err := w.Write(body); err != nil {
				_ = w.Close()
				return fmt.Errorf("brotli: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("brotli: %w", err)
			}
			encoding = "br"
		} else {
			w, err := gzip.NewWriterLevel(&compressed, gzipLevel(config.Level))
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			if _, err := w.Write(body); err != nil {
				_ = w.Close()
				return fmt.Errorf("gzip: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			encoding = "gzip"
		}

		if compressed.Len() == 0 || compressed.Len() >= len(body) {
			return nil
		}
		res.SetHeader(HeaderContentEncoding, encoding)
		res.SetHeader(HeaderVary, HeaderAcceptEncoding)
		res.SetBody(compressed.Bytes())
		return nil
	})
}

// gzipLevel clamps a brotli-range level (0-11) to what gzip accepts.
func gzipLevel(level int) int {
	switch {
	case level > gzip.BestCompression:
		return gzip.BestCompression
	case level < gzip.HuffmanOnly:
		return gzip.DefaultCompression
	}
	return level
}

// CORSConfig holds CORS plugin configuration.
type CORSConfig struct {
	AllowOrigin      string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns sensible CORS defaults.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS, PATCH",
		AllowHeaders: "Accept, Content-Type, Content-Length, Authorization",
		MaxAge:       3600,
	}
}

// CORS returns an after-handler plugin that sets the CORS response headers.
// An OPTIONS request that no route answered becomes a 204 preflight reply.
func CORS(config CORSConfig) Plugin {
	if config.AllowOrigin == "" {
		config.AllowOrigin = "*"
	}
	if config.AllowMethods == "" {
		config.AllowMethods = "GET, POST, PUT, DELETE, OPTIONS, PATCH"
	}
	if config.AllowHeaders == "" {
		config.AllowHeaders = "Accept, Content-Type, Content-Length, Authorization"
	}

	return PluginFunc(func(req *Request, res *Response) error {
		res.SetHeader("Access-Control-Allow-Origin", config.AllowOrigin)
		res.SetHeader("Access-Control-Allow-Methods", config.AllowMethods)
		res.SetHeader("Access-Control-Allow-Headers", config.AllowHeaders)
		if config.AllowCredentials {
			res.SetHeader("Access-Control-Allow-Credentials", "true")
		}
		if config.MaxAge > 0 {
			res.SetHeader("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}

		if req.Method == "OPTIONS" && req.Route() == nil {
			res.SetStatus(204)
			res.DelHeader(HeaderContentType)
			res.SetBody(nil)
		}
		return nil
	})
}

// AccessLog returns an after-handler plugin that writes one Info entry per
// request. Paths in skip are not logged.
func AccessLog(logger *zap.Logger, skip ...string) Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	skipMap := make(map[string]bool, len(skip))
	for _, path := range skip {
		skipMap[path] = true
	}

	return PluginFunc(func(req *Request, res *Response) error {
		if skipMap[req.Path] {
			return nil
		}
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("status", res.Status()),
			zap.Int("bytes", len(res.Body())),
			zap.String("remote", req.Client.RemoteHost()),
		}
		if id := req.RequestID(); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		logger.Info("request", fields...)
		return nil
	})
}
