package catty

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/albertbausili/catty/internal/h1"
)

// ErrBadStartLine is returned when the request line is not exactly
// "METHOD PATH VERSION".
var ErrBadStartLine = fmt.Errorf("%w: bad start line", h1.ErrMalformedRequest)

// ParamRequestID is the parameter the RequestID plugin stores the id under.
const ParamRequestID = "REQUEST_ID"

// ClientInfo describes both ends of the connection a request arrived on.
type ClientInfo struct {
	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// LocalHost returns the local IP address without the port.
func (c ClientInfo) LocalHost() string { return hostOf(c.LocalAddr) }

// LocalPort returns the local port, or -1 when unknown.
func (c ClientInfo) LocalPort() int { return portOf(c.LocalAddr) }

// RemoteHost returns the peer IP address without the port.
func (c ClientInfo) RemoteHost() string { return hostOf(c.RemoteAddr) }

// RemotePort returns the peer port, or -1 when unknown.
func (c ClientInfo) RemotePort() int { return portOf(c.RemoteAddr) }

func hostOf(a net.Addr) string {
	if a == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return ""
	}
	return host
}

func portOf(a net.Addr) int {
	if a == nil {
		return -1
	}
	_, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return -1
	}
	return n
}

// Request is a parsed HTTP/1.1 request. The wire-derived fields are fixed
// after parsing; the parameter map is filled in by plugins and is safe for
// concurrent use.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers Headers
	Body    []byte
	Client  ClientInfo

	raw     []byte
	cookies map[string]string
	query   map[string]string
	route   *Route
	ctx     context.Context

	mu     sync.RWMutex
	params map[string]any
}

// ParseRequest builds a Request from one framed message. Header names are
// stored as received; the Cookie header and query string are split into
// maps without unescaping.
func ParseRequest(raw []byte) (*Request, error) {
	head, body := raw, []byte(nil)
	if end := h1.HeaderEnd(raw); end >= 0 {
		head, body = raw[:end], raw[end:]
	}
	head = bytes.TrimRight(head, "\r\n")

	lines := strings.Split(string(head), "\n")
	r := &Request{
		raw:     raw,
		Headers: NewHeaders(len(lines)),
		cookies: make(map[string]string),
		query:   make(map[string]string),
		params:  make(map[string]any),
		ctx:     context.Background(),
	}

	if err := r.parseStartLine(strings.TrimSuffix(lines[0], "\r")); err != nil {
		return nil, err
	}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", h1.ErrMalformedRequest, line)
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		r.Headers.Add(name, value)
		if name == HeaderCookie {
			r.parseCookies(value)
		}
	}

	if n, ok := h1.ContentLength(raw); ok && n < len(body) {
		body = body[:n]
	}
	r.Body = body
	return r, nil
}

func (r *Request) parseStartLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q", ErrBadStartLine, line)
	}
	r.Method, r.Version = parts[0], parts[2]

	path, query, hasQuery := strings.Cut(parts[1], "?")
	r.Path = path
	if hasQuery {
		for _, pair := range strings.Split(query, "&") {
			if pair == "" {
				continue
			}
			k, v, _ := strings.Cut(pair, "=")
			r.query[k] = v
		}
	}
	return nil
}

func (r *Request) parseCookies(header string) {
	for _, pair := range strings.Split(header, ";") {
		name, value, _ := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		r.cookies[name] = value
	}
}

// Raw returns the framed message the request was parsed from.
func (r *Request) Raw() []byte {
	return r.raw
}

// Header returns the first value of the named header, matched exactly.
func (r *Request) Header(name string) string {
	return r.Headers.Get(name)
}

// Cookie returns the named cookie value.
func (r *Request) Cookie(name string) (string, bool) {
	v, ok := r.cookies[name]
	return v, ok
}

// Query returns the named query parameter, still escaped.
func (r *Request) Query(name string) (string, bool) {
	v, ok := r.query[name]
	return v, ok
}

// Param returns a parameter set by a plugin or handler.
func (r *Request) Param(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.params[name]
	return v, ok
}

// ParamString returns a string parameter, or "" if absent or not a string.
func (r *Request) ParamString(name string) string {
	v, _ := r.Param(name)
	s, _ := v.(string)
	return s
}

// SetParam stores a parameter.
func (r *Request) SetParam(name string, value any) {
	r.mu.Lock()
	r.params[name] = value
	r.mu.Unlock()
}

// RequestID returns the id assigned by the RequestID plugin, if any.
func (r *Request) RequestID() string {
	return r.ParamString(ParamRequestID)
}

// Route returns the route the request resolved to, or nil.
func (r *Request) Route() *Route {
	return r.route
}

// Context returns the request context. It is cancelled when the handler
// deadline passes or the server stops.
func (r *Request) Context() context.Context {
	return r.ctx
}

func (r *Request) setContext(ctx context.Context) {
	r.ctx = ctx
}
