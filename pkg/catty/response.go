package catty

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/net/http/httpguts"
)

// Response is the response built for one request. It is serialised exactly
// once, after the handler and the after-pipeline have run.
type Response struct {
	mu      sync.Mutex
	status  int
	headers Headers
	body    []byte
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{status: 200, headers: NewHeaders(8)}
}

// SetStatus sets the HTTP response status code.
func (r *Response) SetStatus(code int) {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
}

// Status returns the current HTTP response status code.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetHeader sets a response header, replacing earlier values.
func (r *Response) SetHeader(key, value string) {
	r.mu.Lock()
	r.headers.Set(key, value)
	r.mu.Unlock()
}

// AddHeader appends a response header.
func (r *Response) AddHeader(key, value string) {
	r.mu.Lock()
	r.headers.Add(key, value)
	r.mu.Unlock()
}

// DelHeader removes a response header.
func (r *Response) DelHeader(key string) {
	r.mu.Lock()
	r.headers.Del(key)
	r.mu.Unlock()
}

// Header returns the first value of a response header.
func (r *Response) Header(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers.Get(key)
}

// Headers returns a copy of the response headers.
func (r *Response) Headers() Headers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers.clone()
}

// SetBody replaces the response body.
func (r *Response) SetBody(b []byte) {
	r.mu.Lock()
	r.body = b
	r.mu.Unlock()
}

// Body returns the response body.
func (r *Response) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Respond sets the status and body in one call.
func (r *Response) Respond(code int, body string) {
	r.mu.Lock()
	r.status = code
	r.body = []byte(body)
	r.mu.Unlock()
}

// String sends a formatted text response with the given status code.
func (r *Response) String(code int, format string, values ...any) {
	r.mu.Lock()
	r.status = code
	r.headers.Set(HeaderContentType, "text/plain; charset=utf-8")
	r.body = []byte(fmt.Sprintf(format, values...))
	r.mu.Unlock()
}

// Data sends a response with custom content type and data.
func (r *Response) Data(code int, contentType string, data []byte) {
	r.mu.Lock()
	r.status = code
	r.headers.Set(HeaderContentType, contentType)
	r.body = data
	r.mu.Unlock()
}

// JSON sends a JSON response with the given status code.
func (r *Response) JSON(code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("catty: encode json: %w", err)
	}
	r.Data(code, "application/json; charset=utf-8", data)
	return nil
}

// Redirect sends an HTTP redirect response.
func (r *Response) Redirect(code int, location string) {
	if code < 300 || code > 308 {
		code = 302
	}
	r.mu.Lock()
	r.status = code
	r.headers.Set(HeaderLocation, location)
	r.mu.Unlock()
}

// SetCookie adds a Set-Cookie header; each cookie gets its own line.
func (r *Response) SetCookie(c *Cookie) {
	r.AddHeader(HeaderSetCookie, c.String())
}

// Bytes serialises the response. Content-Length is always recomputed from
// the body; fields with an invalid name or value are dropped.
func (r *Response) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := 64 + len(r.body)
	for _, f := range r.headers.fields {
		size += len(f[0]) + len(f[1]) + 4
	}
	buf := make([]byte, 0, size)

	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(r.status), 10)
	if text := statusText(r.status); text != "" {
		buf = append(buf, ' ')
		buf = append(buf, text...)
	}
	buf = append(buf, "\r\n"...)

	for _, f := range r.headers.fields {
		if f[0] == HeaderContentLength {
			continue
		}
		if !httpguts.ValidHeaderFieldName(f[0]) || !httpguts.ValidHeaderFieldValue(f[1]) {
			continue
		}
		buf = append(buf, f[0]...)
		buf = append(buf, ": "...)
		buf = append(buf, f[1]...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, HeaderContentLength...)
	buf = append(buf, ": "...)
	buf = strconv.AppendInt(buf, int64(len(r.body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	return append(buf, r.body...)
}

// snapshot copies the response so a timed-out handler can keep writing to
// r without affecting what is sent.
func (r *Response) snapshot() *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Response{status: r.status, headers: r.headers.clone(), body: r.body}
}

// statusText returns the status text for common HTTP status codes.
func statusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Payload Too Large"
	case 415:
		return "Unsupported Media Type"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return ""
	}
}
