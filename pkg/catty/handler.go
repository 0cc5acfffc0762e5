package catty

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDispatchTimeout is reported when a handler outlives the handler
	// timeout. The client receives a 500.
	ErrDispatchTimeout = errors.New("catty: handler timed out")
	// ErrNotFound is returned by a ContentSource for unknown content.
	ErrNotFound = errors.New("catty: not found")
)

// Handler serves one request by filling in res.
type Handler interface {
	Serve(req *Request, res *Response) error
}

// HandlerFunc is an adapter to allow ordinary functions to be used as handlers.
type HandlerFunc func(req *Request, res *Response) error

// Serve calls f(req, res).
func (f HandlerFunc) Serve(req *Request, res *Response) error {
	return f(req, res)
}

// ErrorHandler renders a handler error into the response.
type ErrorHandler func(req *Request, res *Response, err error)

// DefaultErrorHandler writes an *HTTPError with its own code and message and
// anything else as a bare 500. The error text never reaches the client.
func DefaultErrorHandler(req *Request, res *Response, err error) {
	wantsJSON := strings.Contains(req.Header("Accept"), "application/json")

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if wantsJSON {
			_ = res.JSON(httpErr.Code, map[string]any{
				"error":   httpErr.Message,
				"code":    httpErr.Code,
				"details": httpErr.Details,
			})
			return
		}
		res.String(httpErr.Code, "%s", httpErr.Message)
		return
	}

	if wantsJSON {
		_ = res.JSON(500, map[string]any{
			"error": statusText(500),
			"code":  500,
		})
		return
	}
	res.String(500, "%s", statusText(500))
}

// HTTPError represents an HTTP error with status code, message, and optional details.
type HTTPError struct {
	Code    int
	Message string
	Details any
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds additional details to the HTTPError and returns the modified error.
func (e *HTTPError) WithDetails(details any) *HTTPError {
	e.Details = details
	return e
}

func wrapHandler(handler any) Handler {
	switch h := handler.(type) {
	case Handler:
		return h
	case func(*Request, *Response) error:
		return HandlerFunc(h)
	default:
		panic(fmt.Sprintf("catty: invalid handler type: %T", handler))
	}
}
