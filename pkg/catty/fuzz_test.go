package catty

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// FuzzParseRequest verifies that request parsing handles arbitrary input
// without panicking and that accepted requests are well formed.
func FuzzParseRequest(f *testing.F) {
	f.Add([]byte("GET / HTTP/1.1\r\n\r\n"))
	f.Add([]byte("POST /api?id=1&name=x HTTP/1.1\r\nContent-Length: 2\r\n\r\nok"))
	f.Add([]byte("GET /c HTTP/1.1\r\nCookie: a=1; b=2\r\n\r\n"))
	f.Add([]byte("GET /path\r\n\r\n"))
	f.Add([]byte("INVALID\r\n"))
	f.Add([]byte("GET / HTTP/1.1\r\nbroken header\r\n\r\n"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		req, err := ParseRequest(data)
		if err != nil {
			return
		}
		if req.Method == "" {
			t.Errorf("Accepted request without a method: %q", data)
		}
		if strings.ContainsAny(req.Method, " \n") || strings.ContainsAny(req.Path, " \n") {
			t.Errorf("Start line fields contain separators: %q %q", req.Method, req.Path)
		}
		if len(req.Body) > len(data) {
			t.Errorf("Body longer than input")
		}
	})
}

// FuzzRouterResolve checks that resolution never panics and only returns
// routes that match the input.
func FuzzRouterResolve(f *testing.F) {
	f.Add("GET", "/")
	f.Add("GET", "/users/123")
	f.Add("get", "/files/docs/test.pdf")
	f.Add("POST", "/a/b/get")
	f.Add("GET", "//double//slash")
	f.Add("GET", "/with\nnewline")
	f.Add("GET", "")

	router := NewRouter()
	router.GET("/", noop)
	router.GET("/users/{id}", noop)
	router.GET("/files/*", noop)
	router.GET("/a/{id}/get", noop)
	router.POST("/a/*", noop)

	f.Fuzz(func(t *testing.T, method, path string) {
		if !utf8.ValidString(path) {
			return
		}
		rt := router.Resolve(method, path)
		if rt != nil && !rt.Matches(method, path) {
			t.Errorf("Resolved %s %q to non-matching route %s", method, path, rt.Pattern)
		}
	})
}
