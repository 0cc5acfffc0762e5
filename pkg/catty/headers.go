package catty

// Header names the engine and its stock plugins read or write. Lookups are
// case-sensitive, so these spellings are the canonical ones.
const (
	HeaderDate            = "Date"
	HeaderContentType     = "Content-Type"
	HeaderServer          = "Server"
	HeaderConnection      = "Connection"
	HeaderContentLength   = "Content-Length"
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderSetCookie       = "Set-Cookie"
	HeaderAllow           = "Allow"
	HeaderLocation        = "Location"
	HeaderKeepAlive       = "Keep-Alive"
	HeaderVary            = "Vary"
	HeaderCacheControl    = "Cache-Control"
	HeaderCookie          = "Cookie"
	HeaderRequestID       = "X-Request-ID"
)

// Headers is an ordered list of header fields. Names keep the spelling they
// were received or set with and are compared exactly.
type Headers struct {
	fields [][2]string
}

// NewHeaders creates an empty Headers with room for n fields.
func NewHeaders(n int) Headers {
	return Headers{fields: make([][2]string, 0, n)}
}

// Set replaces every field named key with a single key: value field.
func (h *Headers) Set(key, value string) {
	for i := range h.fields {
		if h.fields[i][0] == key {
			h.fields[i][1] = value
			h.delFrom(key, i+1)
			return
		}
	}
	h.fields = append(h.fields, [2]string{key, value})
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Headers) Add(key, value string) {
	h.fields = append(h.fields, [2]string{key, value})
}

// Get returns the first value for key, or "".
func (h Headers) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup returns the first value for key and whether it was present.
func (h Headers) Lookup(key string) (string, bool) {
	for i := range h.fields {
		if h.fields[i][0] == key {
			return h.fields[i][1], true
		}
	}
	return "", false
}

// Values returns every value for key in order.
func (h Headers) Values(key string) []string {
	var out []string
	for i := range h.fields {
		if h.fields[i][0] == key {
			out = append(out, h.fields[i][1])
		}
	}
	return out
}

// Has reports whether a field named key exists.
func (h Headers) Has(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

// Del removes every field named key.
func (h *Headers) Del(key string) {
	h.delFrom(key, 0)
}

func (h *Headers) delFrom(key string, start int) {
	out := h.fields[:start]
	for _, f := range h.fields[start:] {
		if f[0] != key {
			out = append(out, f)
		}
	}
	h.fields = out
}

// All returns the fields in order. The slice must not be modified.
func (h Headers) All() [][2]string {
	return h.fields
}

// Len returns the number of fields.
func (h Headers) Len() int {
	return len(h.fields)
}

func (h Headers) clone() Headers {
	return Headers{fields: append([][2]string(nil), h.fields...)}
}
