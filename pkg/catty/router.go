package catty

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// WildcardParam is the parameter a trailing "*" segment is captured under.
const WildcardParam = "*"

var varSegment = regexp.MustCompile(`^(.*)\{(.+)\}(.*)$`)

// Route binds a path template and method to a handler. Templates may use
// {name} variables and * wildcards; each compiles to a capture group.
type Route struct {
	Pattern string
	Method  string
	Handler Handler

	re        *regexp.Regexp
	vars      []string // one name per capture group
	literal   int      // template length with capture groups stripped
	wildcards int
	seq       int
}

// NewRoute compiles a route. The method is upper-cased; matching against it
// is exact. Paths match case-insensitively.
func NewRoute(method, pattern string, handler Handler) *Route {
	rt := &Route{
		Pattern: pattern,
		Method:  strings.ToUpper(method),
		Handler: handler,
	}

	var expr strings.Builder
	expr.WriteByte('^')
	written := false
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "" {
			continue
		}
		expr.WriteByte('/')
		rt.literal++
		written = true

		switch {
		case strings.Contains(seg, "*"):
			parts := strings.Split(seg, "*")
			for i, p := range parts {
				if i > 0 {
					expr.WriteString("(.*)")
					rt.vars = append(rt.vars, WildcardParam)
					rt.wildcards++
				}
				expr.WriteString(regexp.QuoteMeta(p))
				rt.literal += len(p)
			}
		case varSegment.MatchString(seg):
			m := varSegment.FindStringSubmatch(seg)
			expr.WriteString(regexp.QuoteMeta(m[1]))
			expr.WriteString("(.*)")
			expr.WriteString(regexp.QuoteMeta(m[3]))
			rt.vars = append(rt.vars, m[2])
			rt.wildcards++
			rt.literal += len(m[1]) + len(m[3])
		default:
			expr.WriteString(regexp.QuoteMeta(seg))
			rt.literal += len(seg)
		}
	}
	if !written {
		expr.WriteByte('/')
		rt.literal++
	}
	expr.WriteByte('$')

	rt.re = regexp.MustCompile("(?i)" + expr.String())
	return rt
}

// Matches reports whether path and method select this route.
func (rt *Route) Matches(method, path string) bool {
	return rt.Method == method && rt.re.MatchString(path)
}

// Vars extracts the {name} variables and wildcard capture from path. It
// returns nil when the path does not match.
func (rt *Route) Vars(path string) map[string]string {
	m := rt.re.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	vars := make(map[string]string, len(rt.vars))
	for i, name := range rt.vars {
		vars[name] = m[i+1]
	}
	return vars
}

// Specificity returns the template length with capture groups stripped.
// Longer means more specific.
func (rt *Route) Specificity() int {
	return rt.literal
}

// moreSpecific orders candidate routes: longest literal text first, then
// fewer capture groups, then earlier registration.
func (rt *Route) moreSpecific(other *Route) bool {
	if rt.literal != other.literal {
		return rt.literal > other.literal
	}
	if rt.wildcards != other.wildcards {
		return rt.wildcards < other.wildcards
	}
	return rt.seq < other.seq
}

// Router holds the route table. Routes are registered before the server
// starts; after that the table is read-only and lookups take no lock.
type Router struct {
	mu           sync.Mutex
	routes       atomic.Pointer[[]*Route]
	sealed       atomic.Bool
	notFound     Handler
	errorHandler ErrorHandler
}

// NewRouter creates a new Router instance with default not found and error handlers.
func NewRouter() *Router {
	r := &Router{
		notFound: HandlerFunc(func(_ *Request, res *Response) error {
			res.String(404, "%s", statusText(404))
			return nil
		}),
		errorHandler: DefaultErrorHandler,
	}
	r.routes.Store(&[]*Route{})
	return r
}

// NotFound sets the handler that will be called for routes that do not match any registered path.
func (r *Router) NotFound(handler any) {
	r.checkOpen()
	r.notFound = wrapHandler(handler)
}

// ErrorHandler sets the error handler function for the router.
func (r *Router) ErrorHandler(handler ErrorHandler) {
	r.checkOpen()
	r.errorHandler = handler
}

// GET registers a handler for GET requests.
func (r *Router) GET(pattern string, handler any) *Route {
	return r.Handle("GET", pattern, handler)
}

// POST registers a handler for POST requests.
func (r *Router) POST(pattern string, handler any) *Route {
	return r.Handle("POST", pattern, handler)
}

// PUT registers a handler for PUT requests.
func (r *Router) PUT(pattern string, handler any) *Route {
	return r.Handle("PUT", pattern, handler)
}

// DELETE registers a handler for DELETE requests.
func (r *Router) DELETE(pattern string, handler any) *Route {
	return r.Handle("DELETE", pattern, handler)
}

// Handle registers a handler for the specified HTTP method.
func (r *Router) Handle(method, pattern string, handler any) *Route {
	return r.Add(NewRoute(method, pattern, wrapHandler(handler)))
}

// Add registers a compiled route.
func (r *Router) Add(rt *Route) *Route {
	r.checkOpen()

	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.routes.Load()
	rt.seq = len(old)
	next := make([]*Route, len(old), len(old)+1)
	copy(next, old)
	next = append(next, rt)
	r.routes.Store(&next)
	return rt
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []*Route {
	return append([]*Route(nil), *r.routes.Load()...)
}

// Resolve returns the most specific route matching method and path, or nil.
func (r *Router) Resolve(method, path string) *Route {
	var best *Route
	for _, rt := range *r.routes.Load() {
		if !rt.Matches(method, path) {
			continue
		}
		if best == nil || rt.moreSpecific(best) {
			best = rt
		}
	}
	return best
}

func (r *Router) seal() {
	r.sealed.Store(true)
}

func (r *Router) checkOpen() {
	if r.sealed.Load() {
		panic("catty: router modified after the server started")
	}
}
