package catty

import (
	"context"
	"errors"
	"fmt"

	"github.com/albertbausili/catty/internal/h1"
	"go.uber.org/zap"
)

// dispatcher turns the framed bytes of one connection into response bytes.
type dispatcher struct {
	srv    *Server
	client ClientInfo
}

func (s *Server) newDispatcher(info h1.ClientInfo) h1.Dispatcher {
	return &dispatcher{
		srv:    s,
		client: ClientInfo{LocalAddr: info.LocalAddr, RemoteAddr: info.RemoteAddr},
	}
}

// Dispatch parses raw, resolves the route, runs the pipelines and the
// handler and serialises the result. The handler timeout runs from the
// moment the framed bytes arrive, so parsing counts against it. Handler
// failures become error responses; it never returns an error itself.
func (d *dispatcher) Dispatch(ctx context.Context, raw []byte) ([]byte, error) {
	s := d.srv
	start := s.now()
	deadline := start.Add(s.config.HandlerTimeout)
	s.metrics.startRequest()

	req, err := ParseRequest(raw)
	if err != nil {
		s.logger.Warn("malformed request",
			zap.String("remote", d.client.RemoteHost()),
			zap.Error(err))
		res := NewResponse()
		res.SetHeader(HeaderConnection, "close")
		res.String(400, "%s", statusText(400))
		out := res.Bytes()
		s.metrics.observeRequest("", "", 400, len(out), s.now().Sub(start))
		return out, nil
	}
	req.Client = d.client
	req.route = s.router.Resolve(req.Method, req.Path)

	routeLabel := "none"
	if req.route != nil {
		routeLabel = req.route.Pattern
	}

	ctx, span := s.tracing.start(ctx, req, routeLabel)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	req.setContext(ctx)

	res, herr := s.serve(ctx, req)
	s.after.Exec(req, res)

	out := res.Bytes()
	status := res.Status()
	elapsed := s.now().Sub(start)

	s.tracing.finish(span, req, status, herr)
	s.metrics.observeRequest(req.Method, routeLabel, status, len(out), elapsed)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", status),
		zap.String("request_id", req.RequestID()),
		zap.Duration("duration", elapsed),
	}
	// handler-chosen 4xx errors are outcomes, not failures
	if herr != nil && status >= 500 {
		s.logger.Error("request failed", append(fields, zap.Error(herr))...)
	} else {
		if herr != nil {
			fields = append(fields, zap.Error(herr))
		}
		s.logger.Debug("request served", fields...)
	}
	return out, nil
}

// serve runs the before-pipeline and the handler. When ctx expires first the
// handler is abandoned and a copy of its response is turned into a 500.
func (s *Server) serve(ctx context.Context, req *Request) (*Response, error) {
	res := NewResponse()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()

		s.before.Exec(req, res)
		h := s.router.notFound
		if rt := req.Route(); rt != nil {
			h = rt.Handler
		}
		done <- h.Serve(req, res)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.router.errorHandler(req, res, err)
		}
		return res, err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrDispatchTimeout, s.config.HandlerTimeout)
		}
		snap := res.snapshot()
		s.router.errorHandler(req, snap, err)
		return snap, err
	}
}
