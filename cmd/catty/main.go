// Package main runs a demo Catty server with a handful of routes and an
// optional Prometheus endpoint.
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/albertbausili/catty/pkg/catty"
)

//go:embed static
var assets embed.FS

func main() {
	fc, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(fc.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(fc, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(fc fileConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	config := fc.serverConfig(logger)
	config.Registerer = registry

	router, err := newRouter(fc.StaticDir)
	if err != nil {
		return err
	}

	server := catty.New(config, router)
	server.
		UseAfter("cors", catty.CORS(catty.DefaultCORSConfig())).
		UseAfter("access log", catty.AccessLog(logger)).
		UseAfter("compress", catty.Compress(catty.DefaultCompressConfig()))
	if err := server.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Wait(); err != nil {
			return err
		}
		stop()
		return nil
	})

	if fc.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              fc.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics endpoint listening", zap.String("addr", fc.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(staticDir string) (*catty.Router, error) {
	router := catty.NewRouter()

	router.GET("/", func(_ *catty.Request, res *catty.Response) error {
		res.Redirect(302, "/static/index.html")
		return nil
	})
	router.GET("/test", testFormHandler)
	router.POST("/test", testUploadHandler)
	router.GET("/params/{id}/get", paramsHandler)
	router.GET("/cookie/set", cookieHandler)
	router.GET("/cookie/get", func(req *catty.Request, res *catty.Response) error {
		value, ok := req.Cookie("session")
		if !ok {
			return catty.NewHTTPError(404, "no session cookie")
		}
		return res.JSON(200, map[string]string{"session": value})
	})
	router.GET("/client", func(req *catty.Request, res *catty.Response) error {
		return res.JSON(200, map[string]any{
			"remote_host": req.Client.RemoteHost(),
			"remote_port": req.Client.RemotePort(),
			"local_port":  req.Client.LocalPort(),
			"request_id":  req.RequestID(),
		})
	})

	var src catty.ContentSource
	if staticDir != "" {
		src = catty.Dir(staticDir)
	} else {
		sub, err := fs.Sub(assets, "static")
		if err != nil {
			return nil, err
		}
		src = catty.FSSource{FS: sub}
	}
	router.Static("/static", src)

	return router, nil
}

const uploadForm = `<!DOCTYPE html>
<html>
<head><title>Catty upload</title></head>
<body>
    <h1>Upload</h1>
    <form action="/test" method="post" enctype="multipart/form-data">
        <input type="text" name="note">
        <input type="file" name="file">
        <button type="submit">Send</button>
    </form>
</body>
</html>
`

func testFormHandler(_ *catty.Request, res *catty.Response) error {
	res.Data(200, "text/html; charset=utf-8", []byte(uploadForm))
	return nil
}

func testUploadHandler(req *catty.Request, res *catty.Response) error {
	return res.JSON(200, map[string]any{
		"content_type": req.Header(catty.HeaderContentType),
		"bytes":        len(req.Body),
		"raw_bytes":    len(req.Raw()),
	})
}

func paramsHandler(req *catty.Request, res *catty.Response) error {
	return res.JSON(200, map[string]string{
		"id":   req.ParamString("id"),
		"path": req.Path,
	})
}

func cookieHandler(_ *catty.Request, res *catty.Response) error {
	res.SetCookie(&catty.Cookie{
		Name:     "session",
		Value:    "catty",
		Path:     "/",
		MaxAge:   3600,
		SameSite: catty.SameSiteStrict,
		Secure:   true,
		HttpOnly: true,
	})
	res.String(200, "cookie set")
	return nil
}
