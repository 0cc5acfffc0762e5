package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/albertbausili/catty/pkg/catty"
)

// fileConfig mirrors the optional YAML configuration file. Flags given on
// the command line take precedence over it.
type fileConfig struct {
	Addr              string        `yaml:"addr"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	Workers           int           `yaml:"workers"`
	EventLoops        int           `yaml:"event_loops"`
	InitialBufferSize int           `yaml:"initial_buffer_size"`
	MaxRequestBytes   int           `yaml:"max_request_bytes"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	HandlerTimeout    time.Duration `yaml:"handler_timeout"`
	ServerName        string        `yaml:"server_name"`
	StaticDir         string        `yaml:"static_dir"`
	Log               logConfig     `yaml:"log"`
}

type logConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func defaultFileConfig() fileConfig {
	d := catty.DefaultConfig()
	return fileConfig{
		Addr:              d.Addr,
		Workers:           d.WorkerPoolSize,
		InitialBufferSize: d.InitialBufferSize,
		MaxRequestBytes:   d.MaxRequestBytes,
		ReadTimeout:       d.ReadTimeout,
		HandlerTimeout:    d.HandlerTimeout,
		ServerName:        d.ServerName,
		Log: logConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func loadFile(path string, fc *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// parseConfig resolves the configuration from the YAML file named by -config
// and then applies any flags that were set explicitly.
func parseConfig(args []string) (fileConfig, error) {
	fc := defaultFileConfig()

	fs := flag.NewFlagSet("catty", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	addr := fs.String("addr", fc.Addr, "listen address")
	metricsAddr := fs.String("metrics-addr", "", "address for the Prometheus endpoint (disabled when empty)")
	workers := fs.Int("workers", fc.Workers, "dispatch worker pool size")
	eventLoops := fs.Int("event-loops", 0, "number of event loops (0 = one per CPU)")
	initial := fs.Int("initial-buffer", fc.InitialBufferSize, "initial per-connection read buffer in bytes")
	maxBytes := fs.Int("max-request-bytes", fc.MaxRequestBytes, "largest accepted request in bytes")
	readTimeout := fs.Duration("read-timeout", fc.ReadTimeout, "idle read timeout per connection")
	handlerTimeout := fs.Duration("handler-timeout", fc.HandlerTimeout, "handler deadline")
	staticDir := fs.String("static", "", "directory served under /static (embedded assets when empty)")
	logLevel := fs.String("log-level", fc.Log.Level, "log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "rotate logs into this file instead of stderr")
	if err := fs.Parse(args); err != nil {
		return fc, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &fc); err != nil {
			return fc, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			fc.Addr = *addr
		case "metrics-addr":
			fc.MetricsAddr = *metricsAddr
		case "workers":
			fc.Workers = *workers
		case "event-loops":
			fc.EventLoops = *eventLoops
		case "initial-buffer":
			fc.InitialBufferSize = *initial
		case "max-request-bytes":
			fc.MaxRequestBytes = *maxBytes
		case "read-timeout":
			fc.ReadTimeout = *readTimeout
		case "handler-timeout":
			fc.HandlerTimeout = *handlerTimeout
		case "static":
			fc.StaticDir = *staticDir
		case "log-level":
			fc.Log.Level = *logLevel
		case "log-file":
			fc.Log.File = *logFile
		}
	})
	return fc, nil
}

// serverConfig converts the resolved settings into a catty.Config.
func (fc fileConfig) serverConfig(logger *zap.Logger) catty.Config {
	config := catty.DefaultConfig()
	config.Addr = fc.Addr
	config.WorkerPoolSize = fc.Workers
	config.NumEventLoop = fc.EventLoops
	config.InitialBufferSize = fc.InitialBufferSize
	config.MaxRequestBytes = fc.MaxRequestBytes
	config.ReadTimeout = fc.ReadTimeout
	config.HandlerTimeout = fc.HandlerTimeout
	if fc.ServerName != "" {
		config.ServerName = fc.ServerName
	}
	config.Logger = logger
	return config
}

func newLogger(c logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := zapcore.Lock(os.Stderr)
	if c.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	return zap.New(core, zap.AddCaller()), nil
}
