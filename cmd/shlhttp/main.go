package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Senhnn/shlhttp"
	"github.com/Senhnn/shlhttp/internal/config"
	"github.com/Senhnn/shlhttp/internal/httpcodec"
	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/Senhnn/shlhttp/tools/gopool"
	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	port := flag.Int("port", 0, "listen port, overrides config")
	logLevel := flag.String("log-level", "", "DEBUG, INFO, WARN or ERROR, overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.FatalF("load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
		config.ApplyDefaults(cfg)
	}
	if err = config.Validate(cfg); err != nil {
		logger.FatalF("invalid config: %v", err)
	}

	if err = logger.OpenFile(cfg.Logging.Output); err != nil {
		logger.FatalF("open log output %q: %v", cfg.Logging.Output, err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	files, err := httpcodec.NewFileServer(httpcodec.Options{
		Root:  cfg.HTTP.Root,
		Index: cfg.HTTP.Index,
		Gzip:  cfg.HTTP.Gzip,
	})
	if err != nil {
		logger.FatalF("http: %v", err)
	}

	opts := cfg.ServerOptions()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, shlhttp.WithMetrics(metrics.NewPrometheus(reg)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		gopool.Go("metrics-server", func() {
			logger.Info("metrics listening on", cfg.Metrics.Address)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error:", err)
			}
		})
	}

	srv, err := shlhttp.Run(files.NewCodec, opts...)
	if err != nil {
		logger.FatalF("start server: %v", err)
	}
	logger.InfoF("serving %s on %s", files.Root(), srv.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("received signal:", s)
	case <-srv.Done():
		logger.Warn("server exited unexpectedly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err = srv.Stop(ctx); err != nil {
		logger.Error("stop server:", err)
	}
	if metricsSrv != nil {
		if err = metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("stop metrics server:", err)
		}
	}
}
