package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // For pprof server
	"os"
	"os/signal"
	"syscall"
	"time"

	plog "github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"threadkit/internal/collectors/threadstate"
	"threadkit/internal/config"
	"threadkit/internal/logger"
	"threadkit/internal/platform"
	"threadkit/internal/thread"
	"threadkit/internal/workers"
)

// Daemon wires the thread registry, its housekeeping, the worker pool and
// the HTTP endpoints together.
type Daemon struct {
	config     *config.AppConfig
	registry   *thread.Registry
	pool       *workers.Pool
	httpServer *http.Server
	metrics    *prometheus.Registry
	log        plog.Logger
}

// NewDaemon creates and initializes a new Daemon instance.
func NewDaemon(cfg *config.AppConfig) (*Daemon, error) {
	d := &Daemon{
		config:  cfg,
		metrics: prometheus.NewRegistry(),
		log:     plog.DefaultLogger, // main app uses default logger
	}
	d.log.Info().
		Str("version", version).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Str("map_implementation", cfg.Threads.MapImplementation).
		Msg("Starting threadkit")

	if err := d.setupThreads(); err != nil {
		return nil, err
	}
	if cfg.Workers.Enabled {
		pool, err := workers.New(d.registry, cfg.Workers)
		if err != nil {
			return nil, err
		}
		d.pool = pool
	}

	var pool threadstate.Pool
	if d.pool != nil {
		pool = d.pool
	}
	d.metrics.MustRegister(
		threadstate.NewThreadStateCollector(d.registry, pool),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.log.Debug().Msg("- Thread state collector registered")

	d.setupHTTPServer()
	return d, nil
}

// setupThreads builds the process-wide registry from the threads section.
func (d *Daemon) setupThreads() error {
	tc := d.config.Threads
	p, err := platform.NewGoroutines(
		platform.WithMapImplementation(tc.MapImplementation),
		platform.WithMaxThreads(tc.MaxThreads),
	)
	if err != nil {
		return fmt.Errorf("failed to create thread platform: %w", err)
	}
	d.registry, err = thread.InitDefault(
		thread.WithPlatform(p),
		thread.WithMapImplementation(tc.MapImplementation),
		thread.WithLogger(logger.NewLoggerWithContext("thread")),
	)
	if err != nil {
		return fmt.Errorf("failed to create thread registry: %w", err)
	}
	d.log.Debug().Int("max_threads", tc.MaxThreads).Msg("- Thread registry created")
	return nil
}

// setupHTTPServer configures the HTTP server for metrics and the thread table.
func (d *Daemon) setupHTTPServer() {
	s := d.config.Server
	d.log.Debug().Str("metrics_path", s.MetricsPath).Str("threads_path", s.ThreadsPath).Msg("Setting up HTTP handlers")

	mux := http.NewServeMux()
	mux.Handle(s.MetricsPath, promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{Registry: d.metrics}))
	mux.HandleFunc(s.ThreadsPath, d.handleThreads)
	mux.HandleFunc(s.ThreadsPath+"/workers", d.handleWorkers)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>
            <head><title>threadkit</title></head>
            <body>
            <h1>threadkit v` + version + ` </h1>
            <p><a href="` + s.MetricsPath + `">Metrics</a></p>
            <p><a href="` + s.ThreadsPath + `">Threads</a></p>
            </body>
            </html>`))
	})

	d.httpServer = &http.Server{
		Addr:              s.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// handleThreads writes the thread table. The table is formatted on a worker
// thread when the pool is running.
func (d *Daemon) handleThreads(w http.ResponseWriter, r *http.Request) {
	infos := d.registry.Threads()
	stats := d.registry.Stats()

	var body []byte
	if d.pool != nil {
		out, err := d.pool.Do(r.Context(), func(s *workers.Scratch) {
			s.Buf = appendThreadTable(s.Buf, infos, stats)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		body = out
	} else {
		body = appendThreadTable(nil, infos, stats)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(body)
}

// handleWorkers pauses or resumes the worker pool: POST ?action=pause|resume.
func (d *Daemon) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if d.pool == nil {
		http.Error(w, "worker pool disabled", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}

	var err error
	switch action := r.URL.Query().Get("action"); action {
	case "pause":
		err = d.pool.Pause()
	case "resume":
		err = d.pool.Unpause()
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	_, _ = fmt.Fprintf(w, "paused=%t\n", d.pool.Paused())
}

// Run starts all services and waits for a shutdown signal.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval, err := d.config.Threads.Interval()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.registry.RunHousekeeping(gctx, interval)
		return nil
	})

	if d.config.Server.PprofEnabled {
		go func() {
			d.log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			// pprof registers its handlers on http.DefaultServeMux
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				d.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	g.Go(func() error {
		d.log.Info().Str("address", d.config.Server.ListenAddress).Msg("Starting HTTP server")
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.log.Info().Msg("! Shutdown initiated...")

		httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.httpServer.Shutdown(httpCtx); err != nil {
			d.log.Error().Err(err).Msg("Error shutting down HTTP server")
		} else {
			d.log.Debug().Msg("HTTP server shut down cleanly")
		}
		return nil
	})

	d.log.Info().Msg("threadkit is ready")
	err = g.Wait()

	if d.pool != nil {
		if perr := d.pool.Stop(5 * time.Second); perr != nil {
			d.log.Error().Err(perr).Msg("Error stopping worker pool")
		}
	}
	d.registry.Housekeep()

	st := d.registry.Stats()
	d.log.Info().
		Uint64("threads_created", st.ThreadsCreated).
		Uint64("threads_terminated", st.ThreadsTerminated).
		Uint64("payloads_live", st.LivePayloads()).
		Msg("threadkit stopped gracefully")
	return err
}
