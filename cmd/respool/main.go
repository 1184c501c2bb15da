// respool runs a pool of backend connections and exercises it.
//
// It loads a configuration file, builds a pool for the configured backend
// (libsql or redis), optionally guards creation with a circuit breaker and
// rate limit, and then runs probe workers that borrow a connection, run a
// trivial query and return it. Pool metrics are served in Prometheus text
// format.
//
// Usage:
//
//	respool [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.respool/config.toml")
//	-max-size int
//	    Maximum pool size (overrides config)
//	-metrics string
//	    Metrics listen address (overrides config)
//	-workers int
//	    Number of probe workers (default 4)
//	-interval duration
//	    Delay between probes of one worker (default 1s)
//	-once
//	    Run one probe per worker, print the pool status and exit
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/respool/lib/config"
	apperrors "github.com/go-i2p/respool/lib/errors"
	"github.com/go-i2p/respool/lib/libsql"
	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/redisconn"
	"github.com/go-i2p/respool/lib/resilience"
	"github.com/go-i2p/respool/version"
)

const statusInterval = 10 * time.Second

// options are the command-line settings that are not part of the config file.
type options struct {
	workers  int
	interval time.Duration
	once     bool
}

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".respool", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	maxSize := flag.Int("max-size", 0, "Maximum pool size (overrides config)")
	metricsAddr := flag.String("metrics", "", "Metrics listen address (overrides config)")
	workers := flag.Int("workers", 4, "Number of probe workers")
	interval := flag.Duration("interval", time.Second, "Delay between probes of one worker")
	once := flag.Bool("once", false, "Run one probe per worker, print the pool status and exit")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "respool - pooled backend connections\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  respool [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("respool version %s\n", version.Full())
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error [%d]: %v\n", apperrors.CodeFor(err), err)
		return 1
	}

	if *maxSize > 0 {
		cfg.Pool.MaxSize = *maxSize
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsAddr
	}
	if *workers < 1 {
		fmt.Fprintf(os.Stderr, "Error: -workers must be at least 1\n")
		return 1
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.RecordStartTime()
	if cfg.Metrics.Enabled && !*once {
		srv := serveMetrics(cfg.Metrics, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("respool starting", append(version.LogAttrs(), "backend", cfg.Backend, "pool", cfg.Pool.Name)...)

	opts := options{workers: *workers, interval: *interval, once: *once}
	switch cfg.Backend {
	case config.BackendLibSQL:
		err = runLibSQL(ctx, cfg, opts, logger)
	case config.BackendRedis:
		err = runRedis(ctx, cfg, opts, logger)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		reportFailure(logger, err)
		return 1
	}

	logger.Info("respool stopped")
	return 0
}

func runLibSQL(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	lc, err := cfg.LibSQLConfig()
	if err != nil {
		return err
	}
	mgr, err := libsql.NewManagerFromConfig(ctx, lc, logger)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, opts, logger, pool.Manager[*sql.Conn](mgr), func(ctx context.Context, conn *sql.Conn) error {
		var one int
		return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

func runRedis(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	rc, err := cfg.RedisConfig()
	if err != nil {
		return err
	}
	mgr, err := redisconn.NewManagerFromConfig(rc, logger)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, opts, logger, pool.Manager[*redis.Conn](mgr), func(ctx context.Context, conn *redis.Conn) error {
		return conn.Ping(ctx).Err()
	})
}

// serve builds the pool on mgr and runs the probe workers until ctx is done.
// The pool, and with it mgr, is closed on return.
func serve[T any](ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger,
	mgr pool.Manager[T], probe func(context.Context, T) error) error {
	if cfg.Guard.Enabled {
		g := resilience.Guard(cfg.Pool.Name, mgr, cfg.GuardConfig())
		g.Breaker().OnStateChange(func(from, to resilience.State) {
			logger.Warn("circuit breaker state changed", "circuit", cfg.Pool.Name, "from", from, "to", to)
		})
		mgr = g
	}

	p, err := pool.New(mgr, cfg.PoolConfig())
	if err != nil {
		if c, ok := mgr.(io.Closer); ok {
			c.Close()
		}
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("closing pool", "error", err)
		}
	}()

	work := func(ctx context.Context) error {
		return p.Do(ctx, func(ctx context.Context, loan *pool.Loan[T]) error {
			return probe(ctx, loan.Value())
		})
	}

	if opts.once {
		g, gctx := errgroup.WithContext(ctx)
		for range opts.workers {
			g.Go(func() error { return work(gctx) })
		}
		err := g.Wait()
		printStatus(p.Status())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range opts.workers {
		g.Go(func() error {
			probeLoop(gctx, logger.With("worker", i), opts.interval, work)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s := p.Status()
				logger.Info("pool status", "size", s.Size, "available", s.Available, "waiting", s.Waiting, "max_size", s.MaxSize)
			}
		}
	})

	logger.Info("pool ready", "pool", p.Name(), "max_size", cfg.Pool.MaxSize, "workers", opts.workers)
	<-ctx.Done()
	logger.Info("shutting down")
	return g.Wait()
}

// probeLoop runs work every interval until ctx is done. Failures are logged
// and do not stop the loop.
func probeLoop(ctx context.Context, logger *slog.Logger, interval time.Duration, work func(context.Context) error) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		err := work(ctx)
		switch {
		case err == nil:
			logger.Debug("probe succeeded", "took", time.Since(start))
		case errors.Is(err, context.Canceled), errors.Is(err, pool.ErrClosed):
			return
		case errors.Is(err, resilience.ErrCircuitOpen):
			logger.Debug("probe rejected by open circuit")
		default:
			logger.Warn("probe failed", "error", err)
		}
		timer.Reset(interval)
	}
}

// reportFailure logs the coded safe message of err. Backend errors can
// carry DSNs and credentials, so the full chain is only logged at debug
// level.
func reportFailure(logger *slog.Logger, err error) {
	e := apperrors.FromSentinel(err)
	logger.Debug("failure details", "error", err)
	logger.Error("respool failed", "code", e.Code, "error", e.SafeMessage())
}

func serveMetrics(cfg config.MetricsConfig, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", cfg.Listen, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func printStatus(s pool.Status) {
	fmt.Printf("Max Size:     %d\n", s.MaxSize)
	fmt.Printf("Size:         %d\n", s.Size)
	fmt.Printf("Available:    %d\n", s.Available)
	fmt.Printf("Waiting:      %d\n", s.Waiting)
}
