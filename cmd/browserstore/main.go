// Command browserstore is a maintenance tool for the browser's local
// persistent store: inspect and modify the cache, run cleanup passes, or
// run the background janitor with a metrics endpoint.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/crynn/browserstore/store"
	"github.com/crynn/browserstore/telemetry"
)

var cli struct {
	DataDir       string `help:"Data directory for the index and blob cache." default:"./data" type:"path"`
	MaxCacheBytes int64  `help:"Cache eviction budget in bytes." default:"524288000"`
	MaxHistory    int64  `help:"Maximum history entries." default:"10000"`
	LogLevel      string `help:"Log level." enum:"debug,info,warn,error" default:"info"`

	Put     PutCmd     `cmd:"" help:"Store a resource in the cache from stdin or a file."`
	Get     GetCmd     `cmd:"" help:"Read a cached resource to stdout."`
	Stats   StatsCmd   `cmd:"" help:"Print store statistics."`
	Cleanup CleanupCmd `cmd:"" help:"Run one cleanup pass across all stores."`
	Janitor JanitorCmd `cmd:"" help:"Run the background cleanup loop."`
}

type cmdContext struct {
	ctx    context.Context
	logger *slog.Logger
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("browserstore"),
		kong.Description("Maintenance tool for the browser's local persistent store."),
		kong.UsageOnError(),
	)

	var level slog.Level
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	err := kctx.Run(&cmdContext{ctx: ctx, logger: logger})
	kctx.FatalIfErrorf(err)
}

func openManager(c *cmdContext) (*store.Manager, error) {
	cfg := store.DefaultConfig(cli.DataDir)
	cfg.MaxCacheBytes = cli.MaxCacheBytes
	cfg.MaxHistoryEntries = cli.MaxHistory
	return store.Open(cfg, store.WithLogger(c.logger))
}

// PutCmd stores one resource in the cache.
type PutCmd struct {
	Key         string        `arg:"" help:"Resource key (typically the URL)."`
	File        string        `help:"Read data from a file instead of stdin." type:"existingfile"`
	ContentType string        `help:"Content type to record." default:"application/octet-stream"`
	TTL         time.Duration `help:"Expiry relative to now (0 = never expires)."`
}

func (p *PutCmd) Run(c *cmdContext) error {
	m, err := openManager(c)
	if err != nil {
		return err
	}
	defer m.Close()

	in := io.Reader(os.Stdin)
	if p.File != "" {
		f, err := os.Open(p.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	var expiresAt *time.Time
	if p.TTL > 0 {
		t := time.Now().Add(p.TTL)
		expiresAt = &t
	}

	if err := m.Cache.Put(c.ctx, p.Key, p.ContentType, data, expiresAt); err != nil {
		return err
	}
	c.logger.Info("stored", "key", p.Key, "size", len(data))
	return nil
}

// GetCmd reads one cached resource.
type GetCmd struct {
	Key string `arg:"" help:"Resource key."`
}

func (g *GetCmd) Run(c *cmdContext) error {
	m, err := openManager(c)
	if err != nil {
		return err
	}
	defer m.Close()

	entry, err := m.Cache.Get(c.ctx, g.Key)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(entry.Data)
	return err
}

// StatsCmd prints store statistics.
type StatsCmd struct{}

func (s *StatsCmd) Run(c *cmdContext) error {
	m, err := openManager(c)
	if err != nil {
		return err
	}
	defer m.Close()

	stats, err := m.Stats(c.ctx)
	if err != nil {
		return err
	}

	fmt.Printf("cache:      %d entries, %d bytes (budget %d)\n", stats.CacheEntries, stats.CacheBytes, cli.MaxCacheBytes)
	fmt.Printf("cookies:    %d\n", stats.CookieCount)
	fmt.Printf("history:    %d\n", stats.HistoryCount)
	fmt.Printf("bookmarks:  %d\n", stats.BookmarkCount)
	fmt.Printf("mail:       %d entries, %d bytes\n", stats.MailEntries, stats.MailBytes)
	fmt.Printf("index file: %d bytes\n", stats.IndexFileBytes)
	fmt.Printf("cache dir:  %d bytes\n", stats.CacheDirBytes)
	return nil
}

// CleanupCmd runs one cleanup pass.
type CleanupCmd struct{}

func (cc *CleanupCmd) Run(c *cmdContext) error {
	m, err := openManager(c)
	if err != nil {
		return err
	}
	defer m.Close()

	return m.Cleanup(c.ctx)
}

// JanitorCmd runs the periodic cleanup loop, serving metrics over HTTP.
type JanitorCmd struct {
	Interval     time.Duration `help:"How often to run cleanup." default:"1h"`
	StartupDelay time.Duration `help:"Delay before the first run." default:"1m"`
	MetricsAddr  string        `help:"Address for the /metrics endpoint (empty = disabled)." default:":9090"`
	OTLPEndpoint string        `help:"OTLP gRPC endpoint for metric export (empty = disabled)."`
}

func (jc *JanitorCmd) Run(c *cmdContext) error {
	shutdown, err := telemetry.InitMetrics(c.ctx, telemetry.MetricsConfig{
		ServiceName:      "browserstore",
		OTLPEndpoint:     jc.OTLPEndpoint,
		EnablePrometheus: jc.MetricsAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	m, err := openManager(c)
	if err != nil {
		return err
	}
	defer m.Close()

	var metricsSrv *http.Server
	if jc.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		metricsSrv = &http.Server{Addr: jc.MetricsAddr, Handler: mux}
		go func() {
			c.logger.Info("metrics listening", "addr", jc.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.logger.Error("metrics server", "error", err)
			}
		}()
	}

	j := store.NewJanitor(m, store.JanitorConfig{
		Interval:     jc.Interval,
		StartupDelay: jc.StartupDelay,
	}, store.WithLogger(c.logger))
	j.Start(c.ctx)

	<-c.ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	return j.Stop(stopCtx)
}
