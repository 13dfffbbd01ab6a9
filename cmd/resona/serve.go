package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evalab/resona/internal/config"
	"github.com/evalab/resona/internal/health"
	"github.com/evalab/resona/internal/insights"
	"github.com/evalab/resona/internal/lifecycle"
	"github.com/evalab/resona/internal/observe"
	"github.com/evalab/resona/internal/pipeline"
	"github.com/evalab/resona/internal/profile"
	"github.com/evalab/resona/internal/server"
	"github.com/evalab/resona/internal/store"
	"github.com/evalab/resona/internal/transcript"
)

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resona HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	levelVar := &slog.LevelVar{}
	logger := newLogger(cfg.Server.LogLevel, levelVar)
	slog.SetDefault(logger)

	slog.Info("resona starting",
		"version", version,
		"config", cfgPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs, err := observe.SetupTelemetry(ctx, observe.TelemetryConfig{
		ServiceName:    "resona",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownObs(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	tr, est, sem, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	metrics := observe.DefaultMetrics()

	// The corrector sits behind an atomic pointer so a vocabulary reload
	// swaps it without touching the running orchestrator.
	var corrector atomic.Pointer[transcript.Corrector]
	corrector.Store(transcript.New(cfg.Pipeline.Vocabulary))

	orchOpts := []pipeline.Option{
		pipeline.WithStageObserver(metrics.RecordStage),
		pipeline.WithTranscriptCorrector(func(text string) string {
			fixed, _ := corrector.Load().Correct(text)
			return fixed
		}),
	}
	if sem != nil {
		orchOpts = append(orchOpts, pipeline.WithSemanticAnalyzer(sem))
	}
	if d := cfg.Pipeline.TranscribeTimeout; d > 0 {
		orchOpts = append(orchOpts, pipeline.WithTranscribeTimeout(d))
	}
	if d := cfg.Pipeline.EmotionTimeout; d > 0 {
		orchOpts = append(orchOpts, pipeline.WithEmotionTimeout(d))
	}
	if d := cfg.Pipeline.SemanticTimeout; d > 0 {
		orchOpts = append(orchOpts, pipeline.WithSemanticTimeout(d))
	}
	orch, err := pipeline.NewOrchestrator(tr, est, orchOpts...)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	buildHandler := func(snippetRunes int) http.Handler {
		srv := server.New(server.Config{
			Store:    st,
			Analyzer: orch,
			Lifecycle: lifecycle.New(st,
				lifecycle.WithSnippetLength(snippetRunes)),
			Insights: insights.New(st,
				insights.WithSnippetLength(snippetRunes)),
			Profiles:       profile.New(st),
			Health:         health.New("resona", databaseChecker(st)),
			Metrics:        metrics,
			DefaultProfile: cfg.Profile.DefaultID,
		})
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		mux.Handle("/", srv.Handler())
		return mux
	}

	// The live handler is swapped whole on a snippet-length reload; the
	// domain services are cheap stateless wrappers over the store.
	var handler atomic.Value
	handler.Store(buildHandler(cfg.Pipeline.SnippetRunes))

	watcher, err := config.NewWatcher(cfgPath, func(d config.ConfigDiff, _ *config.Config) {
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.VocabularyChanged {
			corrector.Store(transcript.New(d.NewVocabulary))
			slog.Info("vocabulary updated", "terms", len(d.NewVocabulary))
		}
		if d.SnippetChanged {
			handler.Store(buildHandler(d.NewSnippetRunes))
			slog.Info("snippet length updated", "runes", d.NewSnippetRunes)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	httpSrv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().(http.Handler).ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "tls", cfg.Server.TLS != nil)
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return err
	}
	slog.Info("goodbye")
	return nil
}

// databaseChecker verifies the store answers a trivial read.
func databaseChecker(st store.Store) health.Checker {
	return health.Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			_, err := st.ListEpisodes(ctx)
			return err
		},
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          resona — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	printProvider("Emotion", cfg.Providers.Emotion.Name, "")
	printProvider("Semantic", cfg.Providers.Semantic.Name, cfg.Providers.Semantic.Model)
	backend := cfg.Storage.Backend
	if backend == "" {
		backend = config.StorageSQLite
	}
	fmt.Printf("║  Storage         : %-19s ║\n", backend)
	fmt.Printf("║  Vocabulary      : %-19d ║\n", len(cfg.Pipeline.Vocabulary))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
