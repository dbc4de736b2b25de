package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/joelkehle/idf-drafter/internal/config"
	"github.com/joelkehle/idf-drafter/internal/drafts"
	"github.com/joelkehle/idf-drafter/internal/generate"
	"github.com/joelkehle/idf-drafter/internal/layout"
	"github.com/joelkehle/idf-drafter/internal/logging"
	"github.com/joelkehle/idf-drafter/internal/metrics"
	"github.com/joelkehle/idf-drafter/internal/render/chromium"
	"github.com/joelkehle/idf-drafter/internal/render/raster"
	"github.com/joelkehle/idf-drafter/internal/server"
	"github.com/joelkehle/idf-drafter/internal/tracing"
)

var version = "dev"

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, tracing.Config{
		ServiceName: "idf-drafter",
		Version:     version,
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		log.Fatal("tracing init failed", "error", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	fonts := layout.DefaultFontMetrics()
	if cfg.FontRegular == "" {
		log.Warn("no font configured, drafts with Hebrew text will not export", "flag", "--font-regular")
	} else {
		fonts, err = layout.LoadFontMetrics(cfg.FontRegular, cfg.FontBold)
		if err != nil {
			log.Fatal("font load failed", "error", err)
		}
	}
	if err := os.MkdirAll(cfg.FiguresDir, 0o750); err != nil {
		log.Fatal("figures dir unavailable", "dir", cfg.FiguresDir, "error", err)
	}
	images := layout.DirImages{Root: cfg.FiguresDir}

	m := metrics.New()
	store := drafts.NewStore(drafts.WithSizeHook(func(n int) { m.Drafts.Set(float64(n)) }))

	var bootstrap, refine generate.LLMCaller
	if c, err := generate.NewAnthropicCaller(cfg.AnthropicAPIKey, cfg.AnthropicModel); err == nil {
		bootstrap = c
	} else {
		log.Warn("bootstrap provider disabled", "error", err)
	}
	if c, err := generate.NewPerplexityCaller(cfg.PerplexityAPIKey, cfg.PerplexityURL, cfg.PerplexityModel); err == nil {
		refine = c
	} else {
		log.Warn("refine provider disabled", "error", err)
	}
	gen := generate.New(bootstrap, refine,
		generate.Config{Timeout: cfg.Timeout, MaxAttempts: cfg.MaxAttempts},
		generate.WithLogger(log), generate.WithMetrics(m))

	engine := layout.New(fonts,
		layout.WithImages(images),
		layout.WithBranding(cfg.Branding),
		layout.WithLogger(log))

	pdfOpts := []chromium.Option{chromium.WithLogger(log)}
	if cfg.ChromePath != "" {
		pdfOpts = append(pdfOpts, chromium.WithChromePath(cfg.ChromePath))
	}

	handler := server.New(server.Deps{
		Store:      store,
		Generator:  gen,
		Layout:     engine,
		PDF:        chromium.New(fonts, images, pdfOpts...),
		PNG:        raster.New(fonts, images, cfg.PreviewDPI, log),
		Branding:   cfg.Branding,
		FiguresDir: cfg.FiguresDir,
		MaxUpload:  cfg.MaxUpload,
		Log:        log,
		Metrics:    m,
	})

	go pruneLoop(ctx, log, store, cfg.FiguresDir, cfg.DraftTTL)

	log.Info("idf-drafter listening", "addr", cfg.ListenAddr, "version", version,
		"bootstrap", bootstrap != nil, "refine", refine != nil)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", "error", err)
	}
}

func pruneLoop(ctx context.Context, log *logging.Logger, store *drafts.Store, figuresDir string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	t := time.NewTicker(ttl / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := server.Prune(store, figuresDir, ttl); n > 0 {
				log.Info("pruned idle drafts", "count", n)
			}
		}
	}
}
