// Command clinvox is the main entry point for the Clinvox clinical
// conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/clinvox/clinvox/internal/app"
	"github.com/clinvox/clinvox/internal/config"
	"github.com/clinvox/clinvox/internal/httpapi"
	"github.com/clinvox/clinvox/internal/ingest"
	"github.com/clinvox/clinvox/internal/mcpsrv"
	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/internal/resilience"
	"github.com/clinvox/clinvox/pkg/provider/asr"
	oaasr "github.com/clinvox/clinvox/pkg/provider/asr/openai"
	"github.com/clinvox/clinvox/pkg/provider/asr/whisperlocal"
	"github.com/clinvox/clinvox/pkg/provider/embeddings"
	localembed "github.com/clinvox/clinvox/pkg/provider/embeddings/local"
	ollamaembed "github.com/clinvox/clinvox/pkg/provider/embeddings/ollama"
	oaembed "github.com/clinvox/clinvox/pkg/provider/embeddings/openai"
	"github.com/clinvox/clinvox/pkg/provider/llm"
	"github.com/clinvox/clinvox/pkg/provider/llm/anyllm"
	oallm "github.com/clinvox/clinvox/pkg/provider/llm/openai"
	"github.com/clinvox/clinvox/pkg/provider/ocr"
	"github.com/clinvox/clinvox/pkg/provider/ocr/mistralocr"
)

// version is reported in telemetry and to MCP clients.
const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "clinvox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "clinvox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without replacing the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("clinvox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before any subsystem grabs the global meter provider.
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "clinvox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// Only the log level is hot-applied; everything else is reported so the
	// operator knows a restart is needed.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		for _, section := range d.RestartRequired {
			slog.Warn("config change needs a restart to apply", "section", section)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── MCP tool server (optional) ────────────────────────────────────────────
	if cfg.MCP.Enabled {
		mcp := mcpsrv.New(application)
		go func() {
			if err := mcp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mcp server error", "err", err)
			}
		}()
		slog.Info("mcp tool server listening on stdio")
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8000"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.New(application, nil).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads run to 25 MiB and the chat path holds the response open
		// through the retrieval and generation deadlines.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()
	slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			exit = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. The registered names match
// [config.ValidProviderNames].
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []oaasr.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaasr.WithBaseURL(entry.BaseURL))
		}
		return oaasr.New(entry.APIKey, entry.Model, opts...)
	})

	// whisper-local runs offline against a GGML model file; Model carries the
	// file path.
	reg.RegisterASR("whisper-local", func(entry config.ProviderEntry) (asr.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisperlocal.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperlocal.WithLanguage(lang))
		}
		return whisperlocal.New(modelPath, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native SDK adapter (JSON response format support); the
	// remaining vendors share the any-llm adapter with optional APIKey+BaseURL.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── OCR ───────────────────────────────────────────────────────────────────

	reg.RegisterOCR("mistral", func(entry config.ProviderEntry) (ocr.Provider, error) {
		var opts []mistralocr.Option
		if entry.BaseURL != "" {
			opts = append(opts, mistralocr.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, mistralocr.WithModel(entry.Model))
		}
		return mistralocr.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if d := optInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, oaembed.WithDimensions(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := optInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, ollamaembed.WithDimensions(d))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("local", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []localembed.Option
		if d := optInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, localembed.WithDimensions(d))
		}
		return localembed.New(opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The asr and llm slots honour configured fallback chains: each chain member
// gets its own circuit breaker and the primary fails over in order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.ASR; entry.Name != "" {
		p, err := reg.CreateASR(entry)
		if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", entry.Name, err)
		}
		p = wrapASRRetry(p, entry.Name)
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewASRFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				fp, err := reg.CreateASR(fb)
				if err != nil {
					return nil, fmt.Errorf("create asr fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, wrapASRRetry(fp, fb.Name))
			}
			ps.ASR = group
		} else {
			ps.ASR = p
		}
		slog.Info("provider created", "kind", "asr", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		p = resilience.NewLLMRetry(p, entry.Name, resilience.RetryConfig{})
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				fp, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, resilience.NewLLMRetry(fp, fb.Name, resilience.RetryConfig{}))
			}
			ps.LLM = group
		} else {
			ps.LLM = p
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.OCR; entry.Name != "" {
		p, err := reg.CreateOCR(entry)
		if err != nil {
			return nil, fmt.Errorf("create ocr provider %q: %w", entry.Name, err)
		}
		ps.OCR = resilience.NewOCRRetry(p, entry.Name, resilience.RetryConfig{})
		slog.Info("provider created", "kind", "ocr", "name", entry.Name)
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		retryCfg := resilience.RetryConfig{}
		if entry.Name == "local" {
			// In-process embedder: keep the request counters, skip retries.
			retryCfg.MaxAttempts = 1
		}
		ps.Embeddings = resilience.NewEmbedderRetry(p, entry.Name, retryCfg)
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name)
	}

	return ps, nil
}

// wrapASRRetry adds transient-error retries around hosted transcription
// backends. The in-process whisper backend keeps the request counters but
// never retries: its failures are not transient.
func wrapASRRetry(p asr.Provider, name string) asr.Provider {
	cfg := resilience.RetryConfig{}
	if name == "whisper-local" {
		cfg.MaxAttempts = 1
	}
	return resilience.NewASRRetry(p, name, cfg)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Clinvox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("OCR", cfg.Providers.OCR.Name, cfg.Providers.OCR.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Storage.PostgresDSN != "" {
		fmt.Printf("║  Storage         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Storage         : %-19s ║\n", "(not configured)")
	}
	fmt.Printf("║  Ingest workers  : %-19d ║\n", ingestWorkers(cfg))
	if cfg.MCP.Enabled {
		fmt.Printf("║  MCP server      : %-19s ║\n", "stdio")
	} else {
		fmt.Printf("║  MCP server      : %-19s ║\n", "(disabled)")
	}
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

// ingestWorkers returns the effective worker pool size for the summary.
func ingestWorkers(cfg *config.Config) int {
	if cfg.Ingest.Workers > 0 {
		return cfg.Ingest.Workers
	}
	return ingest.DefaultWorkers
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
