package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":        {"openai", "whisper-local"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"ocr":        {"mistral"},
	"embeddings": {"openai", "ollama", "local"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("ocr", cfg.Providers.OCR.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Fallback chains need a name per entry; unnamed entries cannot be
	// resolved against the registry.
	for i, fb := range cfg.Providers.ASR.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.asr.fallbacks[%d].name is required", i))
		} else {
			validateProviderName("asr", fb.Name)
		}
	}
	for i, fb := range cfg.Providers.LLM.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm.fallbacks[%d].name is required", i))
		} else {
			validateProviderName("llm", fb.Name)
		}
	}

	// Provider availability warnings. The pipeline refuses to start without
	// a full provider set, but an incomplete config is still loadable so
	// that tooling can inspect it.
	if cfg.Providers.ASR.Name == "" {
		slog.Warn("providers.asr is not configured; audio uploads will be rejected")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; extraction and chat will be unavailable")
	}
	if cfg.Providers.OCR.Name == "" {
		slog.Warn("providers.ocr is not configured; document uploads will be rejected")
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; records and vectors will not persist")
	}
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must not be negative", cfg.Storage.EmbeddingDimensions))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.EmbeddingDimensions == 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; defaulting to 384")
	}

	// Ingest
	if cfg.Ingest.Workers < 0 {
		errs = append(errs, fmt.Errorf("ingest.workers %d must not be negative", cfg.Ingest.Workers))
	}
	if cfg.Ingest.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("ingest.queue_depth %d must not be negative", cfg.Ingest.QueueDepth))
	}
	if cfg.Ingest.MinOCRConfidence > 1 {
		errs = append(errs, fmt.Errorf("ingest.min_ocr_confidence %.2f is out of range (0, 1]", cfg.Ingest.MinOCRConfidence))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
