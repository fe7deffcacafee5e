package config_test

import (
	"slices"
	"testing"

	"github.com/clinvox/clinvox/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level change should not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_ProviderChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
		},
	}

	d := config.Diff(old, new)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
	if !slices.Contains(d.RestartRequired, "providers.llm") {
		t.Errorf("expected providers.llm in RestartRequired, got %v", d.RestartRequired)
	}
}

func TestDiff_FallbackChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Providers: config.ProvidersConfig{
			ASR: config.ProviderEntry{Name: "openai"},
		},
	}
	new := &config.Config{
		Providers: config.ProvidersConfig{
			ASR: config.ProviderEntry{
				Name:      "openai",
				Fallbacks: []config.ProviderEntry{{Name: "whisper-local", Model: "/m.bin"}},
			},
		},
	}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "providers.asr") {
		t.Errorf("expected providers.asr in RestartRequired, got %v", d.RestartRequired)
	}
}

func TestDiff_StorageAndIngestAndMCP(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Storage: config.StorageConfig{PostgresDSN: "postgres://a"},
		Ingest:  config.IngestConfig{Workers: 4},
	}
	new := &config.Config{
		Storage: config.StorageConfig{PostgresDSN: "postgres://b"},
		Ingest:  config.IngestConfig{Workers: 8},
		MCP:     config.MCPConfig{Enabled: true},
	}

	d := config.Diff(old, new)
	for _, want := range []string{"storage", "ingest", "mcp"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("expected %s in RestartRequired, got %v", want, d.RestartRequired)
		}
	}
}

func TestDiff_ListenAddrChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{ListenAddr: ":8000"}}
	new := &config.Config{Server: config.ServerConfig{ListenAddr: ":9000"}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "server") {
		t.Errorf("expected server in RestartRequired, got %v", d.RestartRequired)
	}
}
