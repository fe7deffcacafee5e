package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running server; every other change is reported so the
// watcher can tell the operator a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the config sections whose new values cannot be
	// applied without restarting (providers, storage, ingest pool, mcp).
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level is hot-applied via the process LevelVar.
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Everything else is wired at startup: provider clients, the pgx pool,
	// the worker pool and the MCP server all hold the old values.
	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers.ASR, new.Providers.ASR) {
		d.RestartRequired = append(d.RestartRequired, "providers.asr")
	}
	if !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if !reflect.DeepEqual(old.Providers.OCR, new.Providers.OCR) {
		d.RestartRequired = append(d.RestartRequired, "providers.ocr")
	}
	if !reflect.DeepEqual(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "providers.embeddings")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Ingest != new.Ingest {
		d.RestartRequired = append(d.RestartRequired, "ingest")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}

	return d
}
