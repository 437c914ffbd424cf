package app

import (
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger. Production runs log at Info
// without source locations; everywhere else gets Debug with source so local
// movement traces are easy to follow.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
