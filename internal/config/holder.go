package config

import (
	"log/slog"
	"sync"
)

// Holder keeps the current Config and reloads it from its YAML file.
// Readers always see a complete, validated Config.
type Holder struct {
	mu        sync.RWMutex
	cfg       *Config
	path      string
	overrides Overrides
}

// NewHolder wraps an already loaded Config.
func NewHolder(cfg *Config, path string, o Overrides) *Holder {
	return &Holder{cfg: cfg, path: path, overrides: o}
}

// Get returns the current Config. Callers must not modify it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Path returns the YAML file the holder reloads from.
func (h *Holder) Path() string {
	return h.path
}

// Reload re-reads the file. On error the previous Config is kept.
func (h *Holder) Reload() error {
	cfg, err := LoadWithOverrides(h.path, h.overrides)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "path", h.path, "error", err)
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	slog.Info("config reloaded", "path", h.path)
	return nil
}
