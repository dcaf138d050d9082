package config

import (
	"fmt"
	"os"

	yamlv2 "gopkg.in/yaml.v2"
)

// Universe is the legacy symbol-universe file format, kept readable so
// existing watchlists keep working. Per-symbol overrides beat the global
// defaults in Config.
type Universe struct {
	Symbols []UniverseSymbol `yaml:"symbols"`
}

// UniverseSymbol is one watchlist entry.
type UniverseSymbol struct {
	Name     string  `yaml:"name"`
	TickSize float64 `yaml:"tick_size"`
	Enabled  *bool   `yaml:"enabled"`
}

// LoadUniverse reads a legacy universe file. The format predates the main
// config and is parsed with yaml.v2 for its map-ordering behavior.
func LoadUniverse(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}

	var u Universe
	if err := yamlv2.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parse universe YAML: %w", err)
	}
	if len(u.Symbols) == 0 {
		return nil, fmt.Errorf("universe file %s lists no symbols", path)
	}
	return &u, nil
}

// Enabled returns the active symbol names, preserving file order.
func (u *Universe) Enabled() []string {
	out := make([]string, 0, len(u.Symbols))
	for _, s := range u.Symbols {
		if s.Enabled != nil && !*s.Enabled {
			continue
		}
		if s.Name != "" {
			out = append(out, s.Name)
		}
	}
	return out
}

// TickSizeFor returns the per-symbol tick size override, or fallback.
func (u *Universe) TickSizeFor(symbol string, fallback float64) float64 {
	for _, s := range u.Symbols {
		if s.Name == symbol && s.TickSize > 0 {
			return s.TickSize
		}
	}
	return fallback
}
