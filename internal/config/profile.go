// Package config holds the two configuration layers: the TOML profile that
// shapes a deployment (models, instructions, storage, endpoints) and the
// ENV-style key/value files that carry credentials.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Profile is the deployment configuration.
type Profile struct {
	Agent    AgentProfile    `toml:"agent"`
	LLM      LLMProfile      `toml:"llm"`
	Embed    EmbedProfile    `toml:"embed"`
	Store    StoreProfile    `toml:"store"`
	Observer ObserverProfile `toml:"observer"`
}

type AgentProfile struct {
	Instructions          string `toml:"instructions"`
	PrefilterInstructions string `toml:"prefilter_instructions"`
	BackfillTarget        int    `toml:"backfill_target"`
}

type LLMProfile struct {
	Model     string `toml:"model"`
	FastModel string `toml:"fast_model"`
	BaseURL   string `toml:"base_url"`
}

type EmbedProfile struct {
	BaseURL string `toml:"base_url"`
}

type StoreProfile struct {
	// Backend selects "sqlite" (default) or "postgres".
	Backend string `toml:"backend"`
	// Dir is the persistence root; one subdirectory per server (sqlite).
	Dir string `toml:"dir"`
	// PostgresDSN is the pool connection string (postgres).
	PostgresDSN string `toml:"postgres_dsn"`
}

type ObserverProfile struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Profile with all defaults applied.
func Default() Profile {
	return Profile{
		Store: StoreProfile{
			Backend: "sqlite",
			Dir:     "archive",
		},
	}
}

// LoadProfile reads the profile: defaults -> TOML file -> env vars
// (env wins). A missing file is not an error; defaults apply.
func LoadProfile(path string) Profile {
	cfg := Default()

	if path == "" {
		path = "interject.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("INTERJECT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("INTERJECT_FAST_MODEL"); v != "" {
		cfg.LLM.FastModel = v
	}
	if v := os.Getenv("INTERJECT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("INTERJECT_EMBED_BASE_URL"); v != "" {
		cfg.Embed.BaseURL = v
	}
	if v := os.Getenv("INTERJECT_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("INTERJECT_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("INTERJECT_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("INTERJECT_BACKFILL_TARGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.BackfillTarget = n
		}
	}
	if v := os.Getenv("INTERJECT_OBSERVER"); v != "" {
		cfg.Observer.Enabled = v == "1" || v == "true"
	}

	return cfg
}
