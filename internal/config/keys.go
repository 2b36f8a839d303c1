package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LOOM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "embed.base_url", typ: kString, env: "LOOM_EMBED_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embed.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.BaseURL },
	},
	{
		key: "embed.model", typ: kString, env: "LOOM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "embed.dimensions", typ: kInt, env: "LOOM_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Embed.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Embed.Dimensions },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LOOM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "LOOM_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "LOOM_RETRIEVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Threshold },
	},
	{
		key: "retrieval.keyword_weight", typ: kFloat, env: "LOOM_RETRIEVAL_KEYWORD_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.KeywordWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.KeywordWeight },
	},
	{
		key: "retrieval.semantic_weight", typ: kFloat, env: "LOOM_RETRIEVAL_SEMANTIC_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SemanticWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.SemanticWeight },
	},
	{
		key: "retrieval.max_threads", typ: kInt, env: "LOOM_RETRIEVAL_MAX_THREADS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxThreads = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxThreads },
	},
	{
		key: "retrieval.gate_min_words", typ: kInt, env: "LOOM_RETRIEVAL_GATE_MIN_WORDS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.GateMinWords = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.GateMinWords },
	},
	{
		key: "retrieval.gate_min_grade", typ: kFloat, env: "LOOM_RETRIEVAL_GATE_MIN_GRADE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.GateMinGrade = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.GateMinGrade },
	},
	{
		key: "log.level", typ: kString, env: "LOOM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
