// Package config loads loom's configuration from the platform-native
// backend with LOOM_* environment overrides.
package config

import "fmt"

type Config struct {
	Server    ServerConfig
	Embed     EmbedConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type EmbedConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK           int
	Threshold      float64
	KeywordWeight  float64
	SemanticWeight float64
	MaxThreads     int
	GateMinWords   int
	GateMinGrade   float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Embed: EmbedConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:           10,
			Threshold:      0.0,
			KeywordWeight:  1.0,
			SemanticWeight: 1.0,
			MaxThreads:     5,
			GateMinWords:   20,
			GateMinGrade:   0.3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and applies
// environment overrides.
//
// On macOS the backend is UserDefaults (domain: com.loomkit.loom).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/loom/config.json.
//
// Environment variables (LOOM_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}
