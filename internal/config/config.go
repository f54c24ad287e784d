// Package config handles service configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string

	// Data layout
	DataDir  string
	AudioDir string
	LogsDir  string

	// Generation
	PreferLocal     bool
	LocalURL        string
	LocalModel      string
	RemoteAPIKey    string
	RemoteURL       string
	RoleModels      map[string]string
	Temperature     float64
	MaxRetries      int
	GenerateTimeout time.Duration

	// Recording
	SampleRate       int
	Channels         int
	InputDevice      string // device name substring or numeric index, empty = default
	SilenceDetection bool
	SilenceThreshold float64
	SilenceDuration  time.Duration

	// Transcription
	TranscriberAddr string

	// Vector index
	VectorEnabled bool
	EmbedModel    string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "data")
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8700"),

		DataDir:  dataDir,
		AudioDir: getEnv("AUDIO_DIR", filepath.Join(dataDir, "input_voice")),
		LogsDir:  getEnv("LOGS_DIR", filepath.Join(dataDir, "logs")),

		PreferLocal:  getEnvBool("USE_LOCAL_LLM", true),
		LocalURL:     getEnv("LOCAL_LLM_URL", "http://localhost:11434"),
		LocalModel:   getEnv("LOCAL_LLM_MODEL", "llama3.2"),
		RemoteAPIKey: getEnv("OPENAI_API_KEY", ""),
		RemoteURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		RoleModels: map[string]string{
			"writing":    getEnv("GPT_MODEL_WRITING", "gpt-4o-mini"),
			"fact_check": getEnv("GPT_MODEL_FACT_CHECK", "gpt-4o-mini"),
			"expander":   getEnv("GPT_MODEL_EXPANDER", "gpt-4o-mini"),
		},
		Temperature:     getEnvFloat("DEFAULT_TEMPERATURE", 0.7),
		MaxRetries:      getEnvInt("GENERATION_MAX_RETRIES", 2),
		GenerateTimeout: getEnvDuration("GENERATION_TIMEOUT", 120*time.Second),

		SampleRate:       getEnvInt("SAMPLE_RATE", 44100),
		Channels:         getEnvInt("AUDIO_CHANNELS", 1),
		InputDevice:      getEnv("AUDIO_INPUT_DEVICE", ""),
		SilenceDetection: getEnvBool("SILENCE_DETECTION_ENABLED", true),
		SilenceThreshold: getEnvFloat("SILENCE_THRESHOLD", 0.01),
		SilenceDuration:  getEnvDuration("SILENCE_DURATION", 3*time.Second),

		TranscriberAddr: getEnv("TRANSCRIBER_ADDR", "localhost:50051"),

		VectorEnabled: getEnvBool("VECTOR_SEARCH_ENABLED", true),
		EmbedModel:    getEnv("EMBED_MODEL", "nomic-embed-text"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare numbers are seconds, matching the old settings format
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
