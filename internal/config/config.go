package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	DataDir  string
	DBPath   string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string

	EmbedEndpoint string
	EmbedModel    string
	EmbedDim      int

	MaxSteps            int
	MaxToolCalls        int
	ConfidenceThreshold float64
	ReasonerTimeout     time.Duration
	TraversalDepthCap   int

	SeedOnStart bool
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("LINEAGED_DATA_DIR", "data")
	return Config{
		HTTPAddr: getEnv("LINEAGED_HTTP_ADDR", ":8080"),
		DataDir:  dataDir,
		DBPath:   getEnv("LINEAGED_DB_PATH", filepath.Join(dataDir, "lineaged.db")),

		LLMProvider: getEnv("LINEAGED_LLM_PROVIDER", "openai-responses"),
		LLMModel:    getEnv("LINEAGED_LLM_MODEL", ""),
		LLMAPIKey:   getEnv("LINEAGED_LLM_API_KEY", ""),

		EmbedEndpoint: getEnv("LINEAGED_EMBED_ENDPOINT", ""),
		EmbedModel:    getEnv("LINEAGED_EMBED_MODEL", "nomic-embed-text"),
		EmbedDim:      getInt("LINEAGED_EMBED_DIM", 384),

		MaxSteps:            getInt("LINEAGED_MAX_STEPS", 10),
		MaxToolCalls:        getInt("LINEAGED_MAX_TOOL_CALLS", 3),
		ConfidenceThreshold: getFloat("LINEAGED_CONFIDENCE_THRESHOLD", 0.7),
		ReasonerTimeout:     getDuration("LINEAGED_REASONER_TIMEOUT", 60*time.Second),
		TraversalDepthCap:   getInt("LINEAGED_TRAVERSAL_DEPTH_CAP", 5),

		SeedOnStart: getBool("LINEAGED_SEED", true),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
