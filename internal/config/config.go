package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host            string
	Port            int
	ModelPath       string
	MetadataPath    string
	OnnxRuntimeLib  string
	IntraOpThreads  int
	DecoderBackend  string
	MaxUploadBytes  int64
	MaxImagePixels  int
	HistoryDBPath   string // empty disables prediction history
	LogLevel        string
	Development     bool
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. Values in the given .env
// files (default ".env") are applied first but never override variables that
// are already set. Missing files are ignored; a file that exists but cannot
// be parsed is an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return &Config{
		Host:            getEnv("HOST", ""),
		Port:            getEnvAsInt("PORT", 8080),
		ModelPath:       getEnv("MODEL_PATH", filepath.Join(".", "models", "model.onnx")),
		MetadataPath:    getEnv("METADATA_PATH", filepath.Join(".", "models", "model_metadata.json")),
		OnnxRuntimeLib:  getEnv("ONNXRUNTIME_LIB", ""),
		IntraOpThreads:  getEnvAsInt("INTRA_OP_THREADS", 0),
		DecoderBackend:  getEnv("DECODER_BACKEND", "native"),
		MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_MB", 10) << 20,
		MaxImagePixels:  getEnvAsInt("MAX_IMAGE_PIXELS", 64_000_000),
		HistoryDBPath:   getEnv("HISTORY_DB_PATH", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Development:     getEnvAsBool("DEVELOPMENT", false),
		CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
		ShutdownTimeout: time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,
	}, nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue >= 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
