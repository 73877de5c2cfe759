package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ErrConfiguration marks a problem that must stop startup.
var ErrConfiguration = goerr.New("invalid configuration")

type Config struct {
	ListenAddr    string
	DataDir       string
	PortfolioPath string
	CatalogPath   string
	ChatLogDBPath string

	VisionBackend string
	GeminiAPIKey  string `masq:"secret"`
	GeminiModel   string
	GeminiBaseURL string
	ClaudeAPIKey  string `masq:"secret"`
	ClaudeModel   string
	ClaudeBaseURL string
	OllamaHost    string
	OllamaModel   string
	ModelTimeout  time.Duration

	PhotoBackend     string
	PhotoPath        string
	PhotoS3Bucket    string
	PhotoS3Region    string
	PhotoS3Endpoint  string
	PhotoS3PathStyle bool

	LogLevel string
	LogFile  string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "data")
	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		DataDir:       dataDir,
		PortfolioPath: getEnv("PORTFOLIO_PATH", filepath.Join(dataDir, "tree_data.json")),
		CatalogPath:   getEnv("CATALOG_PATH", filepath.Join(dataDir, "species_prompts.json")),
		ChatLogDBPath: getEnv("CHATLOG_DB_PATH", filepath.Join(dataDir, "chatlog.db")),

		VisionBackend: getEnv("VISION_BACKEND", "gemini"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),
		ClaudeAPIKey:  getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:   getEnv("CLAUDE_MODEL", "claude-opus-4-6"),
		ClaudeBaseURL: getEnv("CLAUDE_BASE_URL", ""),
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llava"),
		ModelTimeout:  getDuration("MODEL_TIMEOUT", 90*time.Second),

		PhotoBackend:     getEnv("PHOTO_BACKEND", "local"),
		PhotoPath:        getEnv("PHOTO_LOCAL_PATH", filepath.Join(dataDir, "photos")),
		PhotoS3Bucket:    getEnv("PHOTO_S3_BUCKET", ""),
		PhotoS3Region:    getEnv("PHOTO_S3_REGION", "us-east-1"),
		PhotoS3Endpoint:  getEnv("PHOTO_S3_ENDPOINT", ""),
		PhotoS3PathStyle: strings.EqualFold(getEnv("PHOTO_S3_PATH_STYLE", "false"), "true"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Validate reports settings that make the process unable to run. The model
// credential is checked here so that a missing key fails at startup rather than
// on the first analysis.
func (c *Config) Validate() error {
	switch c.VisionBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return goerr.Wrap(ErrConfiguration, "GEMINI_API_KEY is required", goerr.V("backend", c.VisionBackend))
		}
	case "claude":
		if c.ClaudeAPIKey == "" {
			return goerr.Wrap(ErrConfiguration, "CLAUDE_API_KEY is required", goerr.V("backend", c.VisionBackend))
		}
	case "ollama":
		if c.OllamaHost == "" {
			return goerr.Wrap(ErrConfiguration, "OLLAMA_HOST is required", goerr.V("backend", c.VisionBackend))
		}
	default:
		return goerr.Wrap(ErrConfiguration, "unknown vision backend", goerr.V("backend", c.VisionBackend))
	}

	switch c.PhotoBackend {
	case "local":
		if c.PhotoPath == "" {
			return goerr.Wrap(ErrConfiguration, "PHOTO_LOCAL_PATH is required")
		}
	case "s3":
		if c.PhotoS3Bucket == "" {
			return goerr.Wrap(ErrConfiguration, "PHOTO_S3_BUCKET is required", goerr.V("backend", c.PhotoBackend))
		}
	default:
		return goerr.Wrap(ErrConfiguration, "unknown photo backend", goerr.V("backend", c.PhotoBackend))
	}

	if c.PortfolioPath == "" || c.CatalogPath == "" {
		return goerr.Wrap(ErrConfiguration, "portfolio and catalog paths are required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
