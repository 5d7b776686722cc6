package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"envreport/internal/logger"
)

// Sink failure policies.
const (
	SinkPolicyAbort  = "abort"
	SinkPolicyMemory = "memory"
)

// Known analysis providers, in the order they are documented.
var KnownProviders = []string{"openai", "gemini", "azure", "qwen", "openrouter", "dots_ocr"}

// Known OCR engines.
var KnownOCREngines = []string{"tesseract", "vision", "documentai"}

type Config struct {
	// Extraction
	OCRFallback  bool
	OCREngines   []string
	OCRDPI       int
	OCRLanguages string
	MinPageChars int

	// Output sink
	OutputDir         string
	SinkFailurePolicy string

	// Analysis
	ProviderOrder    []string
	Providers        map[string]Provider
	ProvidersFile    string
	AnalysisMaxChars int
	AnalysisTimeout  time.Duration

	// Google Cloud (Vision, Document AI, Vertex AI, Sheets)
	GoogleCloudProject    string
	GoogleCloudLocation   string
	VertexAIRegion        string
	DocumentAIProcessorID string

	// Response cache and run history
	CachePath string
	CacheTTL  time.Duration

	// Export
	ExportTemplate       string
	ExportPhase          string
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Server
	ServerAddr  string
	CORSOrigins []string

	// Batch
	BatchWorkers int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OCRFallback:           getEnvBool("OCR_FALLBACK", true),
		OCREngines:            getEnvList("OCR_ENGINE", []string{"tesseract"}),
		OCRDPI:                getEnvInt("OCR_DPI", 200),
		OCRLanguages:          getEnv("OCR_LANGUAGES", "eng+fra"),
		MinPageChars:          getEnvInt("MIN_PAGE_CHARS", 10),
		OutputDir:             getEnv("OUTPUT_DIR", "output"),
		SinkFailurePolicy:     strings.ToLower(getEnv("SINK_FAILURE_POLICY", SinkPolicyAbort)),
		ProviderOrder:         getEnvList("ANALYSIS_PROVIDERS", []string{"openai"}),
		ProvidersFile:         getEnv("PROVIDERS_FILE", ""),
		AnalysisMaxChars:      getEnvInt("ANALYSIS_MAX_CHARS", 30000),
		AnalysisTimeout:       getEnvDuration("ANALYSIS_TIMEOUT", 3*time.Minute),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		VertexAIRegion:        getEnv("VERTEX_AI_REGION", "us-central1"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		CachePath:             getEnv("CACHE_PATH", ""),
		CacheTTL:              getEnvDuration("CACHE_TTL", 24*time.Hour),
		ExportTemplate:        getEnv("EXPORT_TEMPLATE", ""),
		ExportPhase:           getEnv("EXPORT_PHASE", "pre_construction"),
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:  getEnv("GOOGLE_SHEET_WORKSHEET", "Parametres"),
		ServerAddr:            getEnv("SERVER_ADDR", ":8080"),
		CORSOrigins:           getEnvList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		BatchWorkers:          getEnvInt("BATCH_WORKERS", 4),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stderr"),
	}

	for i, name := range config.ProviderOrder {
		config.ProviderOrder[i] = canonicalProvider(name)
	}

	fromFile := map[string]Provider{}
	if config.ProvidersFile != "" {
		var err error
		fromFile, err = LoadProvidersFile(config.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	config.Providers = mergeProviders(fromFile, providersFromEnv(config))

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.SinkFailurePolicy != SinkPolicyAbort && c.SinkFailurePolicy != SinkPolicyMemory {
		return fmt.Errorf("SINK_FAILURE_POLICY must be %q or %q, got %q", SinkPolicyAbort, SinkPolicyMemory, c.SinkFailurePolicy)
	}
	for _, name := range c.ProviderOrder {
		if !contains(KnownProviders, name) {
			return fmt.Errorf("ANALYSIS_PROVIDERS: unknown provider %q (known: %s)", name, strings.Join(KnownProviders, ", "))
		}
	}
	for _, name := range c.OCREngines {
		if !contains(KnownOCREngines, name) {
			return fmt.Errorf("OCR_ENGINE: unknown engine %q (known: %s)", name, strings.Join(KnownOCREngines, ", "))
		}
	}
	if c.OCRDPI < 72 || c.OCRDPI > 600 {
		return fmt.Errorf("OCR_DPI must be between 72 and 600, got %d", c.OCRDPI)
	}
	if c.MinPageChars < 0 {
		return fmt.Errorf("MIN_PAGE_CHARS must not be negative")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1")
	}
	if c.AnalysisMaxChars < 1000 {
		return fmt.Errorf("ANALYSIS_MAX_CHARS must be at least 1000")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// ConfiguredProviders returns the providers of ProviderOrder that have settings, in order.
func (c *Config) ConfiguredProviders() []Provider {
	var out []Provider
	for _, name := range c.ProviderOrder {
		if p, ok := c.Providers[name]; ok && p.Usable() {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
