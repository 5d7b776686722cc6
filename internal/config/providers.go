package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Provider holds the settings of one analysis backend.
type Provider struct {
	Name       string `json:"-"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
	Project    string `json:"project,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Usable reports whether the settings are complete enough to build a client.
func (p Provider) Usable() bool {
	switch p.Name {
	case "gemini":
		return p.Project != ""
	case "dots_ocr":
		return p.Endpoint != ""
	case "azure":
		return p.APIKey != "" && p.Endpoint != ""
	default:
		return p.APIKey != ""
	}
}

const providersSchema = `{
  "type": "object",
  "propertyNames": {"enum": ["openai", "gemini", "google", "azure", "qwen", "openrouter", "dots_ocr"]},
  "additionalProperties": {
    "type": "object",
    "properties": {
      "api_key":     {"type": "string"},
      "model":       {"type": "string"},
      "endpoint":    {"type": "string"},
      "deployment":  {"type": "string"},
      "api_version": {"type": "string"},
      "project":     {"type": "string"},
      "location":    {"type": "string"}
    },
    "additionalProperties": false
  }
}`

// LoadProvidersFile reads a JSON provider file and validates it before use.
func LoadProvidersFile(path string) (map[string]Provider, error) {
	const op = "LoadProvidersFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", op, path, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("providers.json", bytes.NewReader([]byte(providersSchema))); err != nil {
		return nil, fmt.Errorf("%s: add schema: %w", op, err)
	}
	schema, err := compiler.Compile("providers.json")
	if err != nil {
		return nil, fmt.Errorf("%s: compile schema: %w", op, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %s is not valid JSON: %w", op, path, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%s: %s does not match the provider schema: %w", op, path, err)
	}

	var decoded map[string]Provider
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	out := make(map[string]Provider, len(decoded))
	for name, p := range decoded {
		p.Name = canonicalProvider(name)
		out[p.Name] = p
	}
	return out, nil
}

func providersFromEnv(c *Config) map[string]Provider {
	return map[string]Provider{
		"openai": {
			Name:   "openai",
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", ""),
		},
		"gemini": {
			Name:     "gemini",
			Project:  c.GoogleCloudProject,
			Location: getEnv("VERTEX_AI_REGION", ""),
			Model:    getEnv("GEMINI_MODEL", ""),
		},
		"azure": {
			Name:       "azure",
			APIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: getEnv("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: getEnv("AZURE_OPENAI_API_VERSION", ""),
		},
		"qwen": {
			Name:     "qwen",
			APIKey:   getEnv("QWEN_API_KEY", ""),
			Endpoint: getEnv("QWEN_ENDPOINT", ""),
			Model:    getEnv("QWEN_MODEL", ""),
		},
		"openrouter": {
			Name:   "openrouter",
			APIKey: getEnv("OPENROUTER_API_KEY", ""),
			Model:  getEnv("OPENROUTER_MODEL", ""),
		},
		"dots_ocr": {
			Name:     "dots_ocr",
			Endpoint: getEnv("DOTS_OCR_ENDPOINT", ""),
			Model:    getEnv("DOTS_OCR_MODEL", ""),
		},
	}
}

// mergeProviders overlays non-empty env values on top of file values.
func mergeProviders(file, env map[string]Provider) map[string]Provider {
	out := make(map[string]Provider, len(env))
	for name, p := range file {
		out[name] = p
	}
	for name, e := range env {
		p := out[name]
		p.Name = name
		p.APIKey = pick(e.APIKey, p.APIKey)
		p.Model = pick(e.Model, p.Model)
		p.Endpoint = pick(e.Endpoint, p.Endpoint)
		p.Deployment = pick(e.Deployment, p.Deployment)
		p.APIVersion = pick(e.APIVersion, p.APIVersion)
		p.Project = pick(e.Project, p.Project)
		p.Location = pick(e.Location, p.Location)
		out[name] = p
	}
	return out
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func canonicalProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "google":
		return "gemini"
	case "dots.ocr", "dotsocr":
		return "dots_ocr"
	}
	return name
}
