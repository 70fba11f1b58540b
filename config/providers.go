package config

import (
	"strings"
	"time"
)

// ProvidersConfig lists chat providers in failover order. Names in Order refer to
// OpenAI.Name, "gemini" or "ollama".
type ProvidersConfig struct {
	Order  []string     `yaml:"order"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// OpenAIConfig covers any OpenAI-compatible endpoint. Name is the tag the provider
// reports, e.g. "zhipu" when BaseURL points at BigModel.
type OpenAIConfig struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type GeminiConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type OllamaConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c *ProvidersConfig) applyEnv() {
	envStrings(&c.Order, "PROVIDERS_ORDER")
	for i := range c.Order {
		c.Order[i] = strings.ToLower(c.Order[i])
	}

	envString(&c.OpenAI.Name, "OPENAI_PROVIDER_NAME")
	envString(&c.OpenAI.APIKey, "ZHIPU_API_KEY")
	envString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	envString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	envString(&c.OpenAI.Model, "OPENAI_MODEL")

	envString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	envString(&c.Gemini.Model, "GEMINI_MODEL")

	envString(&c.Ollama.Endpoint, "OLLAMA_ENDPOINT")
	envString(&c.Ollama.Model, "OLLAMA_MODEL")
}
