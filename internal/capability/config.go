package capability

import (
	"net/http"
	"os"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config for the extraction capability clients.
type Config struct {
	APIKey          string        // falls back to OPENAI_API_KEY / GEMINI_API_KEY
	BaseURL         string        // provider default when empty
	Model           string        // e.g. "gpt-4o-mini", "gemini-2.0-flash"
	Temperature     float32       // 0..2
	Timeout         time.Duration // http client timeout
	MaxPromptTokens int
	MaxOutputTokens int
	HTTPClient      *http.Client
}

func (c Config) withDefaults(provider string) Config {
	if c.APIKey == "" {
		switch provider {
		case ProviderGemini:
			c.APIKey = os.Getenv("GEMINI_API_KEY")
		default:
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.BaseURL == "" && provider == ProviderOpenAI {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		switch provider {
		case ProviderGemini:
			c.Model = "gemini-2.0-flash"
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.MaxPromptTokens <= 0 {
		c.MaxPromptTokens = 12000
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 2048
	}
	return c
}
