package providers

type ClientType string

const (
	ClientTypeOpenAI       ClientType = "openai"
	ClientTypeOpenAICompat ClientType = "openai-compat"
	ClientTypeOllama       ClientType = "ollama"
)

// Provider is a configured LLM endpoint.
type Provider struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ClientType ClientType `json:"client_type"`
	BaseURL    string     `json:"base_url"`
	APIKey     string     `json:"api_key,omitempty"`
	Enabled    bool       `json:"enabled"`
}

type CreateRequest struct {
	Name       string `json:"name" validate:"required"`
	ClientType string `json:"client_type"`
	BaseURL    string `json:"base_url" validate:"required,url"`
	APIKey     string `json:"api_key"`
}
