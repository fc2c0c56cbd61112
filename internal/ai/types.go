package ai

// Message is one conversational turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest drives Chat and ChatStream. Model may be a model row UUID or
// a provider-facing model id; when empty the user's CHAT default is used.
type ChatRequest struct {
	UserID         string
	Model          string
	Messages       []Message
	Temperature    *float32
	ResponseFormat *ResponseFormat
}

type ChatResult struct {
	Content  string
	Provider string
	Model    string
	Usage    Usage
}

// StreamResult reports which model produced an already-streamed reply.
type StreamResult struct {
	Provider string
	Model    string
	Usage    Usage
}

type AnalyzeRequest struct {
	UserID    string
	Model     string
	ImagePath string
	Prompt    string
}

type GenerateRequest struct {
	UserID string
	Model  string
	Prompt string
}

type GeneratedItem struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type MediaResult struct {
	Items    []GeneratedItem
	Provider string
	Model    string
}

type SynthesizeRequest struct {
	UserID string
	Model  string
	Text   string
	Voice  string
}

type SynthesisResult struct {
	Filename string
	Provider string
	Model    string
}
