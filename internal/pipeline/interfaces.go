package pipeline

import (
	"context"
	"io"

	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
	"github.com/quillchat/quill/internal/prompts"
	"github.com/quillchat/quill/internal/providers"
	"github.com/quillchat/quill/internal/rag"
	"github.com/quillchat/quill/internal/websearch"
)

// MessageStore is the persistence surface the pipeline depends on.
type MessageStore interface {
	Create(ctx context.Context, params message.CreateParams) (message.Message, error)
	GetByID(ctx context.Context, id string) (message.Message, error)
	GetMeta(ctx context.Context, messageID string) (map[string]string, error)
	SetMeta(ctx context.Context, messageID, key, value string) error
	UpdateClassification(ctx context.Context, id, topic, language string) error
	Finalize(ctx context.Context, id, text string, status message.Status) error
	AttachFile(ctx context.Context, id, filePath, fileType string) error
	FindChatHistory(ctx context.Context, userID, chatID string, maxCount, maxChars int) ([]message.Message, error)
	FindConversationHistory(ctx context.Context, userID, trackingID string, maxCount int) ([]message.Message, error)
}

// ModelRegistry resolves models, capability defaults, and provider records.
type ModelRegistry interface {
	Resolve(ctx context.Context, ref string) (models.Model, error)
	GetDefaultModel(ctx context.Context, capability models.Capability, userID string) (models.Model, error)
	GetModelTag(ctx context.Context, ref string) (string, error)
	GetModelName(ctx context.Context, ref string) (string, error)
	GetProviderForModel(ctx context.Context, ref string) (providers.Provider, error)
}

// PromptSource resolves the system prompt and metadata for a topic.
type PromptSource interface {
	GetPromptWithMetadata(ctx context.Context, topic, userID, language string) (prompts.PromptWithMetadata, error)
}

// VectorSearcher retrieves stored knowledge chunks.
type VectorSearcher interface {
	SemanticSearch(ctx context.Context, query, userID, groupKey string, limit int, minScore float64) ([]rag.Chunk, error)
}

// WebSearcher issues and persists web searches.
type WebSearcher interface {
	IsEnabled() bool
	Search(ctx context.Context, query string, opts websearch.Options) (websearch.ResultSet, error)
	SaveResults(ctx context.Context, messageID string, set websearch.ResultSet) error
}

// QuerySource produces an optimized search query from raw message text.
type QuerySource interface {
	Generate(ctx context.Context, rawText, userID string) string
}

// FileStore reads and writes pipeline-owned files.
type FileStore interface {
	Put(ctx context.Context, key string, reader io.Reader) error
	Exists(ctx context.Context, key string) bool
	Resolve(key string) (string, error)
	AccessPath(key string) string
}
