package pipeline

import (
	"context"

	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/prompts"
	"github.com/quillchat/quill/internal/rag"
	"github.com/quillchat/quill/internal/websearch"
)

// ResolvedContext is everything a generation handler needs for one call.
// It is produced once by the orchestrator's resolve step and shared by the
// batch and streaming paths.
type ResolvedContext struct {
	Message        message.Message
	Options        Options
	Classification Classification
	History        []message.Message
	Prompt         prompts.PromptWithMetadata
	RAG            Outcome[[]rag.Chunk]
	Search         Outcome[websearch.ResultSet]
}

// HandlerResult is what a generation handler produces.
type HandlerResult struct {
	Text     string
	FilePath string
	FileText string
	FileType string
	Provider string
	Model    string
}

// Handler generates the reply for one intent category.
type Handler interface {
	Process(ctx context.Context, rc ResolvedContext) (HandlerResult, error)
	ProcessStream(ctx context.Context, rc ResolvedContext, onChunk ChunkFunc, onStatus StatusFunc) (HandlerResult, error)
}

// Registry maps intents to handlers. The table is fixed at construction;
// there is no dynamic registration and no string-keyed lookup at dispatch
// time. Unknown intents fall back to the chat handler.
type Registry struct {
	handlers map[Intent]Handler
	fallback Handler
}

func NewRegistry(chat, media, file Handler) *Registry {
	return &Registry{
		handlers: map[Intent]Handler{
			IntentChat:            chat,
			IntentImageGeneration: media,
			IntentFileAnalysis:    file,
			// Document generation is produced by an external system; the
			// chat handler answers those conversationally.
			IntentDocumentGeneration: chat,
		},
		fallback: chat,
	}
}

func (r *Registry) Resolve(intent Intent) Handler {
	if h, ok := r.handlers[intent]; ok && h != nil {
		return h
	}
	return r.fallback
}
