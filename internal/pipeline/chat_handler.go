package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillchat/quill/internal/ai"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
)

// legacyEnvelope is the batch-mode reply envelope some prompts still emit.
type legacyEnvelope struct {
	BText     string `json:"BTEXT"`
	BFile     string `json:"BFILE"`
	BFileText string `json:"BFILETEXT"`
	BLinks    string `json:"BLINKS"`
}

// fileEnvelope is the streaming file-generation envelope.
type fileEnvelope struct {
	Filename string
	Content  string
}

// ChatHandler builds the conversational prompt and runs the chat model.
type ChatHandler struct {
	ai     ai.Facade
	models ModelRegistry
	store  MessageStore
	files  FileStore
	logger *slog.Logger
}

func NewChatHandler(log *slog.Logger, facade ai.Facade, registry ModelRegistry, store MessageStore, files FileStore) *ChatHandler {
	return &ChatHandler{
		ai:     facade,
		models: registry,
		store:  store,
		files:  files,
		logger: log.With(slog.String("handler", "chat")),
	}
}

// selectModel applies the generation model precedence: explicit
// classification model (Again) > prompt-metadata pin > metadata model
// override > per-user CHAT default.
func (h *ChatHandler) selectModel(ctx context.Context, rc ResolvedContext) (models.Model, error) {
	refs := []string{
		rc.Classification.ModelID,
		rc.Prompt.PinnedModel(),
		rc.Classification.OverrideModelID,
	}
	for _, ref := range refs {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		m, err := h.models.Resolve(ctx, ref)
		if err != nil {
			h.logger.Warn("model reference unresolved, trying next",
				slog.String("ref", ref), slog.String("error", err.Error()))
			continue
		}
		return m, nil
	}
	return h.models.GetDefaultModel(ctx, models.CapabilityChat, rc.Message.UserID)
}

// buildSystemPrompt combines the topic prompt with RAG and web context.
func (h *ChatHandler) buildSystemPrompt(rc ResolvedContext) string {
	parts := []string{rc.Prompt.Content}
	if rc.RAG.OK {
		if block := RenderRAGBlock(rc.RAG.Value); block != "" {
			parts = append(parts, block)
		}
	}
	if rc.Search.OK {
		if block := RenderSearchBlock(rc.Search.Value); block != "" {
			parts = append(parts, block)
		}
	}
	return strings.Join(parts, "\n\n")
}

// buildTurns renders history plus the current message as role-tagged turns.
// Models without system-role support get the system prompt merged into the
// first user turn instead.
func buildTurns(systemPrompt string, rc ResolvedContext, supportsSystemRole bool) []ai.Message {
	var turns []ai.Message
	if supportsSystemRole {
		turns = append(turns, ai.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range rc.History {
		role := "user"
		if m.Direction == message.DirectionOut {
			role = "assistant"
		}
		turns = append(turns, ai.Message{Role: role, Content: m.Text})
	}
	userText := rc.Message.Text
	if rc.Message.FileText != "" {
		userText = userText + "\n\nAttached file content:\n" + rc.Message.FileText
	}
	turns = append(turns, ai.Message{Role: "user", Content: userText})

	if !supportsSystemRole {
		for i := range turns {
			if turns[i].Role == "user" {
				turns[i].Content = systemPrompt + "\n\n" + turns[i].Content
				break
			}
		}
	}
	return turns
}

func (h *ChatHandler) Process(ctx context.Context, rc ResolvedContext) (HandlerResult, error) {
	m, err := h.selectModel(ctx, rc)
	if err != nil {
		return HandlerResult{}, err
	}
	systemPrompt := h.buildSystemPrompt(rc)

	// Batch mode encodes the whole turn, prior thread included, as one
	// JSON-structured user message.
	thread := make([]map[string]string, 0, len(rc.History)+1)
	for _, hm := range rc.History {
		role := "user"
		if hm.Direction == message.DirectionOut {
			role = "assistant"
		}
		thread = append(thread, map[string]string{"role": role, "text": hm.Text})
	}
	thread = append(thread, map[string]string{"role": "user", "text": rc.Message.Text})
	encoded, err := json.Marshal(map[string]any{"thread": thread})
	if err != nil {
		return HandlerResult{}, err
	}

	turns := []ai.Message{{Role: "user", Content: string(encoded)}}
	if m.SupportsSystemRole {
		turns = append([]ai.Message{{Role: "system", Content: systemPrompt}}, turns...)
	} else {
		turns[0].Content = systemPrompt + "\n\n" + turns[0].Content
	}

	result, err := h.ai.Chat(ctx, ai.ChatRequest{
		UserID:   rc.Message.UserID,
		Model:    m.ID,
		Messages: turns,
	})
	if err != nil {
		return HandlerResult{}, err
	}

	out := HandlerResult{Text: result.Content, Provider: result.Provider, Model: result.Model}
	if env, ok := decodeLegacyEnvelope(result.Content); ok {
		out.Text = env.BText
		out.FilePath = env.BFile
		out.FileText = env.BFileText
		if env.BLinks != "" {
			out.Text = out.Text + "\n" + env.BLinks
		}
	}
	return out, nil
}

func (h *ChatHandler) ProcessStream(ctx context.Context, rc ResolvedContext, onChunk ChunkFunc, onStatus StatusFunc) (HandlerResult, error) {
	m, err := h.selectModel(ctx, rc)
	if err != nil {
		return HandlerResult{}, err
	}
	systemPrompt := h.buildSystemPrompt(rc)
	turns := buildTurns(systemPrompt, rc, m.SupportsSystemRole)

	// Models without streaming support run the batch call and emit the
	// reply as one chunk. This is a capability branch, not an error.
	if !m.SupportsStreaming {
		result, err := h.ai.Chat(ctx, ai.ChatRequest{
			UserID:   rc.Message.UserID,
			Model:    m.ID,
			Messages: turns,
		})
		if err != nil {
			return HandlerResult{}, err
		}
		return h.finishStream(ctx, rc, result.Content, result.Provider, result.Model, true, onChunk)
	}

	// A reply that opens like JSON or a code fence may be a
	// file-generation envelope, which can only be judged once complete.
	// Those replies are buffered; everything else streams live.
	var (
		full      strings.Builder
		buffering bool
		started   bool
	)
	streamResult, err := h.ai.ChatStream(ctx, ai.ChatRequest{
		UserID:   rc.Message.UserID,
		Model:    m.ID,
		Messages: turns,
	}, func(chunk string) {
		if !started {
			lead := strings.TrimSpace(chunk)
			if strings.HasPrefix(lead, "{") || strings.HasPrefix(lead, "```") {
				buffering = true
			}
			if lead != "" {
				started = true
			}
		}
		full.WriteString(chunk)
		if !buffering && onChunk != nil {
			onChunk(chunk)
		}
	})
	if err != nil {
		return HandlerResult{}, err
	}
	return h.finishStream(ctx, rc, full.String(), streamResult.Provider, streamResult.Model, buffering, onChunk)
}

// finishStream detects a file-generation envelope in the complete reply.
// When found, the content is stored, attached to the message, and the
// visible reply becomes a sentinel referencing the filename. deferred
// indicates the chunks were not streamed live and must be emitted now.
func (h *ChatHandler) finishStream(ctx context.Context, rc ResolvedContext, full, provider, model string, deferred bool, onChunk ChunkFunc) (HandlerResult, error) {
	out := HandlerResult{Text: full, Provider: provider, Model: model}

	if env, ok := decodeFileEnvelope(full); ok {
		key := fmt.Sprintf("%s/generated/%s", rc.Message.UserID, sanitizeFilename(env.Filename))
		if err := h.files.Put(ctx, key, strings.NewReader(env.Content)); err != nil {
			h.logger.Warn("store generated file failed",
				slog.String("filename", env.Filename), slog.String("error", err.Error()))
		} else {
			out.FilePath = h.files.AccessPath(key)
			out.FileType = "file"
			out.Text = fmt.Sprintf("[FILE:%s]", env.Filename)
			if rc.Message.ID != "" {
				if err := h.store.AttachFile(ctx, rc.Message.ID, out.FilePath, out.FileType); err != nil {
					h.logger.Warn("attach generated file failed",
						slog.String("message_id", rc.Message.ID), slog.String("error", err.Error()))
				}
			}
		}
		if onChunk != nil {
			onChunk(out.Text)
		}
		return out, nil
	}

	if deferred && onChunk != nil && out.Text != "" {
		onChunk(out.Text)
	}
	return out, nil
}

// decodeLegacyEnvelope defensively parses the {BTEXT,...} reply shape.
// Malformed JSON falls back to the raw text, it never errors.
func decodeLegacyEnvelope(content string) (legacyEnvelope, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return legacyEnvelope{}, false
	}
	var env legacyEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return legacyEnvelope{}, false
	}
	if env.BText == "" && env.BFile == "" && env.BFileText == "" && env.BLinks == "" {
		return legacyEnvelope{}, false
	}
	return env, true
}

// decodeFileEnvelope recognizes a {<path field>: name, <text field>:
// content} reply, including one wrapped in a fenced code block.
func decodeFileEnvelope(content string) (fileEnvelope, bool) {
	trimmed := stripCodeFences(content)
	if !strings.HasPrefix(trimmed, "{") {
		return fileEnvelope{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return fileEnvelope{}, false
	}
	name := firstString(raw, "filename", "file", "path", "name")
	body := firstString(raw, "content", "text", "body")
	if name == "" || body == "" {
		return fileEnvelope{}, false
	}
	return fileEnvelope{Filename: name, Content: body}, true
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = name[strings.LastIndex(name, "/")+1:]
	name = strings.ReplaceAll(name, "..", "")
	if name == "" {
		name = "generated.txt"
	}
	return name
}
