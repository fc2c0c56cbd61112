package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/quillchat/quill/internal/ai"
	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/websearch"
)

// Processor sequences the pipeline: preprocess, classify, load history and
// context, dispatch to the intent handler. The batch and streaming entry
// points share one resolve step so precedence rules have a single source
// of truth.
type Processor struct {
	cfg        config.PipelineConfig
	pre        *Preprocessor
	classifier *Classifier
	registry   *Registry
	store      MessageStore
	models     ModelRegistry
	prompts    PromptSource
	loader     *ContextLoader
	logger     *slog.Logger
}

func NewProcessor(
	log *slog.Logger,
	cfg config.PipelineConfig,
	pre *Preprocessor,
	classifier *Classifier,
	registry *Registry,
	store MessageStore,
	modelRegistry ModelRegistry,
	promptSvc PromptSource,
	loader *ContextLoader,
) *Processor {
	return &Processor{
		cfg:        cfg,
		pre:        pre,
		classifier: classifier,
		registry:   registry,
		store:      store,
		models:     modelRegistry,
		prompts:    promptSvc,
		loader:     loader,
		logger:     log.With(slog.String("service", "processor")),
	}
}

// Process runs the pipeline in batch mode.
func (p *Processor) Process(ctx context.Context, msg message.Message, opts Options) Result {
	rc, err := p.resolve(ctx, msg, opts, nil)
	if err != nil {
		return p.failure(err, rc.Classification, nil)
	}
	handler := p.registry.Resolve(rc.Classification.Intent)
	hr, err := handler.Process(ctx, rc)
	if err != nil {
		return p.failure(err, rc.Classification, nil)
	}
	return p.success(hr, rc.Classification, nil)
}

// ProcessStream runs the pipeline in streaming mode. Reply text flows
// through onChunk; progress events through onStatus. Both callbacks are
// optional.
func (p *Processor) ProcessStream(ctx context.Context, msg message.Message, opts Options, onChunk ChunkFunc, onStatus StatusFunc) Result {
	rc, err := p.resolve(ctx, msg, opts, onStatus)
	if err != nil {
		return p.failure(err, rc.Classification, onStatus)
	}
	handler := p.registry.Resolve(rc.Classification.Intent)
	hr, err := handler.ProcessStream(ctx, rc, onChunk, onStatus)
	if err != nil {
		return p.failure(err, rc.Classification, onStatus)
	}
	return p.success(hr, rc.Classification, onStatus)
}

// resolve is the shared pre-generation step: preprocess, pick the
// classification mode, load history, resolve the prompt, and load
// best-effort context.
func (p *Processor) resolve(ctx context.Context, msg message.Message, opts Options, onStatus StatusFunc) (ResolvedContext, error) {
	p.pre.Prepare(&msg)

	history := p.loadHistory(ctx, msg)

	var (
		cls Classification
		err error
	)
	switch {
	case strings.TrimSpace(opts.FixedTaskPrompt) != "":
		// Widget mode: the embedding page pinned the task prompt.
		cls = Classification{
			Topic:       strings.TrimSpace(opts.FixedTaskPrompt),
			Language:    msg.Language,
			Source:      SourceWidget,
			SkipSorting: true,
		}
		cls.Intent = topicIntent(cls.Topic)
	case strings.TrimSpace(opts.ModelID) != "":
		cls = p.classifyAgain(ctx, msg, opts)
	case opts.ForceImageDescription:
		cls = Classification{
			Topic:       TopicAnalyzeFile,
			Language:    msg.Language,
			Intent:      IntentFileAnalysis,
			Source:      SourceForcedImageDesc,
			SkipSorting: true,
		}
	default:
		if onStatus != nil {
			onStatus(StatusClassifying)
		}
		cls, err = p.classifier.Classify(ctx, msg, history)
		if err != nil {
			return ResolvedContext{}, err
		}
	}

	// Copy topic/language back onto the message row; best-effort.
	if msg.ID != "" && cls.Topic != "" {
		if err := p.store.UpdateClassification(ctx, msg.ID, cls.Topic, cls.Language); err != nil {
			p.logger.Warn("persist classification failed",
				slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		}
	}

	prompt, err := p.prompts.GetPromptWithMetadata(ctx, cls.Topic, msg.UserID, cls.Language)
	if err != nil {
		return ResolvedContext{Classification: cls}, err
	}

	rc := ResolvedContext{
		Message:        msg,
		Options:        opts,
		Classification: cls,
		History:        history,
		Prompt:         prompt,
	}

	rc.RAG = p.loader.LoadRAG(ctx, msg, cls, opts)
	if !rc.RAG.OK {
		p.logger.Warn("rag context degraded", slog.String("reason", rc.RAG.Reason))
	}

	if ShouldSearch(cls, opts, prompt) {
		if onStatus != nil {
			onStatus(StatusSearching)
		}
		rc.Search = p.loader.LoadSearch(ctx, msg, cls)
		if !rc.Search.OK {
			p.logger.Warn("search context degraded", slog.String("reason", rc.Search.Reason))
		}
	} else {
		rc.Search = Degraded[websearch.ResultSet]("web search not requested")
	}

	return rc, nil
}

// classifyAgain handles re-processing with a forced model: classification
// is skipped and the topic comes from the prompt override when one was
// supplied, else from the message's existing topic (default chat) remapped
// by the overridden model's capability tag.
func (p *Processor) classifyAgain(ctx context.Context, msg message.Message, opts Options) Classification {
	if promptID := strings.TrimSpace(opts.PromptID); promptID != "" && promptID != PromptIDSortSentinel {
		cls := Classification{
			Topic:       promptID,
			Language:    msg.Language,
			Source:      SourceAgain,
			SkipSorting: true,
			ModelID:     strings.TrimSpace(opts.ModelID),
		}
		cls.Intent = topicIntent(promptID)
		return cls
	}

	topic := msg.Topic
	if strings.TrimSpace(topic) == "" {
		topic = TopicChat
	}
	if tag, err := p.models.GetModelTag(ctx, opts.ModelID); err == nil {
		topic = topicForTag(tag, topic)
	} else {
		p.logger.Warn("again model tag lookup failed",
			slog.String("model_id", opts.ModelID), slog.String("error", err.Error()))
	}
	cls := Classification{
		Topic:       topic,
		Language:    msg.Language,
		Source:      SourceAgain,
		SkipSorting: true,
		ModelID:     strings.TrimSpace(opts.ModelID),
	}
	cls.Intent = topicIntent(topic)
	return cls
}

// loadHistory prefers the chat-id scope over the legacy tracking-id scope.
func (p *Processor) loadHistory(ctx context.Context, msg message.Message) []message.Message {
	if msg.ChatID != "" {
		history, err := p.store.FindChatHistory(ctx, msg.UserID, msg.ChatID,
			p.cfg.HistoryMaxMessages, p.cfg.HistoryMaxChars)
		if err != nil {
			p.logger.Warn("chat history lookup failed",
				slog.String("chat_id", msg.ChatID), slog.String("error", err.Error()))
			return nil
		}
		return history
	}
	if msg.TrackingID != "" {
		history, err := p.store.FindConversationHistory(ctx, msg.UserID, msg.TrackingID,
			p.cfg.LegacyHistoryMaxMessages)
		if err != nil {
			p.logger.Warn("conversation history lookup failed",
				slog.String("tracking_id", msg.TrackingID), slog.String("error", err.Error()))
			return nil
		}
		return history
	}
	return nil
}

func (p *Processor) success(hr HandlerResult, cls Classification, onStatus StatusFunc) Result {
	if onStatus != nil {
		onStatus(StatusComplete)
	}
	return Result{
		Success:        true,
		Text:           hr.Text,
		FilePath:       hr.FilePath,
		FileText:       hr.FileText,
		FileType:       hr.FileType,
		Provider:       hr.Provider,
		Model:          hr.Model,
		Classification: cls,
	}
}

// failure converts an error into the caller-facing result. Typed provider
// errors surface verbatim; anything else is logged in full and only the
// message crosses the boundary.
func (p *Processor) failure(err error, cls Classification, onStatus StatusFunc) Result {
	if onStatus != nil {
		onStatus(StatusError)
	}
	if pe, ok := ai.AsProviderError(err); ok {
		p.logger.Error("provider failure",
			slog.String("provider", pe.Provider), slog.String("error", pe.Error()))
		return Result{Classification: cls, Error: pe.Error()}
	}
	p.logger.Error("pipeline failure", slog.Any("error", err))
	return Result{Classification: cls, Error: err.Error()}
}
