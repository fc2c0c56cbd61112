package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
)

// slashCommands maps a recognized text prefix to its tool topic.
var slashCommands = []struct {
	prefix string
	topic  string
}{
	{"/pic", "tools:pic"},
	{"/vid", "tools:vid"},
	{"/search", "tools:search"},
	{"/lang", "tools:lang"},
	{"/web", "tools:web"},
	{"/list", "tools:list"},
	{"/docs", "tools:filesort"},
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {},
}

// Sorter is the AI-based fallback classifier.
type Sorter interface {
	Sort(ctx context.Context, msg message.Message, history []message.Message) (SortOutcome, error)
}

// SortOutcome is what the AI sorter reports back.
type SortOutcome struct {
	Topic     string
	Language  string
	WebSearch bool
	MediaType string
	Duration  int

	ModelID   string
	ModelName string
	Provider  string
}

// Classifier determines routing intent from overrides, slash commands,
// attachment type, or AI-based sorting. Checks run in a fixed precedence
// order; the first match wins and short-circuits the rest.
type Classifier struct {
	store  MessageStore
	models ModelRegistry
	sorter Sorter
	logger *slog.Logger
}

func NewClassifier(log *slog.Logger, store MessageStore, registry ModelRegistry, sorter Sorter) *Classifier {
	return &Classifier{
		store:  store,
		models: registry,
		sorter: sorter,
		logger: log.With(slog.String("service", "classifier")),
	}
}

func (c *Classifier) Classify(ctx context.Context, msg message.Message, history []message.Message) (Classification, error) {
	meta := map[string]string{}
	if msg.ID != "" {
		loaded, err := c.store.GetMeta(ctx, msg.ID)
		if err != nil {
			c.logger.Warn("load message metadata failed",
				slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		} else {
			meta = loaded
		}
	}

	promptID := strings.TrimSpace(meta[message.MetaKeyPromptID])
	modelID := strings.TrimSpace(meta[message.MetaKeyModelID])

	// 1. Prompt override.
	if promptID != "" && promptID != PromptIDSortSentinel {
		cls := Classification{
			Topic:       promptID,
			Language:    msg.Language,
			Source:      SourcePromptOverride,
			SkipSorting: true,
			ModelID:     modelID,
		}
		cls.Intent = topicIntent(cls.Topic)
		return cls, nil
	}

	// 2. Model-only override.
	if modelID != "" {
		topic := c.topicForModelOverride(ctx, modelID, msg.Topic)
		cls := Classification{
			Topic:           topic,
			Language:        msg.Language,
			Source:          SourceModelOverrideAuto,
			SkipSorting:     true,
			OverrideModelID: modelID,
		}
		cls.Intent = topicIntent(cls.Topic)
		return cls, nil
	}

	// 3. Slash/tool command.
	if topic, ok := matchSlashCommand(msg.Text); ok {
		cls := Classification{
			Topic:       topic,
			Language:    msg.Language,
			Source:      SourceToolCommand,
			SkipSorting: true,
		}
		cls.Intent = topicIntent(cls.Topic)
		return cls, nil
	}

	// 4. Image attachment guard. Prevents images from routing to handlers
	// that do not perform vision analysis.
	if hasImageAttachment(msg) {
		return Classification{
			Topic:       TopicAnalyzeFile,
			Language:    msg.Language,
			Intent:      IntentFileAnalysis,
			Source:      SourceImageAttachment,
			SkipSorting: true,
		}, nil
	}

	// 5. AI-based sorting.
	outcome, err := c.sorter.Sort(ctx, msg, history)
	if err != nil {
		return Classification{}, fmt.Errorf("ai sorting: %w", err)
	}
	topic := outcome.Topic
	if topic == "" {
		topic = TopicGeneral
	}
	cls := Classification{
		Topic:         topic,
		Language:      outcome.Language,
		Source:        SourceAISorting,
		WebSearch:     outcome.WebSearch,
		MediaType:     outcome.MediaType,
		Duration:      outcome.Duration,
		SortModelID:   outcome.ModelID,
		SortModelName: outcome.ModelName,
		SortProvider:  outcome.Provider,
	}
	cls.Intent = topicIntent(cls.Topic)
	return cls, nil
}

// topicForModelOverride maps an overridden model's capability tag to the
// topic that exercises it.
func (c *Classifier) topicForModelOverride(ctx context.Context, modelID, priorTopic string) string {
	tag, err := c.models.GetModelTag(ctx, modelID)
	if err != nil {
		c.logger.Warn("model tag lookup failed",
			slog.String("model_id", modelID), slog.String("error", err.Error()))
		tag = ""
	}
	return topicForTag(tag, priorTopic)
}

func topicForTag(tag, priorTopic string) string {
	switch tag {
	case models.TagText2Pic, models.TagText2Vid, models.TagText2Sound:
		return TopicMediaMaker
	case models.TagPic2Text, models.TagAnalyze:
		return TopicAnalyzeFile
	case models.TagChat, models.TagVectorize:
		return TopicGeneral
	default:
		if priorTopic != "" {
			return priorTopic
		}
		return TopicGeneral
	}
}

func matchSlashCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for _, cmd := range slashCommands {
		if trimmed == cmd.prefix || strings.HasPrefix(trimmed, cmd.prefix+" ") {
			return cmd.topic, true
		}
	}
	return "", false
}

// hasImageAttachment checks MIME prefix, the legacy type token, and the
// stored path extension.
func hasImageAttachment(msg message.Message) bool {
	fileType := strings.ToLower(strings.TrimSpace(msg.FileType))
	if strings.HasPrefix(fileType, "image/") || fileType == "image" || fileType == "img" {
		return true
	}
	if msg.FilePath != "" {
		ext := strings.ToLower(filepath.Ext(msg.FilePath))
		if _, ok := imageExtensions[ext]; ok {
			return true
		}
	}
	return false
}

// topicIntent maps a topic to the handler category serving it. Unknown
// topics route to chat; that is the designed fallback, not an error.
func topicIntent(topic string) Intent {
	t := strings.ToLower(strings.TrimSpace(topic))
	switch {
	case strings.Contains(t, "analyze") || strings.Contains(t, "pic2text"):
		return IntentFileAnalysis
	case t == "tools:pic" || t == "tools:vid" || strings.Contains(t, "media") ||
		strings.HasPrefix(t, "pic") || strings.HasPrefix(t, "vid") || strings.HasPrefix(t, "sound"):
		return IntentImageGeneration
	case strings.Contains(t, "office") || strings.Contains(t, "document") ||
		strings.Contains(t, "docs") || t == "tools:filesort":
		return IntentDocumentGeneration
	default:
		return IntentChat
	}
}
