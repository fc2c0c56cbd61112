package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/quillchat/quill/internal/message"
)

var (
	imageMarker = regexp.MustCompile(`\[IMAGE:([^\]]+)\]`)
	videoMarker = regexp.MustCompile(`\[VIDEO:([^\]]+)\]`)
)

// AgainProcessor replays generation for a prior message with a forced
// model and optional prompt override.
type AgainProcessor struct {
	store     MessageStore
	processor *Processor
	logger    *slog.Logger
}

func NewAgainProcessor(log *slog.Logger, store MessageStore, processor *Processor) *AgainProcessor {
	return &AgainProcessor{
		store:     store,
		processor: processor,
		logger:    log.With(slog.String("service", "again")),
	}
}

// Reprocess clones the prior message, persists the clone, attaches the
// override metadata, re-runs the streaming pipeline while buffering the
// chunks, and persists a fresh outbound reply. The external contract is a
// single completed message even though the streaming internals are reused.
func (a *AgainProcessor) Reprocess(ctx context.Context, messageID, modelID, promptID string) (message.Message, Result, error) {
	if strings.TrimSpace(modelID) == "" {
		return message.Message{}, Result{}, fmt.Errorf("model id is required")
	}
	orig, err := a.store.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, Result{}, fmt.Errorf("load original message: %w", err)
	}

	// The clone must be durable before any metadata can reference it.
	clone, err := a.store.Create(ctx, message.CreateParams{
		UserID:     orig.UserID,
		TrackingID: orig.TrackingID,
		ChatID:     orig.ChatID,
		Direction:  message.DirectionIn,
		Text:       orig.Text,
		FileText:   orig.FileText,
		FilePath:   orig.FilePath,
		FileType:   orig.FileType,
		Topic:      orig.Topic,
		Language:   orig.Language,
		Status:     message.StatusProcessing,
	})
	if err != nil {
		return message.Message{}, Result{}, fmt.Errorf("clone message: %w", err)
	}
	if err := a.store.SetMeta(ctx, clone.ID, message.MetaKeyModelID, modelID); err != nil {
		return message.Message{}, Result{}, fmt.Errorf("write model override: %w", err)
	}
	if strings.TrimSpace(promptID) != "" {
		if err := a.store.SetMeta(ctx, clone.ID, message.MetaKeyPromptID, promptID); err != nil {
			return message.Message{}, Result{}, fmt.Errorf("write prompt override: %w", err)
		}
	}

	var buf strings.Builder
	opts := Options{ModelID: modelID, PromptID: promptID}
	result := a.processor.ProcessStream(ctx, clone, opts, func(text string) {
		buf.WriteString(text)
	}, nil)

	if !result.Success {
		if err := a.store.Finalize(ctx, clone.ID, clone.Text, message.StatusError); err != nil {
			a.logger.Warn("finalize failed clone", slog.String("error", err.Error()))
		}
		return message.Message{}, result, nil
	}

	text := result.Text
	if text == "" {
		text = buf.String()
	}
	filePath, fileType := result.FilePath, result.FileType
	if filePath == "" {
		// Inline markers are a secondary attachment signal when the
		// handler reported no file of its own.
		if m := imageMarker.FindStringSubmatch(text); m != nil {
			filePath, fileType = m[1], MediaImage
		} else if m := videoMarker.FindStringSubmatch(text); m != nil {
			filePath, fileType = m[1], MediaVideo
		}
	}

	out, err := a.store.Create(ctx, message.CreateParams{
		UserID:     orig.UserID,
		TrackingID: orig.TrackingID,
		ChatID:     orig.ChatID,
		Direction:  message.DirectionOut,
		Text:       text,
		FilePath:   filePath,
		FileText:   result.FileText,
		FileType:   fileType,
		Topic:      result.Classification.Topic,
		Language:   result.Classification.Language,
		Status:     message.StatusComplete,
	})
	if err != nil {
		return message.Message{}, result, fmt.Errorf("persist reply: %w", err)
	}

	if err := a.store.Finalize(ctx, clone.ID, clone.Text, message.StatusComplete); err != nil {
		a.logger.Warn("finalize clone failed",
			slog.String("message_id", clone.ID), slog.String("error", err.Error()))
	}
	return out, result, nil
}
