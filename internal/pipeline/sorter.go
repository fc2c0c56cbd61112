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

const sortingSystemPrompt = `You are a message router for a chat assistant.
Given the user's message and recent conversation, decide which topic handles
it and which language the user writes in.

Topics: general (normal conversation), mediamaker (the user wants an image,
video, or audio generated), analyzefile (the user wants an attached file or
image analyzed), officemaker (the user wants a document produced).

Respond with JSON only:
{"topic": "...", "language": "<ISO 639-1 code>", "web_search": <bool>,
 "media_type": "image|video|audio|", "duration": <seconds or 0>}

Set web_search true only when the request needs fresh external facts.`

// AISorter delegates fallback classification to the user's SORT model.
// It also serves small utility completions such as search query generation.
type AISorter struct {
	ai     ai.Facade
	models ModelRegistry
	logger *slog.Logger
}

func NewAISorter(log *slog.Logger, facade ai.Facade, registry ModelRegistry) *AISorter {
	return &AISorter{
		ai:     facade,
		models: registry,
		logger: log.With(slog.String("service", "sorter")),
	}
}

func (s *AISorter) Sort(ctx context.Context, msg message.Message, history []message.Message) (SortOutcome, error) {
	m, err := s.models.GetDefaultModel(ctx, models.CapabilitySort, msg.UserID)
	if err != nil {
		return SortOutcome{}, fmt.Errorf("resolve sort model: %w", err)
	}

	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, h := range tailMessages(history, 6) {
			role := "user"
			if h.Direction == message.DirectionOut {
				role = "assistant"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, truncate(h.Text, 300))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Message: ")
	sb.WriteString(msg.Text)
	if msg.FileText != "" {
		sb.WriteString("\nAttached file excerpt: ")
		sb.WriteString(truncate(msg.FileText, 500))
	}

	temp := float32(0)
	result, err := s.ai.Chat(ctx, ai.ChatRequest{
		UserID:         msg.UserID,
		Model:          m.ID,
		Temperature:    &temp,
		ResponseFormat: &ai.ResponseFormat{Type: "json_object"},
		Messages: []ai.Message{
			{Role: "system", Content: sortingSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return SortOutcome{}, err
	}

	var parsed struct {
		Topic     string `json:"topic"`
		Language  string `json:"language"`
		WebSearch bool   `json:"web_search"`
		MediaType string `json:"media_type"`
		Duration  int    `json:"duration"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(result.Content)), &parsed); err != nil {
		return SortOutcome{}, fmt.Errorf("decode sorting response: %w", err)
	}

	return SortOutcome{
		Topic:     strings.TrimSpace(parsed.Topic),
		Language:  strings.TrimSpace(parsed.Language),
		WebSearch: parsed.WebSearch,
		MediaType: strings.TrimSpace(parsed.MediaType),
		Duration:  parsed.Duration,
		ModelID:   m.ID,
		ModelName: result.Model,
		Provider:  result.Provider,
	}, nil
}

// SortingChat runs a one-shot utility completion on the SORT model.
func (s *AISorter) SortingChat(ctx context.Context, userID, system, user string) (string, error) {
	m, err := s.models.GetDefaultModel(ctx, models.CapabilitySort, userID)
	if err != nil {
		return "", fmt.Errorf("resolve sort model: %w", err)
	}
	temp := float32(0)
	result, err := s.ai.Chat(ctx, ai.ChatRequest{
		UserID:         userID,
		Model:          m.ID,
		Temperature:    &temp,
		ResponseFormat: &ai.ResponseFormat{Type: "json_object"},
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func tailMessages(history []message.Message, n int) []message.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

// stripCodeFences removes a wrapping markdown code fence, if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
