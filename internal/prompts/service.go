// Package prompts resolves the system prompt and its metadata for a topic.
// A user-scoped prompt overrides the global prompt for the same topic, and a
// language-specific row overrides the language-neutral one.
package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillchat/quill/internal/db"
)

// Metadata keys recognised by the pipeline.
const (
	MetaToolInternet       = "tool_internet"
	MetaToolInternetSearch = "tool_internet_search"
	MetaModel              = "model"
)

// ModelAutomatic is the pin sentinel meaning "no pinned model".
const ModelAutomatic = "automatic"

const genericPrompt = "You are a helpful assistant. Answer clearly and concisely."

type PromptWithMetadata struct {
	Content  string
	Metadata map[string]string
}

// Bool reads a metadata flag. Absent keys report (false, false).
func (p PromptWithMetadata) Bool(key string) (value, ok bool) {
	raw, present := p.Metadata[key]
	if !present {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	default:
		return false, true
	}
}

// PinnedModel returns the metadata model pin, empty when absent or set to
// the automatic sentinel.
func (p PromptWithMetadata) PinnedModel() string {
	pin := strings.TrimSpace(p.Metadata[MetaModel])
	if pin == "" || strings.EqualFold(pin, ModelAutomatic) {
		return ""
	}
	return pin
}

type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "prompts")),
	}
}

// GetPromptWithMetadata resolves the prompt for a topic. Lookup order:
// user+language, user, global+language, global. When no row matches, a
// generic assistant prompt with empty metadata is returned (absence of a
// custom prompt is not an error).
func (s *Service) GetPromptWithMetadata(ctx context.Context, topic, userID, language string) (PromptWithMetadata, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return PromptWithMetadata{Content: genericPrompt, Metadata: map[string]string{}}, nil
	}

	type lookup struct {
		userScoped     bool
		languageScoped bool
	}
	order := []lookup{
		{userScoped: true, languageScoped: true},
		{userScoped: true},
		{languageScoped: true},
		{},
	}
	for _, l := range order {
		if l.userScoped && userID == "" {
			continue
		}
		if l.languageScoped && language == "" {
			continue
		}
		p, err := s.fetch(ctx, topic, userID, language, l.userScoped, l.languageScoped)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return PromptWithMetadata{}, err
		}
	}
	return PromptWithMetadata{Content: genericPrompt, Metadata: map[string]string{}}, nil
}

func (s *Service) fetch(ctx context.Context, topic, userID, language string, userScoped, languageScoped bool) (PromptWithMetadata, error) {
	query := `SELECT content, metadata FROM prompts WHERE topic = $1`
	args := []any{topic}
	if userScoped {
		pgUser, err := db.ParseUUID(userID)
		if err != nil {
			return PromptWithMetadata{}, pgx.ErrNoRows
		}
		args = append(args, pgUser)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	} else {
		query += " AND user_id IS NULL"
	}
	if languageScoped {
		args = append(args, language)
		query += fmt.Sprintf(" AND language = $%d", len(args))
	} else {
		query += " AND language IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	var (
		content string
		rawMeta []byte
	)
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&content, &rawMeta); err != nil {
		return PromptWithMetadata{}, err
	}
	return PromptWithMetadata{Content: content, Metadata: decodeMetadata(rawMeta)}, nil
}

// decodeMetadata flattens a jsonb object into string values. Non-string
// scalars are rendered with their JSON representation.
func decodeMetadata(raw []byte) map[string]string {
	meta := map[string]string{}
	if len(raw) == 0 {
		return meta
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return meta
	}
	for k, v := range parsed {
		switch value := v.(type) {
		case string:
			meta[k] = value
		case bool:
			meta[k] = fmt.Sprintf("%t", value)
		case float64:
			meta[k] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", value), "0"), ".")
		default:
			encoded, _ := json.Marshal(value)
			meta[k] = string(encoded)
		}
	}
	return meta
}
