package websearch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

const queryGenPrompt = `You turn a chat message into one short web search query.
Respond with JSON: {"query": "<search query>"}. Keep the user's language.`

// ChatCaller is the minimal AI surface the query generator needs.
type ChatCaller interface {
	SortingChat(ctx context.Context, userID, system, user string) (string, error)
}

// QueryGenerator asks a model to turn raw message text into an optimized
// search query.
type QueryGenerator struct {
	caller ChatCaller
	logger *slog.Logger
}

func NewQueryGenerator(log *slog.Logger, caller ChatCaller) *QueryGenerator {
	return &QueryGenerator{
		caller: caller,
		logger: log.With(slog.String("service", "querygen")),
	}
}

// Generate returns the optimized query, falling back to the raw text when
// generation fails or produces nothing useful.
func (g *QueryGenerator) Generate(ctx context.Context, rawText, userID string) string {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return rawText
	}
	content, err := g.caller.SortingChat(ctx, userID, queryGenPrompt, rawText)
	if err != nil {
		g.logger.Warn("query generation failed, using raw text", slog.String("error", err.Error()))
		return rawText
	}
	var parsed struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &parsed); err == nil {
		if q := strings.TrimSpace(parsed.Query); q != "" {
			return q
		}
	}
	if q := strings.TrimSpace(content); q != "" && !strings.HasPrefix(q, "{") {
		return q
	}
	return rawText
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
