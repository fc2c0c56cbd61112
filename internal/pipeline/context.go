package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/prompts"
	"github.com/quillchat/quill/internal/rag"
	"github.com/quillchat/quill/internal/websearch"
)

// GroupKeyPrefix namespaces topic-derived RAG lookups.
const GroupKeyPrefix = "TASKPROMPT:"

// ContextLoader performs the best-effort context stages: RAG retrieval and
// web search. Failures degrade the context, they never fail the request.
type ContextLoader struct {
	cfg      config.PipelineConfig
	vectors  VectorSearcher
	search   WebSearcher
	queryGen QuerySource
	logger   *slog.Logger
}

func NewContextLoader(log *slog.Logger, cfg config.PipelineConfig, vectors VectorSearcher, search WebSearcher, queryGen QuerySource) *ContextLoader {
	return &ContextLoader{
		cfg:      cfg,
		vectors:  vectors,
		search:   search,
		queryGen: queryGen,
		logger:   log.With(slog.String("service", "context")),
	}
}

// DeriveGroupKey returns the RAG group key for a call: the explicit option
// when set, else the topic-scoped default.
func DeriveGroupKey(opts Options, topic string) string {
	if strings.TrimSpace(opts.GroupKey) != "" {
		return strings.TrimSpace(opts.GroupKey)
	}
	return GroupKeyPrefix + topic
}

// LoadRAG retrieves knowledge chunks for the classified topic. When an
// explicit group key yields nothing and the topic is not the generic one,
// the topic-derived key is tried once as a fallback.
func (l *ContextLoader) LoadRAG(ctx context.Context, msg message.Message, cls Classification, opts Options) Outcome[[]rag.Chunk] {
	if l.vectors == nil {
		return Degraded[[]rag.Chunk]("vector search not configured")
	}
	groupKey := DeriveGroupKey(opts, cls.Topic)
	chunks, err := l.vectors.SemanticSearch(ctx, msg.Text, msg.UserID, groupKey, l.cfg.RAGLimit, l.cfg.RAGMinScore)
	if err != nil {
		l.logger.Warn("rag lookup failed",
			slog.String("group_key", groupKey), slog.String("error", err.Error()))
		return Degraded[[]rag.Chunk](fmt.Sprintf("rag lookup failed: %v", err))
	}
	if len(chunks) == 0 {
		derived := GroupKeyPrefix + cls.Topic
		if derived != groupKey && cls.Topic != TopicGeneral {
			fallback, err := l.vectors.SemanticSearch(ctx, msg.Text, msg.UserID, derived, l.cfg.RAGLimit, l.cfg.RAGMinScore)
			if err != nil {
				l.logger.Warn("rag fallback lookup failed",
					slog.String("group_key", derived), slog.String("error", err.Error()))
				return Degraded[[]rag.Chunk](fmt.Sprintf("rag fallback failed: %v", err))
			}
			chunks = fallback
		}
	}
	if len(chunks) == 0 {
		return Degraded[[]rag.Chunk]("no matching knowledge chunks")
	}
	return Some(chunks)
}

// ShouldSearch decides whether a web search runs. A prompt-metadata
// disable is absolute and beats every requesting flag; enabling requires
// any one of the caller flag, prompt metadata, classifier flag, or a
// search tool topic.
func ShouldSearch(cls Classification, opts Options, prompt prompts.PromptWithMetadata) bool {
	if v, ok := prompt.Bool(prompts.MetaToolInternetSearch); ok && !v {
		return false
	}
	if opts.WebSearch {
		return true
	}
	if v, ok := prompt.Bool(prompts.MetaToolInternet); ok && v {
		return true
	}
	if cls.WebSearch {
		return true
	}
	switch cls.Topic {
	case "tools:search", "tools:web":
		return true
	}
	return false
}

// LoadSearch generates an optimized query, runs the search, and persists
// non-empty results against the message. Any failure degrades.
func (l *ContextLoader) LoadSearch(ctx context.Context, msg message.Message, cls Classification) Outcome[websearch.ResultSet] {
	if l.search == nil || !l.search.IsEnabled() {
		return Degraded[websearch.ResultSet]("web search not configured")
	}

	query := msg.Text
	if l.queryGen != nil {
		query = l.queryGen.Generate(ctx, msg.Text, msg.UserID)
	}

	opts := websearch.Options{}
	if lang := strings.TrimSpace(cls.Language); lang != "" {
		opts.SearchLang = lang
		// The language code doubles as the country hint.
		opts.Country = strings.ToUpper(lang)
	}

	set, err := l.search.Search(ctx, query, opts)
	if err != nil {
		l.logger.Warn("web search failed",
			slog.String("query", query), slog.String("error", err.Error()))
		return Degraded[websearch.ResultSet](fmt.Sprintf("web search failed: %v", err))
	}
	if len(set.Results) == 0 {
		return Degraded[websearch.ResultSet]("web search returned no results")
	}

	if msg.ID != "" {
		if err := l.search.SaveResults(ctx, msg.ID, set); err != nil {
			l.logger.Warn("persist search results failed",
				slog.String("message_id", msg.ID), slog.String("error", err.Error()))
		}
	}
	return Some(set)
}

// RenderRAGBlock renders retrieved chunks into a prompt context block.
func RenderRAGBlock(chunks []rag.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant knowledge from the linked collection:\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(c.ChunkText))
	}
	sb.WriteString("Use these sources when they answer the question; otherwise ignore them.")
	return sb.String()
}

// RenderSearchBlock renders web results into a prompt context block.
func RenderSearchBlock(set websearch.ResultSet) string {
	if len(set.Results) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Web search results for %q:\n", set.Query)
	for i, r := range set.Results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n   %s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Description))
		for _, snippet := range r.ExtraSnippets {
			fmt.Fprintf(&sb, "   - %s\n", strings.TrimSpace(snippet))
		}
	}
	sb.WriteString("Cite the source URL when you rely on one of these results.")
	return sb.String()
}
