// Package rag retrieves semantically relevant stored chunks for a
// topic-scoped knowledge group. The chunk store is a qdrant collection;
// the pipeline only ever reads from it.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/quillchat/quill/internal/config"
)

// Chunk is one retrieved knowledge fragment.
type Chunk struct {
	ChunkText string  `json:"chunk_text"`
	Score     float32 `json:"score"`
}

const payloadChunkText = "chunk_text"

type Service struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	logger     *slog.Logger
}

func NewService(log *slog.Logger, cfg config.QdrantConfig, embedder Embedder) (*Service, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Service{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		logger:     log.With(slog.String("service", "rag")),
	}, nil
}

// SemanticSearch embeds the query and returns matching chunks scoped to a
// user and group key, best score first.
func (s *Service) SemanticSearch(ctx context.Context, query, userID, groupKey string, limit int, minScore float64) ([]Chunk, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if limit <= 0 {
		limit = config.DefaultRAGLimit
	}
	limit64 := uint64(limit)
	threshold := float32(minScore)

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit64,
		ScoreThreshold: &threshold,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("user_id", userID),
				qdrant.NewMatch("group_key", groupKey),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	chunks := make([]Chunk, 0, len(points))
	for _, p := range points {
		text := ""
		if payload, ok := p.Payload[payloadChunkText]; ok {
			text = payload.GetStringValue()
		}
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{ChunkText: text, Score: p.Score})
	}
	return chunks, nil
}
