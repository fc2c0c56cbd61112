package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quillchat/quill/internal/models"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint using the
// first registered vectorize-tagged model.
type HTTPEmbedder struct {
	models     *models.Service
	httpClient *http.Client
}

func NewHTTPEmbedder(modelSvc *models.Service) *HTTPEmbedder {
	return &HTTPEmbedder{
		models:     modelSvc,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m, err := e.models.FirstByTag(ctx, models.TagVectorize)
	if err != nil {
		return nil, fmt.Errorf("resolve embedding model: %w", err)
	}
	p, err := e.models.GetProviderForModel(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve embedding provider: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"model": m.ModelID,
		"input": text,
	})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(p.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embeddings status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response is empty")
	}
	return parsed.Data[0].Embedding, nil
}
