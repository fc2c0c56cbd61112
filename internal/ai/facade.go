// Package ai fronts the configured LLM providers behind one facade. All
// providers speak the OpenAI-compatible HTTP surface; model and provider
// records come from the registry.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/models"
	"github.com/quillchat/quill/internal/providers"
)

const (
	maxScanTokenSize  = 2 * 1024 * 1024
	initialScanBuffer = 64 * 1024
)

// Facade is the provider-facing AI surface the pipeline depends on.
type Facade interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(string)) (StreamResult, error)
	AnalyzeImage(ctx context.Context, req AnalyzeRequest) (ChatResult, error)
	GenerateImage(ctx context.Context, req GenerateRequest) (MediaResult, error)
	GenerateVideo(ctx context.Context, req GenerateRequest) (MediaResult, error)
	Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesisResult, error)
}

// FileStore receives synthesized audio files.
type FileStore interface {
	Put(ctx context.Context, key string, reader io.Reader) error
	AccessPath(key string) string
}

type Service struct {
	models          *models.Service
	store           FileStore
	logger          *slog.Logger
	httpClient      *http.Client
	streamingClient *http.Client
}

func NewService(log *slog.Logger, modelSvc *models.Service, store FileStore) *Service {
	return &Service{
		models:          modelSvc,
		store:           store,
		logger:          log.With(slog.String("service", "ai")),
		httpClient:      &http.Client{Timeout: 120 * time.Second},
		streamingClient: &http.Client{},
	}
}

type target struct {
	model    models.Model
	provider providers.Provider
}

// resolveTarget picks the model (explicit reference or capability default)
// and loads its provider. A disabled or missing provider is a typed
// provider failure.
func (s *Service) resolveTarget(ctx context.Context, userID, modelRef string, capability models.Capability) (target, error) {
	var (
		m   models.Model
		err error
	)
	if strings.TrimSpace(modelRef) != "" {
		m, err = s.models.Resolve(ctx, modelRef)
	} else {
		m, err = s.models.GetDefaultModel(ctx, capability, userID)
	}
	if err != nil {
		return target{}, err
	}
	p, err := s.models.GetProviderForModel(ctx, m.ID)
	if err != nil {
		return target{}, &ProviderError{Provider: m.ModelID, Message: err.Error()}
	}
	if !p.Enabled {
		return target{}, &ProviderError{
			Provider:    p.Name,
			Message:     "provider is disabled",
			Remediation: "enable the provider or configure another model",
		}
	}
	return target{model: m, provider: p}, nil
}

func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	t, err := s.resolveTarget(ctx, req.UserID, req.Model, models.CapabilityChat)
	if err != nil {
		return ChatResult{}, err
	}
	payload := map[string]any{
		"model":    t.model.ModelID,
		"messages": req.Messages,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.ResponseFormat != nil {
		payload["response_format"] = req.ResponseFormat
	}
	body, err := s.post(ctx, t, "/chat/completions", payload)
	if err != nil {
		return ChatResult{}, err
	}
	return parseChatCompletion(body, t)
}

func (s *Service) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string)) (StreamResult, error) {
	t, err := s.resolveTarget(ctx, req.UserID, req.Model, models.CapabilityChat)
	if err != nil {
		return StreamResult{}, err
	}
	payload := map[string]any{
		"model":    t.model.ModelID,
		"messages": req.Messages,
		"stream":   true,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}

	resp, err := s.do(ctx, s.streamingClient, t, "/chat/completions", payload)
	if err != nil {
		return StreamResult{}, err
	}
	defer resp.Body.Close()

	result := StreamResult{Provider: t.provider.Name, Model: t.model.ModelID}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanTokenSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *Usage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.logger.Warn("skip malformed stream chunk", slog.String("error", err.Error()))
			continue
		}
		if chunk.Usage != nil {
			result.Usage = *chunk.Usage
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onChunk(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, &ProviderError{Provider: t.provider.Name, Message: fmt.Sprintf("stream read: %v", err)}
	}
	return result, nil
}

func (s *Service) AnalyzeImage(ctx context.Context, req AnalyzeRequest) (ChatResult, error) {
	t, err := s.resolveTarget(ctx, req.UserID, req.Model, models.CapabilityPic2Text)
	if err != nil {
		return ChatResult{}, err
	}
	data, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return ChatResult{}, fmt.Errorf("read image: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(req.ImagePath))
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	payload := map[string]any{
		"model": t.model.ModelID,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": req.Prompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
	}
	body, err := s.post(ctx, t, "/chat/completions", payload)
	if err != nil {
		return ChatResult{}, err
	}
	return parseChatCompletion(body, t)
}

func (s *Service) GenerateImage(ctx context.Context, req GenerateRequest) (MediaResult, error) {
	return s.generate(ctx, req, models.CapabilityText2Pic, "/images/generations")
}

func (s *Service) GenerateVideo(ctx context.Context, req GenerateRequest) (MediaResult, error) {
	return s.generate(ctx, req, models.CapabilityText2Vid, "/videos/generations")
}

func (s *Service) generate(ctx context.Context, req GenerateRequest, capability models.Capability, path string) (MediaResult, error) {
	t, err := s.resolveTarget(ctx, req.UserID, req.Model, capability)
	if err != nil {
		return MediaResult{}, err
	}
	payload := map[string]any{
		"model":  t.model.ModelID,
		"prompt": req.Prompt,
	}
	body, err := s.post(ctx, t, path, payload)
	if err != nil {
		return MediaResult{}, err
	}
	var parsed struct {
		Data []GeneratedItem `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return MediaResult{}, &ProviderError{Provider: t.provider.Name, Message: fmt.Sprintf("decode generation response: %v", err)}
	}
	if len(parsed.Data) == 0 {
		return MediaResult{}, &ProviderError{Provider: t.provider.Name, Message: "generation returned no items"}
	}
	return MediaResult{Items: parsed.Data, Provider: t.provider.Name, Model: t.model.ModelID}, nil
}

func (s *Service) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesisResult, error) {
	t, err := s.resolveTarget(ctx, req.UserID, req.Model, models.CapabilityText2Sound)
	if err != nil {
		return SynthesisResult{}, err
	}
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	payload := map[string]any{
		"model": t.model.ModelID,
		"input": req.Text,
		"voice": voice,
	}
	resp, err := s.do(ctx, s.httpClient, t, "/audio/speech", payload)
	if err != nil {
		return SynthesisResult{}, err
	}
	defer resp.Body.Close()

	key := fmt.Sprintf("%s/tts/%s.mp3", req.UserID, uuid.NewString())
	if err := s.store.Put(ctx, key, resp.Body); err != nil {
		return SynthesisResult{}, fmt.Errorf("store synthesized audio: %w", err)
	}
	return SynthesisResult{
		Filename: s.store.AccessPath(key),
		Provider: t.provider.Name,
		Model:    t.model.ModelID,
	}, nil
}

func (s *Service) post(ctx context.Context, t target, path string, payload any) ([]byte, error) {
	resp, err := s.do(ctx, s.httpClient, t, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *Service) do(ctx context.Context, client *http.Client, t target, path string, payload any) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(t.provider.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.provider.APIKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		pe := &ProviderError{Provider: t.provider.Name, Message: err.Error()}
		if t.provider.ClientType == providers.ClientTypeOllama {
			pe.Remediation = fmt.Sprintf("make sure ollama is running and `ollama pull %s` has been executed", t.model.ModelID)
		}
		return nil, pe
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProviderError{
			Provider: t.provider.Name,
			Message:  fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return resp, nil
}

func parseChatCompletion(body []byte, t target) (ChatResult, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ChatResult{}, &ProviderError{Provider: t.provider.Name, Message: fmt.Sprintf("decode chat response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return ChatResult{}, &ProviderError{Provider: t.provider.Name, Message: "chat response has no choices"}
	}
	return ChatResult{
		Content:  parsed.Choices[0].Message.Content,
		Provider: t.provider.Name,
		Model:    t.model.ModelID,
		Usage:    parsed.Usage,
	}, nil
}
