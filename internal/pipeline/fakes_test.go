package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/quillchat/quill/internal/ai"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
	"github.com/quillchat/quill/internal/prompts"
	"github.com/quillchat/quill/internal/providers"
	"github.com/quillchat/quill/internal/rag"
	"github.com/quillchat/quill/internal/websearch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	nextID  int
	created []message.Message
	meta    map[string]map[string]string

	chatHistory   []message.Message
	legacyHistory []message.Message

	classifications map[string][2]string
	finalized       map[string]message.Status
	attached        map[string][2]string

	metaErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		meta:            map[string]map[string]string{},
		classifications: map[string][2]string{},
		finalized:       map[string]message.Status{},
		attached:        map[string][2]string{},
	}
}

func (s *fakeStore) Create(_ context.Context, params message.CreateParams) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := message.Message{
		ID:         fmt.Sprintf("msg-%d", s.nextID),
		UserID:     params.UserID,
		TrackingID: params.TrackingID,
		ChatID:     params.ChatID,
		Direction:  params.Direction,
		Text:       params.Text,
		FileText:   params.FileText,
		FilePath:   params.FilePath,
		FileType:   params.FileType,
		Topic:      params.Topic,
		Language:   params.Language,
		Status:     params.Status,
	}
	s.created = append(s.created, msg)
	return msg, nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.created {
		if m.ID == id {
			return m, nil
		}
	}
	return message.Message{}, fmt.Errorf("message %s not found", id)
}

func (s *fakeStore) GetMeta(_ context.Context, messageID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	out := map[string]string{}
	for k, v := range s.meta[messageID] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) SetMeta(_ context.Context, messageID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageID == "" {
		panic("SetMeta with empty message id")
	}
	if s.meta[messageID] == nil {
		s.meta[messageID] = map[string]string{}
	}
	s.meta[messageID][key] = value
	return nil
}

func (s *fakeStore) UpdateClassification(_ context.Context, id, topic, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifications[id] = [2]string{topic, language}
	return nil
}

func (s *fakeStore) Finalize(_ context.Context, id, _ string, status message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[id] = status
	return nil
}

func (s *fakeStore) AttachFile(_ context.Context, id, filePath, fileType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[id] = [2]string{filePath, fileType}
	return nil
}

func (s *fakeStore) FindChatHistory(_ context.Context, _, _ string, _, _ int) ([]message.Message, error) {
	return s.chatHistory, nil
}

func (s *fakeStore) FindConversationHistory(_ context.Context, _, _ string, _ int) ([]message.Message, error) {
	return s.legacyHistory, nil
}

type fakeModels struct {
	byRef      map[string]models.Model
	defaults   map[models.Capability]models.Model
	tags       map[string]string
	defaultErr error
}

func newFakeModels() *fakeModels {
	return &fakeModels{
		byRef:    map[string]models.Model{},
		defaults: map[models.Capability]models.Model{},
		tags:     map[string]string{},
	}
}

func (f *fakeModels) Resolve(_ context.Context, ref string) (models.Model, error) {
	if m, ok := f.byRef[ref]; ok {
		return m, nil
	}
	return models.Model{}, fmt.Errorf("model %s not found", ref)
}

func (f *fakeModels) GetDefaultModel(_ context.Context, capability models.Capability, _ string) (models.Model, error) {
	if f.defaultErr != nil {
		return models.Model{}, f.defaultErr
	}
	if m, ok := f.defaults[capability]; ok {
		return m, nil
	}
	return models.Model{}, fmt.Errorf("no default model for %s", capability)
}

func (f *fakeModels) GetModelTag(_ context.Context, ref string) (string, error) {
	if tag, ok := f.tags[ref]; ok {
		return tag, nil
	}
	return "", fmt.Errorf("model %s not found", ref)
}

func (f *fakeModels) GetModelName(_ context.Context, ref string) (string, error) {
	if m, ok := f.byRef[ref]; ok {
		return m.Name, nil
	}
	return "", fmt.Errorf("model %s not found", ref)
}

func (f *fakeModels) GetProviderForModel(_ context.Context, ref string) (providers.Provider, error) {
	if _, ok := f.byRef[ref]; ok {
		return providers.Provider{Name: "fake"}, nil
	}
	return providers.Provider{}, fmt.Errorf("model %s not found", ref)
}

type fakePrompts struct {
	prompts map[string]prompts.PromptWithMetadata
	calls   []string
}

func newFakePrompts() *fakePrompts {
	return &fakePrompts{prompts: map[string]prompts.PromptWithMetadata{}}
}

func (f *fakePrompts) GetPromptWithMetadata(_ context.Context, topic, _, _ string) (prompts.PromptWithMetadata, error) {
	f.calls = append(f.calls, topic)
	if p, ok := f.prompts[topic]; ok {
		return p, nil
	}
	return prompts.PromptWithMetadata{Content: "You are a helpful assistant."}, nil
}

type fakeVectors struct {
	byGroupKey map[string][]rag.Chunk
	calls      []string
	err        error
}

func (f *fakeVectors) SemanticSearch(_ context.Context, _, _, groupKey string, _ int, _ float64) ([]rag.Chunk, error) {
	f.calls = append(f.calls, groupKey)
	if f.err != nil {
		return nil, f.err
	}
	return f.byGroupKey[groupKey], nil
}

type fakeSearcher struct {
	enabled bool
	set     websearch.ResultSet
	err     error
	saved   []string
	queries []string
}

func (f *fakeSearcher) IsEnabled() bool { return f.enabled }

func (f *fakeSearcher) Search(_ context.Context, query string, _ websearch.Options) (websearch.ResultSet, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return websearch.ResultSet{}, f.err
	}
	return f.set, nil
}

func (f *fakeSearcher) SaveResults(_ context.Context, messageID string, _ websearch.ResultSet) error {
	f.saved = append(f.saved, messageID)
	return nil
}

type fakeQueryGen struct{ query string }

func (f *fakeQueryGen) Generate(_ context.Context, rawText, _ string) string {
	if f.query != "" {
		return f.query
	}
	return rawText
}

type fakeSorter struct {
	outcome SortOutcome
	err     error
	calls   int
	history []message.Message
}

func (f *fakeSorter) Sort(_ context.Context, _ message.Message, history []message.Message) (SortOutcome, error) {
	f.calls++
	f.history = history
	if f.err != nil {
		return SortOutcome{}, f.err
	}
	return f.outcome, nil
}

type fakeFacade struct {
	chatResult    ai.ChatResult
	chatErr       error
	chatRequests  []ai.ChatRequest
	streamChunks  []string
	streamResult  ai.StreamResult
	streamErr     error
	analyzeResult ai.ChatResult
	analyzeErr    error
	analyzeReqs   []ai.AnalyzeRequest
	imageResult   ai.MediaResult
	imageErr      error
	videoResult   ai.MediaResult
	videoErr      error
	synthResult   ai.SynthesisResult
	synthErr      error
}

func (f *fakeFacade) Chat(_ context.Context, req ai.ChatRequest) (ai.ChatResult, error) {
	f.chatRequests = append(f.chatRequests, req)
	if f.chatErr != nil {
		return ai.ChatResult{}, f.chatErr
	}
	return f.chatResult, nil
}

func (f *fakeFacade) ChatStream(_ context.Context, req ai.ChatRequest, onChunk func(string)) (ai.StreamResult, error) {
	f.chatRequests = append(f.chatRequests, req)
	if f.streamErr != nil {
		return ai.StreamResult{}, f.streamErr
	}
	for _, chunk := range f.streamChunks {
		onChunk(chunk)
	}
	return f.streamResult, nil
}

func (f *fakeFacade) AnalyzeImage(_ context.Context, req ai.AnalyzeRequest) (ai.ChatResult, error) {
	f.analyzeReqs = append(f.analyzeReqs, req)
	if f.analyzeErr != nil {
		return ai.ChatResult{}, f.analyzeErr
	}
	return f.analyzeResult, nil
}

func (f *fakeFacade) GenerateImage(_ context.Context, _ ai.GenerateRequest) (ai.MediaResult, error) {
	if f.imageErr != nil {
		return ai.MediaResult{}, f.imageErr
	}
	return f.imageResult, nil
}

func (f *fakeFacade) GenerateVideo(_ context.Context, _ ai.GenerateRequest) (ai.MediaResult, error) {
	if f.videoErr != nil {
		return ai.MediaResult{}, f.videoErr
	}
	return f.videoResult, nil
}

func (f *fakeFacade) Synthesize(_ context.Context, _ ai.SynthesizeRequest) (ai.SynthesisResult, error) {
	if f.synthErr != nil {
		return ai.SynthesisResult{}, f.synthErr
	}
	return f.synthResult, nil
}

type fakeFiles struct {
	mu        sync.Mutex
	contents  map[string]string
	existing  map[string]bool
	putErr    error
	existsCtx context.Context
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{contents: map[string]string{}, existing: map[string]bool{}}
}

func (f *fakeFiles) Put(_ context.Context, key string, reader io.Reader) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents[key] = string(data)
	f.existing[key] = true
	return nil
}

func (f *fakeFiles) Exists(ctx context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCtx = ctx
	return f.existing[key]
}

func (f *fakeFiles) Resolve(key string) (string, error) {
	return "/data/files/" + key, nil
}

func (f *fakeFiles) AccessPath(key string) string {
	return "/files/" + key
}

type fakeHandler struct {
	result     HandlerResult
	err        error
	calls      int
	lastRC     ResolvedContext
	streamText string
}

func (f *fakeHandler) Process(_ context.Context, rc ResolvedContext) (HandlerResult, error) {
	f.calls++
	f.lastRC = rc
	return f.result, f.err
}

func (f *fakeHandler) ProcessStream(_ context.Context, rc ResolvedContext, onChunk ChunkFunc, _ StatusFunc) (HandlerResult, error) {
	f.calls++
	f.lastRC = rc
	if f.err != nil {
		return HandlerResult{}, f.err
	}
	if f.streamText != "" && onChunk != nil {
		onChunk(f.streamText)
	}
	return f.result, nil
}

func chunkCollector() (*strings.Builder, ChunkFunc) {
	var sb strings.Builder
	return &sb, func(text string) { sb.WriteString(text) }
}
