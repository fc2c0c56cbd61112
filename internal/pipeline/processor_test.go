package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/quillchat/quill/internal/ai"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
	"github.com/quillchat/quill/internal/rag"
)

type processorFixture struct {
	store    *fakeStore
	models   *fakeModels
	prompts  *fakePrompts
	sorter   *fakeSorter
	vectors  *fakeVectors
	searcher *fakeSearcher
	chat     *fakeHandler
	media    *fakeHandler
	file     *fakeHandler
	proc     *Processor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		store:    newFakeStore(),
		models:   newFakeModels(),
		prompts:  newFakePrompts(),
		sorter:   &fakeSorter{outcome: SortOutcome{Topic: TopicGeneral, Language: "en"}},
		vectors:  &fakeVectors{byGroupKey: map[string][]rag.Chunk{}},
		searcher: &fakeSearcher{},
		chat:     &fakeHandler{result: HandlerResult{Text: "chat reply"}},
		media:    &fakeHandler{result: HandlerResult{Text: "[IMAGE:/files/u1/media/x.png]"}},
		file:     &fakeHandler{result: HandlerResult{Text: "analysis"}},
	}
	log := testLogger()
	classifier := NewClassifier(log, f.store, f.models, f.sorter)
	loader := NewContextLoader(log, testPipelineConfig(), f.vectors, f.searcher, &fakeQueryGen{})
	registry := NewRegistry(f.chat, f.media, f.file)
	f.proc = NewProcessor(log, testPipelineConfig(), NewPreprocessor(log), classifier,
		registry, f.store, f.models, f.prompts, loader)
	return f
}

func TestProcessPlainChatMessage(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	msg := message.Message{ID: "msg-1", UserID: "u1", ChatID: "c1", Text: "hello"}

	result := f.proc.Process(context.Background(), msg, Options{})
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if result.Text != "chat reply" {
		t.Fatalf("text = %q", result.Text)
	}
	if result.Classification.Topic != TopicGeneral || result.Classification.Intent != IntentChat {
		t.Fatalf("classification = %+v", result.Classification)
	}
	if f.chat.calls != 1 || f.media.calls != 0 || f.file.calls != 0 {
		t.Fatalf("handler calls chat/media/file = %d/%d/%d", f.chat.calls, f.media.calls, f.file.calls)
	}
	if got := f.store.classifications["msg-1"]; got[0] != TopicGeneral || got[1] != "en" {
		t.Fatalf("persisted classification = %v", got)
	}
}

func TestProcessStreamSlashPicRoutesToMedia(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.media.streamText = "[IMAGE:/files/u1/media/x.png]"
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "/pic a red circle"}

	var stages []string
	sb, onChunk := chunkCollector()
	result := f.proc.ProcessStream(context.Background(), msg, Options{}, onChunk,
		func(stage string) { stages = append(stages, stage) })
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if f.media.calls != 1 {
		t.Fatalf("media handler calls = %d", f.media.calls)
	}
	if result.Classification.Topic != "tools:pic" || result.Classification.Source != SourceToolCommand {
		t.Fatalf("classification = %+v", result.Classification)
	}
	if sb.String() == "" {
		t.Fatal("no chunks streamed")
	}
	if len(stages) == 0 || stages[len(stages)-1] != StatusComplete {
		t.Fatalf("stages = %v", stages)
	}
	if f.sorter.calls != 0 {
		t.Fatal("slash command must skip ai sorting")
	}
}

func TestProcessWidgetModePinsTopic(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "question"}

	result := f.proc.Process(context.Background(), msg, Options{FixedTaskPrompt: "support-bot"})
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if result.Classification.Topic != "support-bot" || result.Classification.Source != SourceWidget {
		t.Fatalf("classification = %+v", result.Classification)
	}
	if f.sorter.calls != 0 {
		t.Fatal("widget mode must skip classification")
	}
	if len(f.prompts.calls) == 0 || f.prompts.calls[0] != "support-bot" {
		t.Fatalf("prompt topics = %v", f.prompts.calls)
	}
}

func TestProcessAgainModeRemapsTopicFromModelTag(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.models.tags["sdxl"] = models.TagText2Pic
	msg := message.Message{ID: "msg-1", UserID: "u1", Topic: TopicChat, Text: "a sunset"}

	result := f.proc.Process(context.Background(), msg, Options{ModelID: "sdxl"})
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if result.Classification.Source != SourceAgain {
		t.Fatalf("source = %s", result.Classification.Source)
	}
	if result.Classification.Topic != TopicMediaMaker {
		t.Fatalf("topic = %s, want %s", result.Classification.Topic, TopicMediaMaker)
	}
	if result.Classification.ModelID != "sdxl" {
		t.Fatalf("model id = %s", result.Classification.ModelID)
	}
	if f.media.calls != 1 {
		t.Fatalf("media handler calls = %d", f.media.calls)
	}
}

func TestProcessAgainModeDefaultsTopicToChat(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.models.tags["gpt"] = models.TagChat
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "hello"}

	result := f.proc.Process(context.Background(), msg, Options{ModelID: "gpt"})
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if result.Classification.Topic != TopicGeneral {
		t.Fatalf("topic = %s", result.Classification.Topic)
	}
	if f.chat.calls != 1 {
		t.Fatalf("chat handler calls = %d", f.chat.calls)
	}
}

func TestProcessForceImageDescription(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	msg := message.Message{ID: "msg-1", UserID: "u1", FilePath: "u1/shot.png"}

	result := f.proc.Process(context.Background(), msg, Options{ForceImageDescription: true})
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if result.Classification.Source != SourceForcedImageDesc || result.Classification.Intent != IntentFileAnalysis {
		t.Fatalf("classification = %+v", result.Classification)
	}
	if f.file.calls != 1 {
		t.Fatalf("file handler calls = %d", f.file.calls)
	}
}

func TestProcessHistoryReachesSorterAndHandler(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.store.chatHistory = []message.Message{
		{Direction: message.DirectionIn, Text: "older"},
		{Direction: message.DirectionOut, Text: "reply"},
	}
	msg := message.Message{ID: "msg-1", UserID: "u1", ChatID: "c1", Text: "follow up"}

	result := f.proc.Process(context.Background(), msg, Options{})
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if len(f.sorter.history) != 2 {
		t.Fatalf("sorter history = %d, want 2", len(f.sorter.history))
	}
	if len(f.chat.lastRC.History) != 2 {
		t.Fatalf("handler history = %d, want 2", len(f.chat.lastRC.History))
	}
}

func TestProcessSearchRunsOnlyWhenRequested(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.searcher.enabled = true
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "hello"}

	f.proc.Process(context.Background(), msg, Options{})
	if len(f.searcher.queries) != 0 {
		t.Fatalf("search ran without a request: %v", f.searcher.queries)
	}
	if f.chat.lastRC.Search.OK {
		t.Fatal("search outcome should be degraded when not requested")
	}

	f.proc.Process(context.Background(), msg, Options{WebSearch: true})
	if len(f.searcher.queries) != 1 {
		t.Fatalf("search queries = %v", f.searcher.queries)
	}
}

func TestProcessDegradedContextStillSucceeds(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.vectors.err = errors.New("qdrant down")
	f.searcher.enabled = true
	f.searcher.err = errors.New("search down")
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "hello"}

	result := f.proc.Process(context.Background(), msg, Options{WebSearch: true})
	if !result.Success {
		t.Fatalf("degraded context must not fail the request: %s", result.Error)
	}
	if f.chat.lastRC.RAG.OK || f.chat.lastRC.Search.OK {
		t.Fatal("expected degraded outcomes")
	}
}

func TestProcessClassifierFailureReturnsError(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.sorter.err = errors.New("sort model down")
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "hello"}

	result := f.proc.Process(context.Background(), msg, Options{})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error == "" {
		t.Fatal("expected an error message")
	}
}

func TestProcessProviderErrorSurfacesVerbatim(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture()
	f.chat.err = &ai.ProviderError{Provider: "ollama", Message: "connection refused", Remediation: "is the ollama server running?"}
	msg := message.Message{ID: "msg-1", UserID: "u1", Text: "hello"}

	var stages []string
	result := f.proc.ProcessStream(context.Background(), msg, Options{}, nil,
		func(stage string) { stages = append(stages, stage) })
	if result.Success {
		t.Fatal("expected failure")
	}
	pe := f.chat.err.(*ai.ProviderError)
	if result.Error != pe.Error() {
		t.Fatalf("error = %q, want provider error verbatim", result.Error)
	}
	if len(stages) == 0 || stages[len(stages)-1] != StatusError {
		t.Fatalf("stages = %v", stages)
	}
}

func TestRegistryFallsBackToChat(t *testing.T) {
	t.Parallel()

	chat := &fakeHandler{}
	registry := NewRegistry(chat, &fakeHandler{}, &fakeHandler{})

	if registry.Resolve(Intent("unknown")) != Handler(chat) {
		t.Fatal("unknown intent must fall back to chat")
	}
	if registry.Resolve(IntentDocumentGeneration) != Handler(chat) {
		t.Fatal("document generation routes to chat")
	}
}

func TestPreprocessorDefaultsTextForBareAttachment(t *testing.T) {
	t.Parallel()

	pre := NewPreprocessor(testLogger())
	msg := message.Message{FilePath: "u1/doc.pdf"}
	pre.Prepare(&msg)
	if msg.Text == "" {
		t.Fatal("bare attachments must get a default text")
	}

	trimmed := message.Message{Text: "  spaced  "}
	pre.Prepare(&trimmed)
	if trimmed.Text != "spaced" {
		t.Fatalf("text = %q", trimmed.Text)
	}
}
