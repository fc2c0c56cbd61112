package pipeline

import (
	"context"
	"testing"

	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/models"
)

func newAgainFixture() (*processorFixture, *AgainProcessor) {
	f := newProcessorFixture()
	return f, NewAgainProcessor(testLogger(), f.store, f.proc)
}

func seedOriginal(f *processorFixture, msg message.CreateParams) message.Message {
	orig, err := f.store.Create(context.Background(), msg)
	if err != nil {
		panic(err)
	}
	return orig
}

func TestReprocessClonesAndPersistsReply(t *testing.T) {
	t.Parallel()

	f, again := newAgainFixture()
	f.models.tags["gpt-new"] = models.TagChat
	f.chat.streamText = "a better answer"
	f.chat.result = HandlerResult{Text: "a better answer", Provider: "openai", Model: "gpt-new"}
	orig := seedOriginal(f, message.CreateParams{
		UserID: "u1", TrackingID: "t1", ChatID: "c1",
		Direction: message.DirectionIn, Text: "original question",
		Topic: TopicChat, Status: message.StatusComplete,
	})

	out, result, err := again.Reprocess(context.Background(), orig.ID, "gpt-new", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("failed: %s", result.Error)
	}
	if out.Direction != message.DirectionOut || out.Text != "a better answer" {
		t.Fatalf("reply = %+v", out)
	}
	if out.Status != message.StatusComplete {
		t.Fatalf("reply status = %s", out.Status)
	}

	// Original, clone, reply.
	if len(f.store.created) != 3 {
		t.Fatalf("created = %d messages", len(f.store.created))
	}
	clone := f.store.created[1]
	if clone.Direction != message.DirectionIn || clone.Text != "original question" {
		t.Fatalf("clone = %+v", clone)
	}
	if f.store.meta[clone.ID][message.MetaKeyModelID] != "gpt-new" {
		t.Fatalf("clone meta = %v", f.store.meta[clone.ID])
	}
	if f.store.finalized[clone.ID] != message.StatusComplete {
		t.Fatalf("clone finalized as %s", f.store.finalized[clone.ID])
	}
	if result.Classification.Source != SourceAgain {
		t.Fatalf("source = %s", result.Classification.Source)
	}
}

func TestReprocessPromptOverridePinsTopic(t *testing.T) {
	t.Parallel()

	f, again := newAgainFixture()
	f.models.tags["gpt"] = models.TagChat
	orig := seedOriginal(f, message.CreateParams{
		UserID: "u1", TrackingID: "t1", Direction: message.DirectionIn,
		Text: "question", Topic: TopicChat, Status: message.StatusComplete,
	})

	_, result, err := again.Reprocess(context.Background(), orig.ID, "gpt", "officemaker")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone := f.store.created[1]
	meta := f.store.meta[clone.ID]
	if meta[message.MetaKeyModelID] != "gpt" || meta[message.MetaKeyPromptID] != "officemaker" {
		t.Fatalf("clone meta = %v", meta)
	}

	// The override must act on the re-run, not just be recorded.
	if result.Classification.Topic != "officemaker" {
		t.Fatalf("topic = %s, want officemaker", result.Classification.Topic)
	}
	if result.Classification.Intent != IntentDocumentGeneration {
		t.Fatalf("intent = %s", result.Classification.Intent)
	}
	if result.Classification.ModelID != "gpt" {
		t.Fatalf("forced model = %s", result.Classification.ModelID)
	}
	promptTopics := f.prompts.calls
	if len(promptTopics) == 0 || promptTopics[len(promptTopics)-1] != "officemaker" {
		t.Fatalf("prompt fetched for %v, want officemaker", promptTopics)
	}
}

func TestReprocessSortSentinelPromptIsIgnored(t *testing.T) {
	t.Parallel()

	f, again := newAgainFixture()
	f.models.tags["gpt"] = models.TagChat
	orig := seedOriginal(f, message.CreateParams{
		UserID: "u1", TrackingID: "t1", Direction: message.DirectionIn,
		Text: "question", Topic: TopicChat, Status: message.StatusComplete,
	})

	_, result, err := again.Reprocess(context.Background(), orig.ID, "gpt", PromptIDSortSentinel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Classification.Topic != TopicGeneral {
		t.Fatalf("topic = %s, want %s", result.Classification.Topic, TopicGeneral)
	}
}

func TestReprocessTextToImageModelRoutesToMedia(t *testing.T) {
	t.Parallel()

	f, again := newAgainFixture()
	f.models.tags["sdxl"] = models.TagText2Pic
	f.media.result = HandlerResult{Text: "[IMAGE:/files/u1/media/y.png]", FilePath: "/files/u1/media/y.png", FileType: MediaImage}
	orig := seedOriginal(f, message.CreateParams{
		UserID: "u1", TrackingID: "t1", Direction: message.DirectionIn,
		Text: "a sunset", Topic: TopicChat, Status: message.StatusComplete,
	})

	out, result, err := again.Reprocess(context.Background(), orig.ID, "sdxl", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.media.calls != 1 {
		t.Fatalf("media handler calls = %d", f.media.calls)
	}
	if result.Classification.Topic != TopicMediaMaker {
		t.Fatalf("topic = %s", result.Classification.Topic)
	}
	if out.FilePath != "/files/u1/media/y.png" || out.FileType != MediaImage {
		t.Fatalf("reply attachment = %s/%s", out.FilePath, out.FileType)
	}
}

func TestReprocessScansInlineMarkersWhenNoFileReported(t *testing.T) {
	t.Parallel()

	f, again := newAgainFixture()
	f.models.tags["gpt"] = models.TagChat
	f.chat.result = HandlerResult{Text: "done [IMAGE:/files/u1/media/z.png]"}
	orig := seedOriginal(f, message.CreateParams{
		UserID: "u1", TrackingID: "t1", Direction: message.DirectionIn,
		Text: "draw again", Status: message.StatusComplete,
	})

	out, _, err := again.Reprocess(context.Background(), orig.ID, "gpt", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.FilePath != "/files/u1/media/z.png" || out.FileType != MediaImage {
		t.Fatalf("marker not extracted: %s/%s", out.FilePath, out.FileType)
	}
}

func TestReprocessFailureFinalizesCloneAsError(t *testing.T) {
	t.Parallel()

	f, again := newAgainFixture()
	f.models.tags["gpt"] = models.TagChat
	f.chat.err = context.DeadlineExceeded
	orig := seedOriginal(f, message.CreateParams{
		UserID: "u1", TrackingID: "t1", Direction: message.DirectionIn,
		Text: "question", Status: message.StatusComplete,
	})

	_, result, err := again.Reprocess(context.Background(), orig.ID, "gpt", "")
	if err != nil {
		t.Fatalf("pipeline failures are reported in the result, not as errors: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	clone := f.store.created[1]
	if f.store.finalized[clone.ID] != message.StatusError {
		t.Fatalf("clone finalized as %s", f.store.finalized[clone.ID])
	}
	// No reply row for failed reprocessing.
	if len(f.store.created) != 2 {
		t.Fatalf("created = %d messages", len(f.store.created))
	}
}

func TestReprocessRequiresModelID(t *testing.T) {
	t.Parallel()

	_, again := newAgainFixture()
	if _, _, err := again.Reprocess(context.Background(), "msg-1", " ", ""); err == nil {
		t.Fatal("expected error for missing model id")
	}
}

func TestReprocessUnknownMessageErrors(t *testing.T) {
	t.Parallel()

	_, again := newAgainFixture()
	if _, _, err := again.Reprocess(context.Background(), "missing", "gpt", ""); err == nil {
		t.Fatal("expected error for unknown message")
	}
}
