package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/ai"
	"github.com/quillchat/quill/internal/models"
)

const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaAudio = "audio"
)

var (
	videoWords = regexp.MustCompile(`(?i)\b(video|movie|clip|animation|animated|film)\b`)
	audioWords = regexp.MustCompile(`(?i)\b(audio|sound|song|music|voice|speech|narrat\w*|sing\w*)\b`)
)

const mediaErrorReply = "Sorry, I could not generate that media right now. Please try again in a moment."

// MediaHandler generates images, video, or audio. It only works in
// streaming mode; batch calls are buffered internally.
type MediaHandler struct {
	ai         ai.Facade
	models     ModelRegistry
	prompts    PromptSource
	store      MessageStore
	files      FileStore
	logger     *slog.Logger
	httpClient *http.Client
}

func NewMediaHandler(log *slog.Logger, facade ai.Facade, registry ModelRegistry, promptSvc PromptSource, store MessageStore, files FileStore) *MediaHandler {
	return &MediaHandler{
		ai:         facade,
		models:     registry,
		prompts:    promptSvc,
		store:      store,
		files:      files,
		logger:     log.With(slog.String("handler", "media")),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *MediaHandler) Process(ctx context.Context, rc ResolvedContext) (HandlerResult, error) {
	var buf strings.Builder
	result, err := h.ProcessStream(ctx, rc, func(text string) {
		buf.WriteString(text)
	}, nil)
	if err != nil {
		return result, err
	}
	if result.Text == "" {
		result.Text = buf.String()
	}
	return result, nil
}

func (h *MediaHandler) ProcessStream(ctx context.Context, rc ResolvedContext, onChunk ChunkFunc, onStatus StatusFunc) (HandlerResult, error) {
	extracted := h.extractPrompt(ctx, rc)
	kind := h.mediaKind(ctx, rc, extracted)

	if strings.TrimSpace(extracted.Prompt) == "" {
		// Nothing usable to send to a generator; tell the user instead of
		// erroring out.
		reply := "I could not work out what to generate. Please describe the image, video, or audio you want."
		if onChunk != nil {
			onChunk(reply)
		}
		return HandlerResult{Text: reply}, nil
	}

	if onStatus != nil {
		onStatus(StatusGenerating)
	}

	modelRef := firstNonEmpty(rc.Classification.ModelID, rc.Classification.OverrideModelID)
	result, err := h.generate(ctx, rc, kind, extracted.Prompt, modelRef)
	if err != nil {
		// Generation failures become a visible in-band reply; throwing
		// would break the stream transport.
		h.logger.Error("media generation failed",
			slog.String("kind", kind), slog.String("error", err.Error()))
		if onChunk != nil {
			onChunk(mediaErrorReply)
		}
		return HandlerResult{Text: mediaErrorReply}, nil
	}

	if onChunk != nil {
		onChunk(result.Text)
	}
	return result, nil
}

type extractedPrompt struct {
	Prompt string
	Media  string
}

// extractPrompt asks the mediamaker prompt to pull a clean generation
// prompt (and media hint) out of the conversational message. Plain text
// output is treated as the prompt verbatim. When the media type stays
// ambiguous and the wording hints at audio, a second pass runs against the
// audio-specific topic.
func (h *MediaHandler) extractPrompt(ctx context.Context, rc ResolvedContext) extractedPrompt {
	out := h.runExtraction(ctx, rc, TopicMediaMaker)
	if out.Media == "" && audioWords.MatchString(rc.Message.Text) {
		second := h.runExtraction(ctx, rc, TopicSoundMaker)
		if second.Prompt != "" {
			if second.Media == "" {
				second.Media = MediaAudio
			}
			return second
		}
	}
	return out
}

func (h *MediaHandler) runExtraction(ctx context.Context, rc ResolvedContext, topic string) extractedPrompt {
	raw := stripSlashCommand(rc.Message.Text)
	prompt, err := h.prompts.GetPromptWithMetadata(ctx, topic, rc.Message.UserID, rc.Classification.Language)
	if err != nil {
		h.logger.Warn("load extraction prompt failed",
			slog.String("topic", topic), slog.String("error", err.Error()))
		return extractedPrompt{Prompt: raw}
	}
	temp := float32(0)
	result, err := h.ai.Chat(ctx, ai.ChatRequest{
		UserID:         rc.Message.UserID,
		Temperature:    &temp,
		ResponseFormat: &ai.ResponseFormat{Type: "json_object"},
		Messages: []ai.Message{
			{Role: "system", Content: prompt.Content},
			{Role: "user", Content: raw},
		},
	})
	if err != nil {
		h.logger.Warn("prompt extraction failed",
			slog.String("topic", topic), slog.String("error", err.Error()))
		return extractedPrompt{Prompt: raw}
	}
	var parsed struct {
		Prompt string `json:"prompt"`
		Media  string `json:"media"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(result.Content)), &parsed); err != nil {
		// Plain output is the prompt verbatim.
		return extractedPrompt{Prompt: strings.TrimSpace(result.Content)}
	}
	if strings.TrimSpace(parsed.Prompt) == "" {
		parsed.Prompt = raw
	}
	return extractedPrompt{
		Prompt: strings.TrimSpace(parsed.Prompt),
		Media:  strings.ToLower(strings.TrimSpace(parsed.Media)),
	}
}

// mediaKind picks the media type by priority: slash command > override
// model tag > classifier hint > extraction hint > keyword heuristics >
// image default.
func (h *MediaHandler) mediaKind(ctx context.Context, rc ResolvedContext, extracted extractedPrompt) string {
	switch rc.Classification.Topic {
	case "tools:pic":
		return MediaImage
	case "tools:vid":
		return MediaVideo
	}

	if ref := firstNonEmpty(rc.Classification.ModelID, rc.Classification.OverrideModelID); ref != "" {
		if tag, err := h.models.GetModelTag(ctx, ref); err == nil {
			switch tag {
			case models.TagText2Pic:
				return MediaImage
			case models.TagText2Vid:
				return MediaVideo
			case models.TagText2Sound:
				return MediaAudio
			}
		}
	}

	switch rc.Classification.MediaType {
	case MediaImage, MediaVideo, MediaAudio:
		return rc.Classification.MediaType
	}
	switch extracted.Media {
	case MediaImage, MediaVideo, MediaAudio:
		return extracted.Media
	}

	if videoWords.MatchString(rc.Message.Text) {
		return MediaVideo
	}
	if audioWords.MatchString(rc.Message.Text) {
		return MediaAudio
	}
	return MediaImage
}

func (h *MediaHandler) generate(ctx context.Context, rc ResolvedContext, kind, prompt, modelRef string) (HandlerResult, error) {
	userID := rc.Message.UserID
	switch kind {
	case MediaVideo:
		result, err := h.ai.GenerateVideo(ctx, ai.GenerateRequest{UserID: userID, Model: modelRef, Prompt: prompt})
		if err != nil {
			return HandlerResult{}, err
		}
		url := result.Items[0].URL
		return h.withAttachment(ctx, rc, HandlerResult{
			Text:     fmt.Sprintf("[VIDEO:%s]", url),
			FilePath: url,
			FileType: MediaVideo,
			Provider: result.Provider,
			Model:    result.Model,
		}), nil
	case MediaAudio:
		result, err := h.ai.Synthesize(ctx, ai.SynthesizeRequest{UserID: userID, Model: modelRef, Text: prompt})
		if err != nil {
			return HandlerResult{}, err
		}
		return h.withAttachment(ctx, rc, HandlerResult{
			Text:     fmt.Sprintf("[AUDIO:%s]", result.Filename),
			FilePath: result.Filename,
			FileType: MediaAudio,
			Provider: result.Provider,
			Model:    result.Model,
		}), nil
	default:
		result, err := h.ai.GenerateImage(ctx, ai.GenerateRequest{UserID: userID, Model: modelRef, Prompt: prompt})
		if err != nil {
			return HandlerResult{}, err
		}
		url := h.rehostImage(ctx, userID, result.Items[0].URL)
		return h.withAttachment(ctx, rc, HandlerResult{
			Text:     fmt.Sprintf("[IMAGE:%s]", url),
			FilePath: url,
			FileType: MediaImage,
			Provider: result.Provider,
			Model:    result.Model,
		}), nil
	}
}

// rehostImage downloads a generated image and stores it locally. Download
// failure degrades to the remote URL.
func (h *MediaHandler) rehostImage(ctx context.Context, userID, remoteURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return remoteURL
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Warn("image download failed, using remote url",
			slog.String("url", remoteURL), slog.String("error", err.Error()))
		return remoteURL
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("image download failed, using remote url",
			slog.String("url", remoteURL), slog.Int("status", resp.StatusCode))
		return remoteURL
	}

	ext := path.Ext(strings.Split(path.Base(remoteURL), "?")[0])
	if ext == "" {
		ext = ".png"
	}
	key := fmt.Sprintf("%s/media/%s%s", userID, uuid.NewString(), ext)
	if err := h.files.Put(ctx, key, io.LimitReader(resp.Body, 64*1024*1024)); err != nil {
		h.logger.Warn("store downloaded image failed, using remote url",
			slog.String("url", remoteURL), slog.String("error", err.Error()))
		return remoteURL
	}
	return h.files.AccessPath(key)
}

func (h *MediaHandler) withAttachment(ctx context.Context, rc ResolvedContext, result HandlerResult) HandlerResult {
	if rc.Message.ID != "" && result.FilePath != "" {
		if err := h.store.AttachFile(ctx, rc.Message.ID, result.FilePath, result.FileType); err != nil {
			h.logger.Warn("attach media failed",
				slog.String("message_id", rc.Message.ID), slog.String("error", err.Error()))
		}
	}
	return result
}

func stripSlashCommand(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, cmd := range slashCommands {
		if rest, ok := strings.CutPrefix(trimmed, cmd.prefix+" "); ok {
			return strings.TrimSpace(rest)
		}
		if trimmed == cmd.prefix {
			return ""
		}
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
