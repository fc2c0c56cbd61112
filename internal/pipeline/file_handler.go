package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/quillchat/quill/internal/ai"
)

const defaultAnalysisPrompt = "Extract all text from the image and describe what it shows."

const missingFileReply = "I could not find an image to analyze. Please attach the image again and resend your message."

// FileHandler runs vision analysis over an attached image.
type FileHandler struct {
	ai     ai.Facade
	files  FileStore
	logger *slog.Logger
}

func NewFileHandler(log *slog.Logger, facade ai.Facade, files FileStore) *FileHandler {
	return &FileHandler{
		ai:     facade,
		files:  files,
		logger: log.With(slog.String("handler", "file")),
	}
}

func (h *FileHandler) Process(ctx context.Context, rc ResolvedContext) (HandlerResult, error) {
	return h.analyze(ctx, rc, nil)
}

func (h *FileHandler) ProcessStream(ctx context.Context, rc ResolvedContext, onChunk ChunkFunc, onStatus StatusFunc) (HandlerResult, error) {
	if onStatus != nil {
		onStatus(StatusGenerating)
	}
	return h.analyze(ctx, rc, onChunk)
}

func (h *FileHandler) analyze(ctx context.Context, rc ResolvedContext, onChunk ChunkFunc) (HandlerResult, error) {
	imagePath, ok := h.resolveImagePath(ctx, rc)
	if !ok {
		// A missing file is a user-input fault, answered in-band.
		if onChunk != nil {
			onChunk(missingFileReply)
		}
		return HandlerResult{Text: missingFileReply}, nil
	}

	prompt := strings.TrimSpace(rc.Message.Text)
	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}

	modelRef := firstNonEmpty(rc.Classification.ModelID, rc.Classification.OverrideModelID)
	result, err := h.ai.AnalyzeImage(ctx, ai.AnalyzeRequest{
		UserID:    rc.Message.UserID,
		Model:     modelRef,
		ImagePath: imagePath,
		Prompt:    prompt,
	})
	if err != nil {
		return HandlerResult{}, err
	}

	if onChunk != nil {
		onChunk(result.Content)
	}
	return HandlerResult{
		Text:     result.Content,
		Provider: result.Provider,
		Model:    result.Model,
	}, nil
}

// resolveImagePath normalizes the stored file reference to an on-disk path
// and verifies the file exists. Stored shapes vary: a bare storage key, a
// serving path with the /files/ prefix, or a legacy relative path.
func (h *FileHandler) resolveImagePath(ctx context.Context, rc ResolvedContext) (string, bool) {
	raw := strings.TrimSpace(rc.Message.FilePath)
	if raw == "" {
		return "", false
	}

	key := strings.TrimPrefix(raw, "/files/")
	key = strings.TrimPrefix(key, "files/")
	key = strings.TrimLeft(key, "/")
	if !strings.Contains(key, "/") {
		// Legacy rows stored only the filename; scope it to the user.
		key = rc.Message.UserID + "/" + key
	}

	if !h.files.Exists(ctx, key) {
		h.logger.Warn("attached file missing on disk",
			slog.String("message_id", rc.Message.ID), slog.String("key", key))
		return "", false
	}
	diskPath, err := h.files.Resolve(key)
	if err != nil {
		h.logger.Warn("resolve attached file failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return "", false
	}
	return diskPath, true
}
