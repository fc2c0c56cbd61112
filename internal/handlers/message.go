package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quillchat/quill/internal/auth"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/pipeline"
)

// MessageService is the message persistence surface the handler needs.
type MessageService interface {
	Create(ctx context.Context, params message.CreateParams) (message.Message, error)
	SetMeta(ctx context.Context, messageID, key, value string) error
	Finalize(ctx context.Context, id, text string, status message.Status) error
}

type MessageHandler struct {
	messages  MessageService
	processor *pipeline.Processor
	again     *pipeline.AgainProcessor
	logger    *slog.Logger
}

func NewMessageHandler(log *slog.Logger, messages MessageService, processor *pipeline.Processor, again *pipeline.AgainProcessor) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		processor: processor,
		again:     again,
		logger:    log.With(slog.String("handler", "message")),
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	group := e.Group("/messages")
	group.POST("/process", h.Process)
	group.POST("/stream", h.Stream)
	group.POST("/:id/again", h.Again)
}

type processRequest struct {
	TrackingID string `json:"tracking_id" validate:"required"`
	ChatID     string `json:"chat_id"`
	Text       string `json:"text"`
	FileText   string `json:"file_text"`
	FilePath   string `json:"file_path"`
	FileType   string `json:"file_type"`

	// Overrides and per-call directives.
	PromptID              string `json:"prompt_id"`
	ModelID               string `json:"model_id"`
	FixedTaskPrompt       string `json:"fixed_task_prompt"`
	ForceImageDescription bool   `json:"force_image_description"`
	WebSearch             bool   `json:"web_search"`
	GroupKey              string `json:"group_key"`
}

type processResponse struct {
	Result    pipeline.Result `json:"result"`
	MessageID string          `json:"message_id"`
	ReplyID   string          `json:"reply_id,omitempty"`
}

// intake persists the inbound message and, once it has a durable id,
// its override metadata.
func (h *MessageHandler) intake(c echo.Context, req processRequest, userID string) (message.Message, error) {
	ctx := c.Request().Context()
	msg, err := h.messages.Create(ctx, message.CreateParams{
		UserID:     userID,
		TrackingID: req.TrackingID,
		ChatID:     req.ChatID,
		Direction:  message.DirectionIn,
		Text:       req.Text,
		FileText:   req.FileText,
		FilePath:   req.FilePath,
		FileType:   req.FileType,
		Status:     message.StatusProcessing,
	})
	if err != nil {
		return message.Message{}, err
	}
	if req.PromptID != "" {
		if err := h.messages.SetMeta(ctx, msg.ID, message.MetaKeyPromptID, req.PromptID); err != nil {
			return message.Message{}, err
		}
	}
	if req.ModelID != "" {
		if err := h.messages.SetMeta(ctx, msg.ID, message.MetaKeyModelID, req.ModelID); err != nil {
			return message.Message{}, err
		}
	}
	return msg, nil
}

func (h *MessageHandler) options(req processRequest) pipeline.Options {
	return pipeline.Options{
		FixedTaskPrompt:       req.FixedTaskPrompt,
		ForceImageDescription: req.ForceImageDescription,
		WebSearch:             req.WebSearch,
		GroupKey:              req.GroupKey,
	}
}

// finish persists the outcome: the reply as an outbound message and the
// inbound message's terminal status.
func (h *MessageHandler) finish(c echo.Context, msg message.Message, result pipeline.Result) string {
	ctx := c.Request().Context()
	if !result.Success {
		if err := h.messages.Finalize(ctx, msg.ID, msg.Text, message.StatusError); err != nil {
			h.logger.Warn("finalize errored message failed", slog.String("error", err.Error()))
		}
		return ""
	}
	reply, err := h.messages.Create(ctx, message.CreateParams{
		UserID:     msg.UserID,
		TrackingID: msg.TrackingID,
		ChatID:     msg.ChatID,
		Direction:  message.DirectionOut,
		Text:       result.Text,
		FilePath:   result.FilePath,
		FileText:   result.FileText,
		FileType:   result.FileType,
		Topic:      result.Classification.Topic,
		Language:   result.Classification.Language,
		Status:     message.StatusComplete,
	})
	if err != nil {
		h.logger.Warn("persist reply failed", slog.String("error", err.Error()))
	}
	if err := h.messages.Finalize(ctx, msg.ID, msg.Text, message.StatusComplete); err != nil {
		h.logger.Warn("finalize message failed", slog.String("error", err.Error()))
	}
	return reply.ID
}

func (h *MessageHandler) Process(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.intake(c, req, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	result := h.processor.Process(c.Request().Context(), msg, h.options(req))
	replyID := h.finish(c, msg, result)
	return c.JSON(http.StatusOK, processResponse{Result: result, MessageID: msg.ID, ReplyID: replyID})
}

type streamEvent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Stage  string           `json:"stage,omitempty"`
	Result *pipeline.Result `json:"result,omitempty"`
}

func (h *MessageHandler) Stream(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.intake(c, req, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	emit := func(ev streamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		writer.WriteString(fmt.Sprintf("data: %s\n\n", data))
		writer.Flush()
		flusher.Flush()
	}

	result := h.processor.ProcessStream(c.Request().Context(), msg, h.options(req),
		func(text string) { emit(streamEvent{Type: "chunk", Text: text}) },
		func(stage string) { emit(streamEvent{Type: "status", Stage: stage}) },
	)
	h.finish(c, msg, result)
	emit(streamEvent{Type: "result", Result: &result})
	writer.WriteString("data: [DONE]\n\n")
	writer.Flush()
	flusher.Flush()
	return nil
}

type againRequest struct {
	ModelID  string `json:"model_id" validate:"required"`
	PromptID string `json:"prompt_id"`
}

func (h *MessageHandler) Again(c echo.Context) error {
	if _, err := auth.UserIDFromContext(c); err != nil {
		return err
	}
	var req againRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reply, result, err := h.again.Reprocess(c.Request().Context(), c.Param("id"), req.ModelID, req.PromptID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !result.Success {
		return c.JSON(http.StatusOK, map[string]any{"result": result})
	}
	return c.JSON(http.StatusOK, map[string]any{"result": result, "reply": reply})
}
