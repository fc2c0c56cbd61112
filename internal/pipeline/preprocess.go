package pipeline

import (
	"log/slog"
	"strings"

	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/prune"
)

// Preprocessor normalizes an inbound message before classification. File
// download and text extraction happen upstream; this step only makes sure
// the text fields are in usable shape. It is idempotent and safe to run on
// messages without attachments.
type Preprocessor struct {
	logger   *slog.Logger
	pruneCfg prune.Config
}

func NewPreprocessor(log *slog.Logger) *Preprocessor {
	return &Preprocessor{
		logger:   log.With(slog.String("service", "preprocessor")),
		pruneCfg: prune.Config{},
	}
}

func (p *Preprocessor) Prepare(msg *message.Message) {
	msg.Text = strings.TrimSpace(msg.Text)

	if msg.FileText != "" {
		before := len(msg.FileText)
		label := msg.FilePath
		if label == "" {
			label = "attachment"
		}
		msg.FileText = prune.FileText(msg.FileText, label, p.pruneCfg)
		if len(msg.FileText) < before {
			p.logger.Warn("pruned oversized file text",
				slog.String("message_id", msg.ID),
				slog.Int("original_bytes", before),
				slog.Int("pruned_bytes", len(msg.FileText)))
		}
	}

	// A bare attachment still needs something classifiable in text.
	if msg.Text == "" && msg.HasFile() {
		msg.Text = "Please review the attached file."
	}
}
