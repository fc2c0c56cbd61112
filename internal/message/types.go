package message

import "time"

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Metadata keys carrying per-message overrides.
const (
	MetaKeyPromptID = "PROMPTID"
	MetaKeyModelID  = "MODEL_ID"
)

// Message is one exchanged unit of a conversation.
type Message struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TrackingID string    `json:"tracking_id"`
	ChatID     string    `json:"chat_id,omitempty"`
	Direction  Direction `json:"direction"`
	Text       string    `json:"text"`
	FileText   string    `json:"file_text,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	FileType   string    `json:"file_type,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Language   string    `json:"language,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasFile reports whether the message carries an attachment reference.
func (m Message) HasFile() bool {
	return m.FilePath != "" || m.FileText != ""
}

type CreateParams struct {
	UserID     string
	TrackingID string
	ChatID     string
	Direction  Direction
	Text       string
	FileText   string
	FilePath   string
	FileType   string
	Topic      string
	Language   string
	Status     Status
}
