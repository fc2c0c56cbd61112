package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillchat/quill/internal/db"
)

var ErrMessageNotFound = errors.New("message not found")

type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "message")),
	}
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Message, error) {
	if params.Direction != DirectionIn && params.Direction != DirectionOut {
		return Message{}, fmt.Errorf("invalid direction: %s", params.Direction)
	}
	if params.Status == "" {
		params.Status = StatusProcessing
	}
	pgUser, err := db.ParseUUID(params.UserID)
	if err != nil {
		return Message{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (user_id, tracking_id, chat_id, direction, text,
			file_text, file_path, file_type, topic, language, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+messageColumns,
		pgUser, params.TrackingID, db.ToPgText(params.ChatID), string(params.Direction),
		params.Text, db.ToPgText(params.FileText), db.ToPgText(params.FilePath),
		db.ToPgText(params.FileType), params.Topic, params.Language, string(params.Status),
	)
	return scanMessage(row)
}

func (s *Service) GetByID(ctx context.Context, id string) (Message, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Message{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, pgID)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return msg, err
}

// UpdateClassification writes the classified topic and language back onto
// the message.
func (s *Service) UpdateClassification(ctx context.Context, id, topic, language string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET topic = $2, language = $3, updated_at = now()
		 WHERE id = $1 AND status <> 'complete'`,
		pgID, topic, language,
	)
	return err
}

// Finalize sets the terminal status and final text. Messages already
// complete are left untouched.
func (s *Service) Finalize(ctx context.Context, id, text string, status Status) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET text = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status <> 'complete'`,
		pgID, text, string(status),
	)
	return err
}

// SetStatus moves a message to a new status without touching its text.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET status = $2, updated_at = now()
		 WHERE id = $1 AND status <> 'complete'`,
		pgID, string(status),
	)
	return err
}

// AttachFile records a generated or re-hosted file on the message.
func (s *Service) AttachFile(ctx context.Context, id, filePath, fileType string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET file_path = $2, file_type = $3, updated_at = now()
		 WHERE id = $1`,
		pgID, db.ToPgText(filePath), db.ToPgText(fileType),
	)
	return err
}

// SetMeta attaches an override key/value to a persisted message. A message
// must have a durable identity before metadata referencing it can exist;
// calling this with an empty message id is a programming error and panics.
func (s *Service) SetMeta(ctx context.Context, messageID, key, value string) error {
	if strings.TrimSpace(messageID) == "" {
		panic("message: SetMeta called before message was persisted")
	}
	pgID, err := db.ParseUUID(messageID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO message_meta (message_id, meta_key, meta_value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		pgID, key, value,
	)
	return err
}

// GetMeta loads all metadata rows for a message.
func (s *Service) GetMeta(ctx context.Context, messageID string) (map[string]string, error) {
	pgID, err := db.ParseUUID(messageID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT meta_key, meta_value FROM message_meta WHERE message_id = $1`, pgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// FindChatHistory loads prior messages scoped by chat id, newest-last,
// bounded by count and by a total character budget.
func (s *Service) FindChatHistory(ctx context.Context, userID, chatID string, maxCount, maxChars int) ([]Message, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE user_id = $1 AND chat_id = $2 AND status = 'complete'
		 ORDER BY created_at DESC LIMIT $3`,
		pgUser, chatID, maxCount,
	)
	if err != nil {
		return nil, err
	}
	history, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return boundByChars(history, maxChars), nil
}

// FindConversationHistory is the legacy tracking-id scoped lookup.
func (s *Service) FindConversationHistory(ctx context.Context, userID, trackingID string, maxCount int) ([]Message, error) {
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE user_id = $1 AND tracking_id = $2 AND status = 'complete'
		 ORDER BY created_at DESC LIMIT $3`,
		pgUser, trackingID, maxCount,
	)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ExpireStuck marks messages stuck in processing older than the cutoff as
// errored. Returns the number of rows touched.
func (s *Service) ExpireStuck(ctx context.Context, olderThanMinutes int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = 'error', updated_at = now()
		 WHERE status = 'processing'
		   AND updated_at < now() - make_interval(mins => $1)`,
		olderThanMinutes,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const messageColumns = `id, user_id, tracking_id, chat_id, direction, text,
	file_text, file_path, file_type, topic, language, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m                    Message
		id, userID           pgtype.UUID
		chatID, fileText     pgtype.Text
		filePath, fileType   pgtype.Text
		createdAt, updatedAt pgtype.Timestamptz
		direction, status    string
	)
	if err := row.Scan(&id, &userID, &m.TrackingID, &chatID, &direction, &m.Text,
		&fileText, &filePath, &fileType, &m.Topic, &m.Language, &status,
		&createdAt, &updatedAt); err != nil {
		return Message{}, err
	}
	m.ID = db.UUIDToString(id)
	m.UserID = db.UUIDToString(userID)
	m.ChatID = db.TextToString(chatID)
	m.Direction = Direction(direction)
	m.FileText = db.TextToString(fileText)
	m.FilePath = db.TextToString(filePath)
	m.FileType = db.TextToString(fileType)
	m.Status = Status(status)
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	return m, nil
}

// collectMessages drains a descending-ordered result set and returns the
// messages newest-last.
func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var desc []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		desc = append(desc, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		out = append(out, desc[i])
	}
	return out, nil
}

// boundByChars trims a newest-last history from the front until the total
// text size fits the character budget.
func boundByChars(history []Message, maxChars int) []Message {
	if maxChars <= 0 {
		return history
	}
	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += len(history[i].Text) + len(history[i].FileText)
		if total > maxChars {
			break
		}
		cut = i
	}
	return history[cut:]
}
