package models

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
	"github.com/quillchat/quill/internal/providers"
)

var (
	ErrModelNotFound     = errors.New("model not found")
	ErrModelAmbiguous    = errors.New("model_id is ambiguous across providers")
	ErrNoDefaultModel    = errors.New("no default model for capability")
	ErrUnknownCapability = errors.New("unknown capability")
)

type Service struct {
	pool      *pgxpool.Pool
	providers *providers.Service
	logger    *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool, providerSvc *providers.Service) *Service {
	return &Service{
		pool:      pool,
		providers: providerSvc,
		logger:    log.With(slog.String("service", "models")),
	}
}

func (s *Service) Create(ctx context.Context, req AddRequest) (AddResponse, error) {
	m := Model(req)
	if m.Tag == "" {
		m.Tag = TagChat
	}
	if err := m.Validate(); err != nil {
		return AddResponse{}, err
	}
	providerID, err := db.ParseUUID(m.ProviderID)
	if err != nil {
		return AddResponse{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO models (model_id, name, provider_id, tag, supports_streaming, supports_system_role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		m.ModelID, m.Name, providerID, m.Tag, m.SupportsStreaming, m.SupportsSystemRole,
	)
	var id pgtype.UUID
	if err := row.Scan(&id); err != nil {
		return AddResponse{}, err
	}
	return AddResponse{ID: db.UUIDToString(id), ModelID: m.ModelID}, nil
}

// Resolve finds a model by row UUID first, then by its provider-facing
// model_id string. Ambiguous model_id matches are an error.
func (s *Service) Resolve(ctx context.Context, ref string) (Model, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Model{}, fmt.Errorf("%w: empty reference", ErrModelNotFound)
	}
	if pgID, err := db.ParseUUID(ref); err == nil {
		m, err := s.getByID(ctx, pgID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Model{}, err
		}
	}
	rows, err := s.pool.Query(ctx, selectModel+` WHERE model_id = $1`, ref)
	if err != nil {
		return Model{}, err
	}
	defer rows.Close()
	found := make([]Model, 0, 1)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return Model{}, err
		}
		found = append(found, m)
	}
	if err := rows.Err(); err != nil {
		return Model{}, err
	}
	if len(found) == 0 {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, ref)
	}
	if len(found) > 1 {
		return Model{}, fmt.Errorf("%w: %s", ErrModelAmbiguous, ref)
	}
	return found[0], nil
}

// GetDefaultModel returns the model serving a capability for a user:
// the user's configured default when set, else the first enabled model
// whose tag can serve the capability.
func (s *Service) GetDefaultModel(ctx context.Context, capability Capability, userID string) (Model, error) {
	tags, ok := capabilityTags[capability]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}

	if pgUser, err := db.ParseUUID(userID); err == nil {
		row := s.pool.QueryRow(ctx,
			selectModel+` JOIN user_model_defaults d ON d.model_id = m.id
			 WHERE d.user_id = $1 AND d.capability = $2`,
			pgUser, string(capability),
		)
		m, err := scanModel(row)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Model{}, err
		}
	}

	for _, tag := range tags {
		row := s.pool.QueryRow(ctx,
			selectModel+` JOIN llm_providers p ON p.id = m.provider_id
			 WHERE m.tag = $1 AND p.enabled ORDER BY m.created_at LIMIT 1`,
			tag,
		)
		m, err := scanModel(row)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Model{}, err
		}
	}
	return Model{}, fmt.Errorf("%w: %s", ErrNoDefaultModel, capability)
}

// SetUserDefault pins a model as the user's default for a capability.
func (s *Service) SetUserDefault(ctx context.Context, userID string, req SetDefaultRequest) error {
	if _, ok := capabilityTags[Capability(req.Capability)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, req.Capability)
	}
	pgUser, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	m, err := s.Resolve(ctx, req.ModelID)
	if err != nil {
		return err
	}
	pgModel, err := db.ParseUUID(m.ID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_model_defaults (user_id, capability, model_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, capability) DO UPDATE SET model_id = EXCLUDED.model_id`,
		pgUser, req.Capability, pgModel,
	)
	return err
}

// FirstByTag returns the first enabled model carrying a tag.
func (s *Service) FirstByTag(ctx context.Context, tag string) (Model, error) {
	row := s.pool.QueryRow(ctx,
		selectModel+` JOIN llm_providers p ON p.id = m.provider_id
		 WHERE m.tag = $1 AND p.enabled ORDER BY m.created_at LIMIT 1`,
		tag,
	)
	m, err := scanModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Model{}, fmt.Errorf("%w: tag %s", ErrModelNotFound, tag)
	}
	return m, err
}

// GetProviderForModel returns the provider record serving a model reference.
func (s *Service) GetProviderForModel(ctx context.Context, ref string) (providers.Provider, error) {
	m, err := s.Resolve(ctx, ref)
	if err != nil {
		return providers.Provider{}, err
	}
	return s.providers.GetByID(ctx, m.ProviderID)
}

// GetModelName returns the display name for a model reference.
func (s *Service) GetModelName(ctx context.Context, ref string) (string, error) {
	m, err := s.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if m.Name != "" {
		return m.Name, nil
	}
	return m.ModelID, nil
}

// GetModelTag returns the capability tag for a model reference.
func (s *Service) GetModelTag(ctx context.Context, ref string) (string, error) {
	m, err := s.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return m.Tag, nil
}

const selectModel = `SELECT m.id, m.model_id, m.name, m.provider_id, m.tag,
	m.supports_streaming, m.supports_system_role FROM models m`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) getByID(ctx context.Context, id pgtype.UUID) (Model, error) {
	row := s.pool.QueryRow(ctx, selectModel+` WHERE m.id = $1`, id)
	return scanModel(row)
}

func scanModel(row rowScanner) (Model, error) {
	var (
		m          Model
		id         pgtype.UUID
		providerID pgtype.UUID
	)
	if err := row.Scan(&id, &m.ModelID, &m.Name, &providerID, &m.Tag,
		&m.SupportsStreaming, &m.SupportsSystemRole); err != nil {
		return Model{}, err
	}
	m.ID = db.UUIDToString(id)
	m.ProviderID = db.UUIDToString(providerID)
	return m, nil
}
