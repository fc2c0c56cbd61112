package providers

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

var ErrProviderNotFound = errors.New("provider not found")

type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "providers")),
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Provider, error) {
	clientType := strings.TrimSpace(req.ClientType)
	if clientType == "" {
		clientType = string(ClientTypeOpenAICompat)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO llm_providers (name, client_type, base_url, api_key)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, client_type, base_url, api_key, enabled`,
		req.Name, clientType, strings.TrimRight(req.BaseURL, "/"), req.APIKey,
	)
	return scanProvider(row)
}

func (s *Service) GetByID(ctx context.Context, id string) (Provider, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Provider{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, client_type, base_url, api_key, enabled
		 FROM llm_providers WHERE id = $1`,
		pgID,
	)
	p, err := scanProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, err
}

func (s *Service) List(ctx context.Context) ([]Provider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, client_type, base_url, api_key, enabled
		 FROM llm_providers ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Service) Delete(ctx context.Context, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM llm_providers WHERE id = $1`, pgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (Provider, error) {
	var (
		p  Provider
		id pgtype.UUID
	)
	if err := row.Scan(&id, &p.Name, &p.ClientType, &p.BaseURL, &p.APIKey, &p.Enabled); err != nil {
		return Provider{}, err
	}
	p.ID = db.UUIDToString(id)
	return p, nil
}
