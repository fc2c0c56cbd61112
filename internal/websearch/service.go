// Package websearch issues web searches against a configured provider and
// normalizes the hits into one result shape.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/db"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"
const tavilyEndpoint = "https://api.tavily.com/search"

type Service struct {
	cfg        config.SearchConfig
	pool       *pgxpool.Pool
	logger     *slog.Logger
	httpClient *http.Client
}

func NewService(log *slog.Logger, cfg config.SearchConfig, pool *pgxpool.Pool) *Service {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		cfg:        cfg,
		pool:       pool,
		logger:     log.With(slog.String("service", "websearch")),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsEnabled reports whether a usable search provider is configured.
func (s *Service) IsEnabled() bool {
	switch s.cfg.Provider {
	case ProviderBrave, ProviderTavily:
		return s.cfg.APIKey != ""
	case ProviderSearXNG:
		return s.cfg.BaseURL != ""
	default:
		return false
	}
}

func (s *Service) Search(ctx context.Context, query string, opts Options) (ResultSet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return ResultSet{}, fmt.Errorf("query is required")
	}
	switch s.cfg.Provider {
	case ProviderBrave:
		return s.searchBrave(ctx, query, opts)
	case ProviderTavily:
		return s.searchTavily(ctx, query)
	case ProviderSearXNG:
		return s.searchSearXNG(ctx, query, opts)
	default:
		return ResultSet{}, fmt.Errorf("unsupported search provider: %s", s.cfg.Provider)
	}
}

// SaveResults persists a result set against the message that triggered it.
func (s *Service) SaveResults(ctx context.Context, messageID string, set ResultSet) error {
	pgID, err := db.ParseUUID(messageID)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(set.Results)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_results (message_id, query, results) VALUES ($1, $2, $3)`,
		pgID, set.Query, encoded,
	)
	return err
}

// PurgeOld deletes persisted search results older than the retention window.
func (s *Service) PurgeOld(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM search_results WHERE created_at < now() - make_interval(days => $1)`,
		retentionDays,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Service) searchBrave(ctx context.Context, query string, opts Options) (ResultSet, error) {
	endpoint := s.cfg.BaseURL
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	params := url.Values{}
	params.Set("q", query)
	if opts.Country != "" {
		params.Set("country", opts.Country)
	}
	if opts.SearchLang != "" {
		params.Set("search_lang", opts.SearchLang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return ResultSet{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.cfg.APIKey)

	body, err := s.execute(req)
	if err != nil {
		return ResultSet{}, err
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title         string   `json:"title"`
				URL           string   `json:"url"`
				Description   string   `json:"description"`
				Age           string   `json:"age"`
				ExtraSnippets []string `json:"extra_snippets"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ResultSet{}, fmt.Errorf("decode brave response: %w", err)
	}
	set := ResultSet{Query: query}
	for _, r := range raw.Web.Results {
		set.Results = append(set.Results, Result{
			Title:         r.Title,
			URL:           r.URL,
			Description:   r.Description,
			Age:           r.Age,
			ExtraSnippets: r.ExtraSnippets,
		})
	}
	return set, nil
}

func (s *Service) searchTavily(ctx context.Context, query string) (ResultSet, error) {
	endpoint := s.cfg.BaseURL
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	payload, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return ResultSet{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ResultSet{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	body, err := s.execute(req)
	if err != nil {
		return ResultSet{}, err
	}
	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ResultSet{}, fmt.Errorf("decode tavily response: %w", err)
	}
	set := ResultSet{Query: query}
	for _, r := range raw.Results {
		set.Results = append(set.Results, Result{Title: r.Title, URL: r.URL, Description: r.Content})
	}
	return set, nil
}

func (s *Service) searchSearXNG(ctx context.Context, query string, opts Options) (ResultSet, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if opts.SearchLang != "" {
		params.Set("language", opts.SearchLang)
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ResultSet{}, err
	}

	body, err := s.execute(req)
	if err != nil {
		return ResultSet{}, err
	}
	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ResultSet{}, fmt.Errorf("decode searxng response: %w", err)
	}
	set := ResultSet{Query: query}
	for _, r := range raw.Results {
		set.Results = append(set.Results, Result{Title: r.Title, URL: r.URL, Description: r.Content})
	}
	return set, nil
}

func (s *Service) execute(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := string(body)
		if len(excerpt) > 512 {
			excerpt = excerpt[:512]
		}
		return nil, fmt.Errorf("search status %d: %s", resp.StatusCode, strings.TrimSpace(excerpt))
	}
	return body, nil
}
