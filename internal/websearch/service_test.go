package websearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillchat/quill/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsEnabled(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  config.SearchConfig
		want bool
	}{
		{"brave with key", config.SearchConfig{Provider: ProviderBrave, APIKey: "k"}, true},
		{"brave without key", config.SearchConfig{Provider: ProviderBrave}, false},
		{"tavily with key", config.SearchConfig{Provider: ProviderTavily, APIKey: "k"}, true},
		{"searxng with base url", config.SearchConfig{Provider: ProviderSearXNG, BaseURL: "http://127.0.0.1:8888"}, true},
		{"searxng without base url", config.SearchConfig{Provider: ProviderSearXNG}, false},
		{"unset", config.SearchConfig{}, false},
	}
	for _, tc := range cases {
		svc := NewService(testLogger(), tc.cfg, nil)
		assert.Equal(t, tc.want, svc.IsEnabled(), tc.name)
	}
}

func TestSearchBrave(t *testing.T) {
	t.Parallel()

	var gotToken, gotCountry, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotCountry = r.URL.Query().Get("country")
		gotLang = r.URL.Query().Get("search_lang")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"web":{"results":[
			{"title":"Go blog","url":"https://go.dev/blog","description":"news","age":"2d","extra_snippets":["s1"]},
			{"title":"Go docs","url":"https://go.dev/doc","description":"docs"}
		]}}`)
	}))
	defer srv.Close()

	svc := NewService(testLogger(), config.SearchConfig{
		Provider: ProviderBrave, APIKey: "secret", BaseURL: srv.URL,
	}, nil)

	set, err := svc.Search(context.Background(), "golang news", Options{Country: "DE", SearchLang: "de"})
	require.NoError(t, err)
	require.Len(t, set.Results, 2)
	assert.Equal(t, "golang news", set.Query)
	assert.Equal(t, "Go blog", set.Results[0].Title)
	assert.Equal(t, []string{"s1"}, set.Results[0].ExtraSnippets)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "DE", gotCountry)
	assert.Equal(t, "de", gotLang)
}

func TestSearchTavily(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer tk", r.Header.Get("Authorization"))
		io.WriteString(w, `{"results":[{"title":"T","url":"https://t.example","content":"c"}]}`)
	}))
	defer srv.Close()

	svc := NewService(testLogger(), config.SearchConfig{
		Provider: ProviderTavily, APIKey: "tk", BaseURL: srv.URL,
	}, nil)

	set, err := svc.Search(context.Background(), "query", Options{})
	require.NoError(t, err)
	require.Len(t, set.Results, 1)
	assert.Equal(t, "c", set.Results[0].Description)
}

func TestSearchSearXNG(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "json", r.URL.Query().Get("format"))
		io.WriteString(w, `{"results":[{"title":"X","url":"https://x.example","content":"c"}]}`)
	}))
	defer srv.Close()

	svc := NewService(testLogger(), config.SearchConfig{
		Provider: ProviderSearXNG, BaseURL: srv.URL,
	}, nil)

	set, err := svc.Search(context.Background(), "query", Options{SearchLang: "en"})
	require.NoError(t, err)
	require.Len(t, set.Results, 1)
}

func TestSearchErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc := NewService(testLogger(), config.SearchConfig{
		Provider: ProviderBrave, APIKey: "k", BaseURL: srv.URL,
	}, nil)

	_, err := svc.Search(context.Background(), "query", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSearchEmptyQueryErrors(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), config.SearchConfig{Provider: ProviderBrave, APIKey: "k"}, nil)
	_, err := svc.Search(context.Background(), "   ", Options{})
	require.Error(t, err)
}

type fakeCaller struct {
	content string
	err     error
}

func (f *fakeCaller) SortingChat(_ context.Context, _, _, _ string) (string, error) {
	return f.content, f.err
}

func TestQueryGenerator(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		caller fakeCaller
		raw    string
		want   string
	}{
		{"json query", fakeCaller{content: `{"query":"go 1.25 changes"}`}, "what changed in go?", "go 1.25 changes"},
		{"fenced json", fakeCaller{content: "```json\n{\"query\":\"weather oslo\"}\n```"}, "how is the weather in oslo", "weather oslo"},
		{"plain text output", fakeCaller{content: "plain search terms"}, "something", "plain search terms"},
		{"empty json falls back", fakeCaller{content: `{"query":""}`}, "raw text", "raw text"},
		{"caller error falls back", fakeCaller{err: errors.New("down")}, "raw text", "raw text"},
		{"unparseable json object falls back", fakeCaller{content: `{"other":"x"}`}, "raw text", "raw text"},
	}
	for _, tc := range cases {
		gen := NewQueryGenerator(testLogger(), &tc.caller)
		assert.Equal(t, tc.want, gen.Generate(context.Background(), tc.raw, "u1"), tc.name)
	}
}
