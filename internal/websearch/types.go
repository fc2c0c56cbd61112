package websearch

// Result is one normalized web search hit.
type Result struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	Age           string   `json:"age,omitempty"`
	ExtraSnippets []string `json:"extra_snippets,omitempty"`
}

// ResultSet is the outcome of one search call.
type ResultSet struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Options steer provider-side localisation.
type Options struct {
	Country    string
	SearchLang string
}

const (
	ProviderBrave   = "brave"
	ProviderTavily  = "tavily"
	ProviderSearXNG = "searxng"
)
