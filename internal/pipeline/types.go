package pipeline

// Intent is the coarse handler category a topic maps to.
type Intent string

const (
	IntentChat               Intent = "chat"
	IntentImageGeneration    Intent = "image_generation"
	IntentFileAnalysis       Intent = "file_analysis"
	IntentDocumentGeneration Intent = "document_generation"
)

// Source records which classification path produced the result.
type Source string

const (
	SourcePromptOverride    Source = "prompt_override"
	SourceModelOverrideAuto Source = "model_override_auto"
	SourceToolCommand       Source = "tool_command"
	SourceImageAttachment   Source = "image_attachment"
	SourceAISorting         Source = "ai_sorting"
	SourceAgain             Source = "again"
	SourceWidget            Source = "widget"
	SourceForcedImageDesc   Source = "forced_image_description"
)

// Well-known topics.
const (
	TopicGeneral     = "general"
	TopicChat        = "chat"
	TopicAnalyzeFile = "analyzefile"
	TopicMediaMaker  = "mediamaker"
	TopicSoundMaker  = "soundmaker"
	TopicOfficeMaker = "officemaker"
)

// PromptIDSortSentinel marks a PROMPTID metadata value that must not be
// treated as a prompt override.
const PromptIDSortSentinel = "tools:sort"

// Classification is the transient routing decision for one processing call.
// It is never persisted directly; selected fields are copied onto the
// message and its metadata by the caller.
type Classification struct {
	Topic       string `json:"topic"`
	Language    string `json:"language"`
	Intent      Intent `json:"intent"`
	Source      Source `json:"source"`
	SkipSorting bool   `json:"skip_sorting"`

	// ModelID is an explicit generation model (Again, prompt override).
	ModelID string `json:"model_id,omitempty"`
	// OverrideModelID comes from MODEL_ID metadata without a prompt override.
	OverrideModelID string `json:"override_model_id,omitempty"`

	WebSearch bool   `json:"web_search,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Duration  int    `json:"duration,omitempty"`

	// Bookkeeping about which model sorted; informational for the caller,
	// never used for generation.
	SortModelID   string `json:"sort_model_id,omitempty"`
	SortModelName string `json:"sort_model_name,omitempty"`
	SortProvider  string `json:"sort_provider,omitempty"`
}

// Options carries per-call directives from the surrounding transport.
type Options struct {
	// FixedTaskPrompt pins the topic and skips classification (widget mode).
	FixedTaskPrompt string
	// ModelID forces a generation model and skips classification (Again mode).
	ModelID string
	// PromptID pins the topic prompt alongside a forced model (Again mode).
	PromptID string
	// ForceImageDescription routes straight to file analysis.
	ForceImageDescription bool
	// WebSearch is the caller-requested search flag.
	WebSearch bool
	// GroupKey overrides the derived RAG group key.
	GroupKey string
}

// Result is the outcome of one processing call.
type Result struct {
	Success        bool           `json:"success"`
	Text           string         `json:"text,omitempty"`
	FilePath       string         `json:"file_path,omitempty"`
	FileText       string         `json:"file_text,omitempty"`
	FileType       string         `json:"file_type,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	Classification Classification `json:"classification"`
	Error          string         `json:"error,omitempty"`
}

// ChunkFunc receives streamed reply text.
type ChunkFunc func(text string)

// StatusFunc receives pipeline progress events.
type StatusFunc func(stage string)

// Status events emitted through StatusFunc.
const (
	StatusClassifying = "classifying"
	StatusSearching   = "searching"
	StatusGenerating  = "generating"
	StatusComplete    = "complete"
	StatusError       = "error"
)

// Outcome is the result of a best-effort context load: either a usable
// value or a recorded degradation reason. Degraded outcomes never fail the
// request.
type Outcome[T any] struct {
	Value  T
	OK     bool
	Reason string
}

func Some[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, OK: true}
}

func Degraded[T any](reason string) Outcome[T] {
	return Outcome[T]{Reason: reason}
}
