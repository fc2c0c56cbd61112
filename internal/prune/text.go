// Package prune bounds oversized extracted file text before it enters a
// prompt. Overlong content is replaced by UTF-8-safe head and tail windows
// with an elision marker between them.
package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMarker    = "[quill pruned]"
	DefaultMaxBytes  = 24 * 1024
	DefaultMaxLines  = 400
	DefaultHeadBytes = 16 * 1024
	DefaultTailBytes = 4 * 1024
)

type Config struct {
	MaxBytes  int
	MaxLines  int
	HeadBytes int
	TailBytes int
	Marker    string
}

// Exceeds reports whether s is over either budget.
func Exceeds(s string, maxBytes, maxLines int) bool {
	return len(s) > maxBytes || CountLines(s) > maxLines
}

func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// FileText returns s unchanged when it fits the budget, otherwise a
// head/tail excerpt annotated with the original size.
func FileText(s, label string, cfg Config) string {
	cfg = normalize(cfg)
	if s == "" || !Exceeds(s, cfg.MaxBytes, cfg.MaxLines) {
		return s
	}
	head := safePrefix(s, cfg.HeadBytes)
	tail := safeSuffix(s, cfg.TailBytes)
	return fmt.Sprintf(
		"%s %s too long (bytes=%d, lines=%d), showing head/tail\n\n%s\n\n[...snip...]\n\n%s",
		cfg.Marker, label, len(s), CountLines(s), head, tail,
	)
}

func normalize(cfg Config) Config {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.HeadBytes <= 0 {
		cfg.HeadBytes = DefaultHeadBytes
	}
	if cfg.TailBytes < 0 {
		cfg.TailBytes = DefaultTailBytes
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	return cfg
}

func safePrefix(s string, maxBytes int) string {
	if maxBytes <= 0 || s == "" {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func safeSuffix(s string, maxBytes int) string {
	if maxBytes <= 0 || s == "" {
		return ""
	}
	if maxBytes >= len(s) {
		return s
	}
	start := len(s) - maxBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	if start >= len(s) {
		return ""
	}
	return s[start:]
}
