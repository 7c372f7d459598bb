package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats records what RepairJSON had to do to a payload
type RepairStats struct {
	OriginalBytes int
	RepairedBytes int
	Strategies    []string
	WasRepaired   bool
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	singleQuotedRe  = regexp.MustCompile(`'([^'\n]*)'`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)
)

// RepairJSON makes a best effort to turn model output into valid JSON.
// Cheap regex fixes are tried first, then jsonrepair as the fallback.
func RepairJSON(raw string) (string, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}

	candidate := ExtractJSON(raw)
	if candidate == "" {
		return "", stats, fmt.Errorf("no JSON object found in response")
	}
	if candidate != strings.TrimSpace(raw) {
		stats.Strategies = append(stats.Strategies, "extracted")
	}

	fixes := []struct {
		name string
		fix  func(string) string
	}{
		{"trailing_commas", func(s string) string { return trailingCommaRe.ReplaceAllString(s, "$1") }},
		{"single_quotes", func(s string) string { return singleQuotedRe.ReplaceAllString(s, `"$1"`) }},
		{"key_quotes", func(s string) string { return bareKeyRe.ReplaceAllString(s, `$1"$2"$3`) }},
	}

	for _, f := range fixes {
		if json.Valid([]byte(candidate)) {
			break
		}
		if fixed := f.fix(candidate); fixed != candidate {
			candidate = fixed
			stats.Strategies = append(stats.Strategies, f.name)
		}
	}

	if !json.Valid([]byte(candidate)) {
		fixed, err := jsonrepair.JSONRepair(candidate)
		if err != nil {
			return candidate, stats, fmt.Errorf("JSON repair failed: %w", err)
		}
		candidate = fixed
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
	}

	stats.WasRepaired = len(stats.Strategies) > 0
	stats.RepairedBytes = len(candidate)
	if !json.Valid([]byte(candidate)) {
		return candidate, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}
	return candidate, stats, nil
}

// ExtractJSON pulls the first JSON object or array out of mixed text,
// looking inside ``` fences first.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var inner []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				inner = append(inner, line)
			}
		}
		if len(inner) > 0 {
			return ExtractJSON(strings.Join(inner, "\n"))
		}
	}

	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return ""
	}
	open := raw[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw[start:]
}
