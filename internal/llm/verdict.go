package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/guardedit/pkg/models"
)

// ErrUnrecognizedVerdict is returned when classifier output names no known verdict
var ErrUnrecognizedVerdict = errors.New("unrecognized classifier verdict")

// verdictTokens maps every accepted token to its verdict. OK, PR and BLOCK are
// the short labels older classifier prompts asked for.
var verdictTokens = map[string]models.RiskVerdict{
	"ALLOW":    models.VerdictAllow,
	"OK":       models.VerdictAllow,
	"ESCALATE": models.VerdictEscalate,
	"PR":       models.VerdictEscalate,
	"REJECT":   models.VerdictReject,
	"BLOCK":    models.VerdictReject,
}

// ParseVerdict reads a classifier answer. ALLOW is accepted only as a bare token
// (optionally quoted, fenced or followed by punctuation) or from the "verdict"
// field of a JSON object. In prose the most severe ESCALATE or REJECT token wins.
// Anything else yields ErrUnrecognizedVerdict; callers decide the fallback.
func ParseVerdict(raw string) (models.RiskVerdict, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.VerdictEscalate, fmt.Errorf("%w: empty response", ErrUnrecognizedVerdict)
	}

	if v, ok := lookupToken(text); ok {
		return v, nil
	}

	if strings.ContainsAny(text, "{[") {
		if v, ok := verdictFromJSON(text); ok {
			return v, nil
		}
	}

	// Prose answers: the most severe verdict named anywhere wins, and ALLOW
	// is never read out of prose.
	if v, ok := severestNamed(text); ok {
		return v, nil
	}

	return models.VerdictEscalate, fmt.Errorf("%w: %q", ErrUnrecognizedVerdict, truncate(text, 40))
}

func lookupToken(s string) (models.RiskVerdict, bool) {
	v, ok := verdictTokens[strings.ToUpper(stripNoise(s))]
	return v, ok
}

// severestNamed returns the most severe non-ALLOW verdict token in free text
func severestNamed(text string) (models.RiskVerdict, bool) {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	found := false
	verdict := models.VerdictAllow
	for _, w := range words {
		v, ok := verdictTokens[strings.ToUpper(w)]
		if !ok || v == models.VerdictAllow {
			continue
		}
		found = true
		verdict = verdict.Max(v)
	}
	return verdict, found
}

func stripNoise(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`\"'*")
	s = strings.TrimSpace(s)
	return strings.TrimRight(s, ".:;,!")
}

func verdictFromJSON(text string) (models.RiskVerdict, bool) {
	repaired, _, err := RepairJSON(text)
	if err != nil {
		return 0, false
	}

	var payload struct {
		Verdict  string `json:"verdict"`
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return 0, false
	}

	token := payload.Verdict
	if token == "" {
		token = payload.Decision
	}
	return lookupToken(token)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
