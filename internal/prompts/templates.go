package prompts

import (
	"fmt"
	"strings"

	"github.com/guardedit/pkg/models"
)

// System role definitions
const (
	// RewriterRole frames the rewrite oracle
	RewriterRole = "You are an assistant that edits a single source file in a web project (TS/JS/React/Next, styles, docs, config)."

	// ClassifierRole frames the risk classifier and pins the answer format
	ClassifierRole = "You are a strict code reviewer. Answer with exactly one word: ALLOW | ESCALATE | REJECT"
)

// PolicyPreamble is prepended to every rewrite request
const PolicyPreamble = `- Do NOT change core logic: routing, authentication, data models, API contracts, global/shared state or stores, core configuration.
- Allowed changes: UI/UX, accessibility, light performance work, non-functional refactors, lint/warning fixes, typos and documentation.
- Output: ONLY the final content of the target file (no markdown fences, no explanations).`

// RewriteRequirements closes every rewrite request
const RewriteRequirements = `Requirements:
- Keep imports, types and style consistent; no breaking change to core logic.
- Output: ONLY the final file content.`

// ClassifierInstructions describes the three verdicts
const ClassifierInstructions = `Answer ONLY with: ALLOW | ESCALATE | REJECT
- ALLOW if the diff does NOT alter core logic (routing, authentication, data models, API contracts, global state/store, core configuration)
  and does not introduce secrets or credentials.
- ESCALATE if the change is large or risky in scope, or touches core logic.
- REJECT if you see potentially harmful code, secrets or credentials.`

// Markers delimiting the current file inside the rewrite prompt
const (
	OldFileStart = "<<OLD_FILE>>"
	OldFileEnd   = "<<END_OLD_FILE>>"
)

// RewriteSystemPrompt returns the system message for the rewrite oracle
func RewriteSystemPrompt() string {
	return RewriterRole + "\n" + PolicyPreamble
}

// BuildRewritePrompt renders the user message for one file
func BuildRewritePrompt(req models.RewriteRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", req.Path)
	b.WriteString("Current content:\n")
	b.WriteString(OldFileStart + "\n")
	b.WriteString(req.Content)
	b.WriteString("\n" + OldFileEnd + "\n\n")
	fmt.Fprintf(&b, "Objective:\n%s\n\n", strings.TrimSpace(req.Objective))
	b.WriteString(RewriteRequirements)
	return b.String()
}

// BuildClassifyPrompt renders the user message for the risk classifier
func BuildClassifyPrompt(diff string) string {
	return ClassifierInstructions + "\n\nDIFF:\n" + diff
}
