package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how much gating a run applies before publishing
type Mode string

const (
	// ModeGuarded runs the classifier chain in addition to the size heuristic
	ModeGuarded Mode = "guarded"
	// ModeDirect applies only the size heuristic
	ModeDirect Mode = "direct"
)

// ParseMode converts user input into a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeGuarded, "":
		return ModeGuarded, nil
	case ModeDirect:
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected guarded or direct)", s)
	}
}

// CandidateFile is a file selected for rewriting
type CandidateFile struct {
	Path    string `json:"path"`     // Absolute path on disk
	RelPath string `json:"rel_path"` // Slash-separated path relative to the repository root
	Size    int64  `json:"size"`
	Ext     string `json:"ext"` // Lower-cased, including the leading dot
}

// RewriteRequest is a single file handed to the rewrite oracle
type RewriteRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Objective string `json:"objective"`
}

// FileChange summarizes the diff of one touched file
type FileChange struct {
	Path       string   `json:"path"`
	Inserted   int      `json:"inserted"`
	Deleted    int      `json:"deleted"`
	Binary     bool     `json:"binary,omitempty"`
	AddedLines []string `json:"-"`
}

// ChangeSet is the working-tree diff across all touched files
type ChangeSet struct {
	Diff     string       `json:"-"`
	Inserted int          `json:"inserted"`
	Deleted  int          `json:"deleted"`
	Files    []FileChange `json:"files"`
}

// TouchedFiles returns the number of files with a non-empty diff
func (c *ChangeSet) TouchedFiles() int {
	if c == nil {
		return 0
	}
	return len(c.Files)
}

// Empty reports whether the change set carries no changes at all
func (c *ChangeSet) Empty() bool {
	return c == nil || (strings.TrimSpace(c.Diff) == "" && len(c.Files) == 0)
}

// Paths returns the touched file paths in diff order
func (c *ChangeSet) Paths() []string {
	if c == nil {
		return nil
	}
	paths := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// RiskVerdict is the ordered outcome of the risk gate
type RiskVerdict int

const (
	VerdictAllow RiskVerdict = iota
	VerdictEscalate
	VerdictReject
)

func (v RiskVerdict) String() string {
	switch v {
	case VerdictAllow:
		return "ALLOW"
	case VerdictEscalate:
		return "ESCALATE"
	case VerdictReject:
		return "REJECT"
	default:
		return fmt.Sprintf("RiskVerdict(%d)", int(v))
	}
}

// MarshalText implements encoding.TextMarshaler
func (v RiskVerdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Max returns the more severe of the two verdicts
func (v RiskVerdict) Max(other RiskVerdict) RiskVerdict {
	if other > v {
		return other
	}
	return v
}

// MaxVerdict folds any number of signals into the most severe one.
// No signals means ALLOW.
func MaxVerdict(verdicts ...RiskVerdict) RiskVerdict {
	out := VerdictAllow
	for _, v := range verdicts {
		out = out.Max(v)
	}
	return out
}

// GateResult is the verdict together with the signals that produced it
type GateResult struct {
	Verdict            RiskVerdict `json:"verdict"`
	HeuristicEscalated bool        `json:"heuristic_escalated"`
	ClassifierRan      bool        `json:"classifier_ran"`
	ClassifierVerdict  RiskVerdict `json:"classifier_verdict"`
	Reasons            []string    `json:"reasons,omitempty"`
	Sensitive          bool        `json:"sensitive,omitempty"`
}

// State is a node of the publish state machine
type State string

const (
	StateNoChanges          State = "NoChanges"
	StateStagedLocal        State = "StagedLocal"
	StateCommitted          State = "Committed"
	StatePublishedDirect    State = "PublishedDirect"
	StatePublishedForReview State = "PublishedForReview"
	StateAborted            State = "Aborted"
)

// Terminal reports whether no further transition can leave the state
func (s State) Terminal() bool {
	switch s {
	case StateNoChanges, StatePublishedDirect, StatePublishedForReview, StateAborted:
		return true
	}
	return false
}

// PublishPlan describes what the publish controller is allowed to do
type PublishPlan struct {
	TargetBranch string `json:"target_branch"`
	Push         bool   `json:"push"`
	OpenReview   bool   `json:"open_review"`
	Direct       bool   `json:"direct"`
	CommitBranch string `json:"commit_branch"`
	ReviewBranch string `json:"review_branch,omitempty"`
	Message      string `json:"message"`
	Title        string `json:"title,omitempty"`
	Body         string `json:"body,omitempty"`
}

// Outcome is the final report of a pipeline run
type Outcome struct {
	RunID        string       `json:"run_id"`
	Objective    string       `json:"objective"`
	Mode         Mode         `json:"mode"`
	State        State        `json:"state"`
	Gate         *GateResult  `json:"gate,omitempty"`
	Plan         *PublishPlan `json:"plan,omitempty"`
	Candidates   int          `json:"candidates"`
	Touched      []string     `json:"touched,omitempty"`
	Inserted     int          `json:"inserted"`
	Deleted      int          `json:"deleted"`
	Branch       string       `json:"branch,omitempty"`
	ReviewURL    string       `json:"review_url,omitempty"`
	ManualReview bool         `json:"manual_review,omitempty"`
	PublishErr   error        `json:"-"`
	Message      string       `json:"message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// Verdict returns the gate verdict, or ALLOW when the gate never ran
func (o *Outcome) Verdict() RiskVerdict {
	if o == nil || o.Gate == nil {
		return VerdictAllow
	}
	return o.Gate.Verdict
}
