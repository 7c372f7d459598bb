package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/ai"
	"github.com/guardedit/pkg/models"
)

// Size thresholds above which a change is never published directly
const (
	MaxInsertedLines = 1200
	MaxDeletedLines  = 600
	MaxTouchedFiles  = 8
)

// Finding is the outcome of one content scanner
type Finding struct {
	Verdict models.RiskVerdict
	Reasons []string
	// Sensitive marks a change set whose diff must not be written to logs
	Sensitive bool
}

// Scanner inspects a change set for a specific class of risk
type Scanner interface {
	Name() string
	Scan(ctx context.Context, cs *models.ChangeSet) (Finding, error)
}

// Gate combines the size heuristic with the guarded-mode signals
type Gate struct {
	classifier ai.Classifier
	scanners   []Scanner
	timeout    time.Duration
}

// Option configures a Gate
type Option func(*Gate)

// WithScanners adds content scanners that run before the classifier in guarded mode
func WithScanners(scanners ...Scanner) Option {
	return func(g *Gate) { g.scanners = append(g.scanners, scanners...) }
}

// WithTimeout bounds the guarded-mode evaluation; expiry escalates
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// New creates a gate around a classifier
func New(classifier ai.Classifier, opts ...Option) *Gate {
	g := &Gate{classifier: classifier}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Heuristic applies the size thresholds. It returns ESCALATE or ALLOW, never REJECT.
func Heuristic(cs *models.ChangeSet) (models.RiskVerdict, []string) {
	if cs == nil {
		return models.VerdictAllow, nil
	}

	var reasons []string
	if cs.Inserted > MaxInsertedLines {
		reasons = append(reasons, fmt.Sprintf("%d inserted lines exceed %d", cs.Inserted, MaxInsertedLines))
	}
	if cs.Deleted > MaxDeletedLines {
		reasons = append(reasons, fmt.Sprintf("%d deleted lines exceed %d", cs.Deleted, MaxDeletedLines))
	}
	if n := cs.TouchedFiles(); n > MaxTouchedFiles {
		reasons = append(reasons, fmt.Sprintf("%d touched files exceed %d", n, MaxTouchedFiles))
	}

	if len(reasons) > 0 {
		return models.VerdictEscalate, reasons
	}
	return models.VerdictAllow, nil
}

// Evaluate produces the verdict for a change set. The result is the most
// severe of all signals; any failure inside guarded evaluation counts as ESCALATE.
// Direct mode only applies the heuristic.
func (g *Gate) Evaluate(ctx context.Context, cs *models.ChangeSet, mode models.Mode) models.GateResult {
	heuristic, reasons := Heuristic(cs)
	result := models.GateResult{
		Verdict:            heuristic,
		HeuristicEscalated: heuristic > models.VerdictAllow,
		Reasons:            reasons,
	}

	if mode != models.ModeGuarded {
		return result
	}

	if cs == nil || strings.TrimSpace(cs.Diff) == "" {
		result.Reasons = append(result.Reasons, "empty diff, classification skipped")
		return result
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	guarded := models.VerdictAllow
	for _, s := range g.scanners {
		finding, err := s.Scan(ctx, cs)
		if err != nil {
			log.Warn().Err(err).Str("scanner", s.Name()).Msg("Scanner failed, escalating")
			finding.Verdict = finding.Verdict.Max(models.VerdictEscalate)
			finding.Reasons = append(finding.Reasons, fmt.Sprintf("%s failed: %v", s.Name(), err))
		}
		guarded = guarded.Max(finding.Verdict)
		result.Sensitive = result.Sensitive || finding.Sensitive
		result.Reasons = append(result.Reasons, finding.Reasons...)
	}

	classified := g.classify(ctx, cs, guarded, &result)
	result.ClassifierVerdict = guarded.Max(classified)
	result.Verdict = result.Verdict.Max(result.ClassifierVerdict)

	log.Info().
		Stringer("verdict", result.Verdict).
		Bool("heuristic_escalated", result.HeuristicEscalated).
		Stringer("classifier", result.ClassifierVerdict).
		Msg("Risk gate evaluated")
	return result
}

// classify runs the model classifier unless the scanners already rejected
func (g *Gate) classify(ctx context.Context, cs *models.ChangeSet, scanned models.RiskVerdict, result *models.GateResult) models.RiskVerdict {
	if scanned == models.VerdictReject {
		result.Reasons = append(result.Reasons, "classifier skipped after scanner rejection")
		return models.VerdictReject
	}
	if g.classifier == nil {
		result.Reasons = append(result.Reasons, "no classifier configured")
		return models.VerdictEscalate
	}

	result.ClassifierRan = true
	verdict, err := g.classifier.Classify(ctx, cs.Diff)
	if err != nil {
		result.Reasons = append(result.Reasons, fmt.Sprintf("classifier failed: %v", err))
		return verdict.Max(models.VerdictEscalate)
	}
	if verdict > models.VerdictAllow {
		result.Reasons = append(result.Reasons, "classifier answered "+verdict.String())
	}
	return verdict
}
