package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mdombrov-33/go-promptguard/detector"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"

	"github.com/guardedit/pkg/models"
)

// SecretDetector is the part of the gitleaks detector the scanner uses
type SecretDetector interface {
	DetectString(content string) []report.Finding
}

// SecretScanner rejects change sets whose added lines contain credentials
type SecretScanner struct {
	detector SecretDetector
}

// NewSecretScanner creates a scanner with the default gitleaks rule set
func NewSecretScanner() (*SecretScanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load gitleaks rules: %w", err)
	}
	return NewSecretScannerWithDetector(d), nil
}

// NewSecretScannerWithDetector wraps an existing detector
func NewSecretScannerWithDetector(d SecretDetector) *SecretScanner {
	return &SecretScanner{detector: d}
}

// Name implements Scanner
func (s *SecretScanner) Name() string { return "secrets" }

// Scan implements Scanner. Only added lines are inspected.
func (s *SecretScanner) Scan(ctx context.Context, cs *models.ChangeSet) (Finding, error) {
	var finding Finding
	for _, f := range cs.Files {
		if len(f.AddedLines) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return finding, err
		}

		for _, leak := range s.detector.DetectString(strings.Join(f.AddedLines, "\n")) {
			finding.Verdict = models.VerdictReject
			finding.Sensitive = true
			// The secret itself is never logged
			finding.Reasons = append(finding.Reasons,
				fmt.Sprintf("possible secret (%s) in %s added line %d", leak.RuleID, f.Path, leak.StartLine+1))
		}
	}
	return finding, nil
}

// InjectionResult is what an injection detector reports for one input
type InjectionResult struct {
	Safe      bool
	RiskScore float64
}

// InjectionDetector flags text that tries to steer a model
type InjectionDetector interface {
	Detect(ctx context.Context, text string) InjectionResult
}

// InjectionDetectorFunc adapts a function to InjectionDetector
type InjectionDetectorFunc func(ctx context.Context, text string) InjectionResult

// Detect implements InjectionDetector
func (f InjectionDetectorFunc) Detect(ctx context.Context, text string) InjectionResult {
	return f(ctx, text)
}

// InjectionScanner escalates change sets that embed instructions aimed at
// the classifier reading the diff
type InjectionScanner struct {
	detector InjectionDetector
}

// NewInjectionScanner creates a scanner backed by go-promptguard
func NewInjectionScanner() *InjectionScanner {
	guard := detector.New()
	return NewInjectionScannerWithDetector(InjectionDetectorFunc(func(ctx context.Context, text string) InjectionResult {
		res := guard.Detect(ctx, text)
		return InjectionResult{Safe: res.Safe, RiskScore: res.RiskScore}
	}))
}

// NewInjectionScannerWithDetector wraps an existing detector
func NewInjectionScannerWithDetector(d InjectionDetector) *InjectionScanner {
	return &InjectionScanner{detector: d}
}

// Name implements Scanner
func (s *InjectionScanner) Name() string { return "prompt-injection" }

// Scan implements Scanner
func (s *InjectionScanner) Scan(ctx context.Context, cs *models.ChangeSet) (Finding, error) {
	var finding Finding
	for _, f := range cs.Files {
		if len(f.AddedLines) == 0 {
			continue
		}
		res := s.detector.Detect(ctx, strings.Join(f.AddedLines, "\n"))
		if !res.Safe {
			finding.Verdict = models.VerdictEscalate
			finding.Reasons = append(finding.Reasons,
				fmt.Sprintf("possible prompt injection in %s (risk %.2f)", f.Path, res.RiskScore))
		}
	}
	return finding, nil
}

// ContractScanner escalates change sets that modify OpenAPI documents
type ContractScanner struct {
	root string
}

// NewContractScanner creates a scanner reading touched files under root
func NewContractScanner(root string) *ContractScanner {
	return &ContractScanner{root: root}
}

// Name implements Scanner
func (s *ContractScanner) Name() string { return "api-contract" }

// Scan implements Scanner
func (s *ContractScanner) Scan(ctx context.Context, cs *models.ChangeSet) (Finding, error) {
	var finding Finding
	for _, f := range cs.Files {
		switch strings.ToLower(filepath.Ext(f.Path)) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(f.Path)))
		if err != nil {
			return finding, fmt.Errorf("failed to read %s: %w", f.Path, err)
		}
		if IsOpenAPIDocument(data) {
			finding.Verdict = models.VerdictEscalate
			finding.Reasons = append(finding.Reasons, fmt.Sprintf("%s is an OpenAPI contract", f.Path))
		}
	}
	return finding, nil
}

// IsOpenAPIDocument reports whether data parses as an OpenAPI 3 document
func IsOpenAPIDocument(data []byte) bool {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil || doc == nil {
		return false
	}
	return doc.OpenAPI != ""
}
