package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/llm"
	"github.com/guardedit/internal/prompts"
	"github.com/guardedit/pkg/models"
)

// Generator is satisfied by *llm.ResilientClient
type Generator interface {
	Generate(ctx context.Context, prompt llm.Prompt) (llm.Response, error)
}

// LLMRewriter asks a model for the full new content of a file
type LLMRewriter struct {
	gen         Generator
	temperature float64
	maxTokens   int
}

// NewLLMRewriter creates a rewriter on top of a generator
func NewLLMRewriter(gen Generator, temperature float64, maxTokens int) *LLMRewriter {
	return &LLMRewriter{gen: gen, temperature: temperature, maxTokens: maxTokens}
}

// Rewrite implements Rewriter. The answer is returned verbatim.
func (r *LLMRewriter) Rewrite(ctx context.Context, req models.RewriteRequest) (string, error) {
	resp, err := r.gen.Generate(ctx, llm.Prompt{
		Name:        "rewrite:" + req.Path,
		System:      prompts.RewriteSystemPrompt(),
		User:        prompts.BuildRewritePrompt(req),
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// LLMClassifier asks a model for a single verdict token
type LLMClassifier struct {
	gen         Generator
	temperature float64
	maxTokens   int
}

// NewLLMClassifier creates a classifier on top of a generator
func NewLLMClassifier(gen Generator, temperature float64, maxTokens int) *LLMClassifier {
	return &LLMClassifier{gen: gen, temperature: temperature, maxTokens: maxTokens}
}

// Classify implements Classifier. Transport failures and unrecognized answers
// both come back as ESCALATE with a non-nil error.
func (c *LLMClassifier) Classify(ctx context.Context, diff string) (models.RiskVerdict, error) {
	resp, err := c.gen.Generate(ctx, llm.Prompt{
		Name:        "classify",
		System:      prompts.ClassifierRole,
		User:        prompts.BuildClassifyPrompt(diff),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return models.VerdictEscalate, fmt.Errorf("classifier call failed: %w", err)
	}

	verdict, err := llm.ParseVerdict(resp.Text)
	if err != nil {
		log.Warn().Err(err).Msg("Classifier answer not understood, escalating")
		return models.VerdictEscalate, err
	}

	log.Debug().Str("raw", resp.Text).Stringer("verdict", verdict).Msg("Classifier answered")
	return verdict, nil
}
