package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/guardedit/internal/logging"
	"github.com/guardedit/internal/retry"
)

// Prompt is a single system + user exchange with the model
type Prompt struct {
	Name        string // Label used in logs, e.g. "rewrite:src/app.tsx"
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client is the minimal text generation capability the pipeline needs
type Client interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Response is the text of a successful generation plus resiliency details
type Response struct {
	Text     string
	Attempts int
	Duration time.Duration
}

// ResilientClient wraps a Client with rate limiting, a per-call timeout and retries
type ResilientClient struct {
	client      Client
	retryConfig retry.RetryConfig
	limiter     *rate.Limiter
	timeout     time.Duration
}

// Option configures a ResilientClient
type Option func(*ResilientClient)

// WithRetryConfig overrides the retry policy
func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(rc *ResilientClient) { rc.retryConfig = cfg }
}

// WithRequestsPerMinute caps the call rate; values <= 0 disable the limit
func WithRequestsPerMinute(n int) Option {
	return func(rc *ResilientClient) {
		if n <= 0 {
			rc.limiter = nil
			return
		}
		rc.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// WithTimeout bounds each attempt; zero means no per-attempt deadline
func WithTimeout(d time.Duration) Option {
	return func(rc *ResilientClient) { rc.timeout = d }
}

// NewResilientClient creates a new resilient LLM client wrapper
func NewResilientClient(client Client, opts ...Option) *ResilientClient {
	rc := &ResilientClient{
		client:      client,
		retryConfig: retry.LLMRetryConfig(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Generate sends the prompt, retrying transient failures
func (rc *ResilientClient) Generate(ctx context.Context, prompt Prompt) (Response, error) {
	logger := logging.GetCurrentLogger()
	start := time.Now()

	logger.Log("LLM request %s (%d system + %d user bytes)", prompt.Name, len(prompt.System), len(prompt.User))

	text, result := retry.Do(ctx, rc.retryConfig, logger, func(ctx context.Context) (string, error) {
		if rc.limiter != nil {
			if err := rc.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limiter: %w", err)
			}
		}

		callCtx := ctx
		if rc.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, rc.timeout)
			defer cancel()
		}
		return rc.client.Generate(callCtx, prompt)
	})

	resp := Response{Text: text, Attempts: result.Attempts, Duration: time.Since(start)}
	if !result.Success {
		log.Warn().Err(result.LastError).
			Str("prompt", prompt.Name).
			Int("attempts", result.Attempts).
			Msg("LLM request failed")
		return resp, fmt.Errorf("%s failed after %d attempt(s): %w", prompt.Name, result.Attempts, result.LastError)
	}

	logger.Log("LLM response %s: %d bytes in %v", prompt.Name, len(text), resp.Duration.Round(time.Millisecond))
	return resp, nil
}
