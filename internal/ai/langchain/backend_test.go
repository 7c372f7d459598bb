package langchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/guardedit/internal/ai"
	"github.com/guardedit/pkg/models"
)

func testOptions() ai.Options {
	return ai.Options{
		Provider:           string(ProviderOpenAI),
		Model:              "gpt-4o-mini",
		RewriteTemperature: 0.1,
		RewriteMaxTokens:   4000,
		ClassifyMaxTokens:  5,
	}
}

func TestBackendRewriteReturnsModelOutputVerbatim(t *testing.T) {
	model := fake.NewFakeLLM([]string{"```\nnew content\n```"})
	conn := NewConnectorWithModel(ProviderOpenAI, "gpt-4o-mini", model)
	backend := BackendFromClients(conn, conn, testOptions())

	out, err := backend.Rewriter.Rewrite(context.Background(), models.RewriteRequest{
		Path:      "README.md",
		Content:   "old content",
		Objective: "fix typos",
	})
	require.NoError(t, err)
	assert.Equal(t, "```\nnew content\n```", out)
}

func TestBackendClassifierTokens(t *testing.T) {
	tests := []struct {
		answer  string
		want    models.RiskVerdict
		wantErr bool
	}{
		{"OK", models.VerdictAllow, false},
		{"PR", models.VerdictEscalate, false},
		{"BLOCK", models.VerdictReject, false},
		{"REJECT", models.VerdictReject, false},
		{"LGTM", models.VerdictEscalate, true},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			conn := NewConnectorWithModel(ProviderOpenAI, "gpt-4o-mini", fake.NewFakeLLM([]string{tt.answer}))
			backend := BackendFromClients(conn, conn, testOptions())

			got, err := backend.Classifier.Classify(context.Background(), "+const a = 1")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifierTransportFailureEscalates(t *testing.T) {
	// An empty fake has no responses configured and always errors.
	conn := NewConnectorWithModel(ProviderOpenAI, "gpt-4o-mini", fake.NewFakeLLM(nil))
	backend := BackendFromClients(conn, conn, testOptions())

	got, err := backend.Classifier.Classify(context.Background(), "+x")
	require.Error(t, err)
	assert.Equal(t, models.VerdictEscalate, got)
}

func TestNewConnectorRejectsUnknownProvider(t *testing.T) {
	_, err := NewConnector(context.Background(), ConnectorOptions{Provider: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestRegisterAddsAllProviders(t *testing.T) {
	f := ai.NewDefaultFactory()
	Register(f)
	assert.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, f.Providers())

	_, err := f.Create(context.Background(), ai.Options{Provider: "cohere"})
	require.ErrorIs(t, err, ai.ErrProviderNotFound)
}

func TestNewBackendOllama(t *testing.T) {
	opts := testOptions()
	opts.Provider = string(ProviderOllama)
	opts.Model = "llama3"
	opts.BaseURL = "http://127.0.0.1:1"

	backend, err := NewBackend(context.Background(), opts)
	require.NoError(t, err)
	assert.NotNil(t, backend.Rewriter)
	assert.NotNil(t, backend.Classifier)
}
