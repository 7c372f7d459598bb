package langchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/guardedit/internal/llm"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
)

// Providers lists every provider this package can build
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama}

// ErrNoChoices is returned when a model answers without any choice
var ErrNoChoices = errors.New("model returned no choices")

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider Provider
	Model    string
	APIKey   string
	BaseURL  string
}

// Connector is a langchaingo model bound to one provider and model name.
// It implements llm.Client.
type Connector struct {
	provider Provider
	model    string
	llm      llms.Model
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating new connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderAnthropic:
		model, err = createAnthropicModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return NewConnectorWithModel(options.Provider, options.Model, model), nil
}

// NewConnectorWithModel wraps an already constructed model
func NewConnectorWithModel(provider Provider, modelName string, model llms.Model) *Connector {
	return &Connector{provider: provider, model: modelName, llm: model}
}

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createAnthropicModel(options ConnectorOptions) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(options.BaseURL))
	}
	return anthropic.New(opts...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	model, err := googleai.New(ctx,
		googleai.WithAPIKey(options.APIKey),
		googleai.WithDefaultModel(options.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}
	return model, nil
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

// Generate implements llm.Client with a system + human message pair
func (c *Connector) Generate(ctx context.Context, prompt llm.Prompt) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if prompt.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt.User))

	callOptions := []llms.CallOption{
		llms.WithTemperature(prompt.Temperature),
	}
	if prompt.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(prompt.MaxTokens))
	}
	// googleai picks its model per call
	if c.provider == ProviderGemini && c.model != "" {
		callOptions = append(callOptions, llms.WithModel(c.model))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Content, nil
}

// GetProvider returns the provider of this connector
func (c *Connector) GetProvider() Provider {
	return c.provider
}

// GetModel returns the model name
func (c *Connector) GetModel() string {
	return c.model
}
