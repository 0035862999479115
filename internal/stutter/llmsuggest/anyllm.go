package llmsuggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/flowspeak/internal/stutter"
)

// MultiProvider implements stutter.Suggester on top of any-llm-go, which
// speaks to Anthropic, Gemini, Ollama and other chat providers through one
// interface.
type MultiProvider struct {
	backend  anyllmlib.Provider
	provider string
	model    string
	timeout  time.Duration
	maxWords int
}

var _ stutter.Suggester = (*MultiProvider)(nil)

// MultiProviderNames lists the provider names accepted by [NewMultiProvider].
var MultiProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// NewMultiProvider constructs a [MultiProvider] for providerName. An empty
// apiKey lets the backend fall back to its environment variable (e.g.
// ANTHROPIC_API_KEY); local servers such as ollama need none. WithMaxRetries
// has no effect here.
func NewMultiProvider(providerName, apiKey, model string, opts ...Option) (*MultiProvider, error) {
	if providerName == "" {
		return nil, errors.New("llmsuggest: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("llmsuggest: model must not be empty")
	}

	cfg := &config{maxWords: stutter.DefaultMaxWords}
	for _, o := range opts {
		o(cfg)
	}

	var libOpts []anyllmlib.Option
	if apiKey != "" {
		libOpts = append(libOpts, anyllmlib.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		libOpts = append(libOpts, anyllmlib.WithBaseURL(cfg.baseURL))
	}
	backend, err := createBackend(providerName, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("llmsuggest: create %q backend: %w", providerName, err)
	}

	return &MultiProvider{
		backend:  backend,
		provider: strings.ToLower(providerName),
		model:    model,
		timeout:  cfg.timeout,
		maxWords: cfg.maxWords,
	}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q", providerName)
	}
}

// Suggest implements stutter.Suggester.
func (m *MultiProvider) Suggest(ctx context.Context, transcript string) (*stutter.Suggestions, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, stutter.ErrEmptyTranscript
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.backend.Completion(ctx, m.buildParams(transcript))
	if err != nil {
		return nil, fmt.Errorf("llmsuggest: %s completion: %w", m.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmsuggest: %s returned no choices", m.provider)
	}

	raw, err := parseReply(resp.Choices[0].Message.ContentString())
	if err != nil {
		return nil, err
	}
	return stutter.Clean(raw, m.maxWords), nil
}

func (m *MultiProvider) buildParams(transcript string) anyllmlib.CompletionParams {
	temperature := 0.2
	return anyllmlib.CompletionParams{
		Model: m.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: fmt.Sprintf(systemPrompt, m.maxWords)},
			{Role: anyllmlib.RoleUser, Content: transcript},
		},
		Temperature: &temperature,
	}
}
