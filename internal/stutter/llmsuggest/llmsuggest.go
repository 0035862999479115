// Package llmsuggest provides stutter.Suggester implementations backed by chat
// completion models. [Suggester] talks to any OpenAI-compatible API;
// [MultiProvider] reaches Anthropic, Gemini, Ollama and others through
// any-llm-go. Either is used as a fallback when the fill-mask service is
// unreachable.
package llmsuggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/flowspeak/internal/stutter"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You help a person who stutters while reading aloud.
Given the words they have said so far, predict the next word they are most likely to say.
Reply with a single JSON object and nothing else:
{"words": ["next1", ...], "follow_ons": {"next1": ["after1", ...], ...}}
"words" holds up to %[1]d single alphabetic words, most likely first.
"follow_ons" maps each of those words to up to %[1]d words likely to follow it.`

// config holds optional configuration for the suggester.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxWords   int
	maxRetries int
}

// Option is a functional option for [Suggester].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for a local
// OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxWords caps the number of suggestions requested and kept.
func WithMaxWords(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWords = n
		}
	}
}

// WithMaxRetries sets how often the SDK retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// Suggester implements stutter.Suggester using chat completions.
type Suggester struct {
	client   oai.Client
	model    string
	maxWords int
}

var _ stutter.Suggester = (*Suggester)(nil)

// New constructs a [Suggester]. An empty model selects gpt-4o-mini.
func New(apiKey, model string, opts ...Option) (*Suggester, error) {
	if apiKey == "" {
		return nil, errors.New("llmsuggest: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{maxWords: stutter.DefaultMaxWords, maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Suggester{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		maxWords: cfg.maxWords,
	}, nil
}

// Suggest implements stutter.Suggester.
func (s *Suggester) Suggest(ctx context.Context, transcript string) (*stutter.Suggestions, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, stutter.ErrEmptyTranscript
	}

	resp, err := s.client.Chat.Completions.New(ctx, s.buildParams(transcript))
	if err != nil {
		return nil, fmt.Errorf("llmsuggest: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llmsuggest: empty choices in response")
	}

	raw, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return stutter.Clean(raw, s.maxWords), nil
}

// buildParams assembles the chat request for transcript.
func (s *Suggester) buildParams(transcript string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(systemPrompt, s.maxWords)),
			oai.UserMessage(transcript),
		},
		Temperature: param.NewOpt(0.2),
	}
}

// parseReply extracts the JSON object from a model reply. Models sometimes
// wrap the object in prose or a code fence.
func parseReply(content string) (stutter.Suggestions, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return stutter.Suggestions{}, fmt.Errorf("llmsuggest: no JSON object in reply %q", truncate(content, 80))
	}
	var out stutter.Suggestions
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return stutter.Suggestions{}, fmt.Errorf("llmsuggest: decode reply: %w", err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
