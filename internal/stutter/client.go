package stutter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single suggestion request.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ClientOption is a functional option for configuring a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxWords caps the number of suggestions kept from a response.
func WithMaxWords(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxWords = n
		}
	}
}

// Client is a [Suggester] backed by a fill-mask HTTP service. It POSTs
// {"speech": transcript} and expects
// {"top1_words": [...], "combinations": {"word": [...]}} in return.
type Client struct {
	url      string
	http     *http.Client
	timeout  time.Duration
	maxWords int
}

var _ Suggester = (*Client)(nil)

// NewClient returns a [Client] for the endpoint at url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.New("stutter: url must not be empty")
	}
	c := &Client{
		url:      url,
		http:     http.DefaultClient,
		timeout:  DefaultTimeout,
		maxWords: DefaultMaxWords,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type speechRequest struct {
	Speech string `json:"speech"`
}

type speechResponse struct {
	TopWords     []string            `json:"top1_words"`
	Combinations map[string][]string `json:"combinations"`
}

// Suggest asks the service for continuations of transcript.
func (c *Client) Suggest(ctx context.Context, transcript string) (*Suggestions, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	body, err := json.Marshal(speechRequest{Speech: transcript})
	if err != nil {
		return nil, fmt.Errorf("stutter: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stutter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stutter: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("stutter: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out speechResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("stutter: decode response: %w", err)
	}
	return Clean(Suggestions{Words: out.TopWords, FollowOns: out.Combinations}, c.maxWords), nil
}
