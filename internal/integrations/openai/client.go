package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"sales-agent/internal/domain"
	"sales-agent/internal/stream"
)

const defaultBaseURL = "https://api.openai.com/v1"

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Usage is the token accounting reported at the end of a stream.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Client wraps the OpenAI SDK with an API key resolved lazily from SSM.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	apiMu sync.RWMutex
	api   *openai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on the first request that
// succeeds in reading it and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveClient builds the SDK client on first use and caches it. A failed
// key fetch is not cached, so the next request tries again.
func (c *Client) resolveClient(ctx context.Context) (*openai.Client, error) {
	c.apiMu.RLock()
	if c.api != nil {
		api := c.api
		c.apiMu.RUnlock()
		return api, nil
	}
	c.apiMu.RUnlock()

	c.apiMu.Lock()
	defer c.apiMu.Unlock()
	if c.api != nil {
		return c.api, nil
	}

	key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return nil, err
	}
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	api := openai.NewClient(
		option.WithAPIKey(key),
		option.WithBaseURL(apiBaseURL(c.baseURL)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	c.api = &api
	return c.api, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// apiBaseURL normalizes baseURL to the versioned root the SDK resolves
// endpoint paths against.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func toParams(messages []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// StreamChat starts a streaming chat completion. Request failures surface
// through the returned stream's Err.
func (c *Client) StreamChat(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int64) (stream.TokenStream, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	api, err := c.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toParams(messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}
	return &ChatStream{src: api.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// Complete runs a non-streaming chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int64) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	api, err := c.resolveClient(ctx)
	if err != nil {
		return "", err
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toParams(messages),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}
	resp, err := api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapAPIError("chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Moderate calls the OpenAI Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	api, err := c.resolveClient(ctx)
	if err != nil {
		return false, err
	}

	resp, err := api.Moderations.New(ctx, openai.ModerationNewParams{
		Model: openai.ModerationModelOmniModerationLatest,
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return false, wrapAPIError("moderation", err)
	}
	if len(resp.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return resp.Results[0].Flagged, nil
}

// ChatStream adapts the SDK's chunk stream to a plain token iterator. Chunks
// without content are skipped.
type ChatStream struct {
	src   *ssestream.Stream[openai.ChatCompletionChunk]
	cur   string
	usage Usage
}

func (s *ChatStream) Next() bool {
	for s.src.Next() {
		chunk := s.src.Current()
		if chunk.Usage.TotalTokens > 0 {
			s.usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.cur = chunk.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *ChatStream) Current() string {
	return s.cur
}

func (s *ChatStream) Err() error {
	if err := s.src.Err(); err != nil {
		return wrapAPIError("stream", err)
	}
	return nil
}

func (s *ChatStream) Close() error {
	return s.src.Close()
}

// Usage is only populated once the stream has been drained.
func (s *ChatStream) Usage() Usage {
	return s.usage
}

func (s *ChatStream) TotalTokens() int64 {
	return s.usage.TotalTokens
}

func wrapAPIError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		statusErr := &HTTPStatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		if apiErr.Request != nil {
			statusErr.URL = apiErr.Request.URL.String()
		}
		return fmt.Errorf("openai: %s request failed: %w", op, statusErr)
	}
	return fmt.Errorf("openai: %s request failed: %w", op, err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
