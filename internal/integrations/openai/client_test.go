package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sales-agent/internal/domain"
)

// ---------------------------------------------------------------------------
// apiBaseURL helper
// ---------------------------------------------------------------------------

func TestAPIBaseURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/"},
		{"http://localhost:8080", "http://localhost:8080/v1/"},
		{"", "https://api.openai.com/v1/"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, apiBaseURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/sales-agent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/sales-agent/")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "/sales-agent/open-ai-token", c.tokenParameterName())
}

// ---------------------------------------------------------------------------
// resolveClient: SSM caching behaviour
// ---------------------------------------------------------------------------

func TestResolveClient_FetchesKeyOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/sales-agent")
	require.NoError(t, err)

	api, err := c.resolveClient(context.Background())
	require.NoError(t, err)
	require.NotNil(t, api)
	require.Equal(t, 1, calls)

	_, _ = c.resolveClient(context.Background())
	_, _ = c.resolveClient(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestResolveClient_RetriesAfterKeyError(t *testing.T) {
	calls := 0
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/sales-agent")
	require.NoError(t, err)

	_, err = c.Moderate(context.Background(), "hello")
	require.ErrorContains(t, err, "ssm unavailable")
	_, err = c.Complete(context.Background(), "m", nil, 0)
	require.ErrorContains(t, err, "ssm unavailable")
	require.Equal(t, 2, calls)

	g.err = nil
	g.val = `{"token":"sk-from-ssm"}`
	api, err := c.resolveClient(context.Background())
	require.NoError(t, err)
	require.NotNil(t, api)
	require.Equal(t, 3, calls)

	_, err = c.resolveClient(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestResolveClient_CanceledFetchIsRetried(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	ctx, cancel := context.WithCancel(context.Background())
	g.onCall = func() {
		if ctx.Err() != nil {
			g.err = ctx.Err()
		} else {
			g.err = nil
		}
	}
	c, err := NewClient(g, "/sales-agent")
	require.NoError(t, err)

	cancel()
	_, err = c.resolveClient(ctx)
	require.ErrorIs(t, err, context.Canceled)

	api, err := c.resolveClient(context.Background())
	require.NoError(t, err)
	require.NotNil(t, api)
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{"json token", &fakeGetter{val: `{"token":"sk-from-json"}`}, "/sales-agent/open-ai-token", "sk-from-json", ""},
		{"missing token field", &fakeGetter{val: `{"other":"value"}`}, "/sales-agent/open-ai-token", "", "API token is empty"},
		{"malformed json", &fakeGetter{val: `{"broken`}, "/sales-agent/open-ai-token", "", "unmarshal"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/sales-agent/open-ai-token", "", "ssm unavailable"},
		{"nil getter", nil, "/sales-agent/open-ai-token", "", "nil"},
		{"empty name", &fakeGetter{val: `{"token":"sk"}`}, " ", "", "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)
		})
	}
}

// ---------------------------------------------------------------------------
// Client.StreamChat
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/sales-agent",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-mock","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, f := range frames {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", f)
		w.(http.Flusher).Flush()
	}
}

func drain(t *testing.T, s interface {
	Next() bool
	Current() string
}) []string {
	t.Helper()
	var out []string
	for s.Next() {
		out = append(out, s.Current())
	}
	return out
}

func TestClient_StreamChat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"stream":true`)
		require.Contains(t, string(body), `"include_usage":true`)
		require.Contains(t, string(body), `"max_completion_tokens":321`)
		require.Contains(t, string(body), `"role":"system"`)

		writeSSE(w,
			chunk(""),
			chunk("Hel"),
			chunk("lo"),
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-mock","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			"[DONE]",
		)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.StreamChat(context.Background(), "gpt-mock", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: "hi"},
	}, 321)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, []string{"Hel", "lo"}, drain(t, s))
	require.NoError(t, s.Err())
	require.Equal(t, Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, s.(*ChatStream).Usage())
	require.EqualValues(t, 7, s.(*ChatStream).TotalTokens())
}

func TestClient_StreamChat_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	s, err := c.StreamChat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, 0)
	require.NoError(t, err)
	defer s.Close()

	require.Empty(t, drain(t, s))
	var statusErr *HTTPStatusError
	require.ErrorAs(t, s.Err(), &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, s.Err().Error(), "429")
}

func TestClient_StreamChat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/sales-agent")
	require.NoError(t, err)
	_, err = c.StreamChat(context.Background(), "", nil, 0)
	require.ErrorContains(t, err, "model")
}

// ---------------------------------------------------------------------------
// Client.Complete
// ---------------------------------------------------------------------------

func TestClient_Complete_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(body), `"stream":true`)
		require.Contains(t, string(body), `"max_completion_tokens":150`)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"model": "gpt-mock",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": { "role": "assistant", "content": "ACTION: NEXT" }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, 150)
	require.NoError(t, err)
	require.Equal(t, "ACTION: NEXT", out)
}

func TestClient_Complete_Errors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad request"}}`, "400"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`, "429"},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, "500"},
		{"no choices", http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, "no choices"},
		{"invalid json", http.StatusOK, `not-a-json`, "request failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			_, err := c.Complete(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, 0)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestClient_Complete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "gpt-mock", nil, 0)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Client.Moderate
// ---------------------------------------------------------------------------

func TestClient_Moderate(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    bool
		wantErr string
	}{
		{"not flagged", `{"id":"modr-1","model":"omni-moderation-latest","results":[{"flagged":false}]}`, false, ""},
		{"flagged", `{"id":"modr-1","model":"omni-moderation-latest","results":[{"flagged":true}]}`, true, ""},
		{"empty results", `{"id":"modr-1","results":[]}`, false, "no results"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.True(t, strings.Contains(string(body), `"input":"What does it cost?"`))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			flagged, err := c.Moderate(context.Background(), "What does it cost?")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, flagged)
		})
	}
}

func TestClient_Moderate_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"internal server error"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Moderate(context.Background(), "hello")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestClient_Moderate_NetworkError(t *testing.T) {
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/sales-agent",
		WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	require.NoError(t, err)

	_, err = c.Moderate(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}
