package perplexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-pipeline/internal/resilience"
)

// captured is what the test server saw of the last request.
type captured struct {
	mu     sync.Mutex
	path   string
	auth   string
	accept string
	body   map[string]any
}

func serve(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.mu.Lock()
		defer got.mu.Unlock()
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.accept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func ask(q string) ChatCompletionRequest {
	return ChatCompletionRequest{Messages: []Message{{Role: "user", Content: q}}}
}

func TestChatCompletion_Request(t *testing.T) {
	temp, tokens := 0.1, 256
	cases := []struct {
		name      string
		opts      []Option
		req       ChatCompletionRequest
		wantModel string
		wantKeys  []string
		noKeys    []string
	}{
		{
			name:      "client default model",
			req:       ask("who runs acme?"),
			wantModel: defaultModel,
			noKeys:    []string{"temperature", "max_tokens"},
		},
		{
			name:      "option model",
			opts:      []Option{WithModel("sonar")},
			req:       ask("who runs acme?"),
			wantModel: "sonar",
		},
		{
			name: "request model wins",
			opts: []Option{WithModel("sonar")},
			req: ChatCompletionRequest{
				Model:       "sonar-reasoning",
				Messages:    []Message{{Role: "user", Content: "q"}},
				Temperature: &temp,
				MaxTokens:   &tokens,
			},
			wantModel: "sonar-reasoning",
			wantKeys:  []string{"temperature", "max_tokens"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, got := serve(t, http.StatusOK, `{"id":"x","choices":[]}`)
			c := NewClient("pk-test", append([]Option{WithBaseURL(srv.URL)}, tc.opts...)...)

			_, err := c.ChatCompletion(context.Background(), tc.req)
			require.NoError(t, err)

			got.mu.Lock()
			defer got.mu.Unlock()
			assert.Equal(t, "/chat/completions", got.path)
			assert.Equal(t, "Bearer pk-test", got.auth)
			assert.Equal(t, "application/json", got.accept)
			assert.Equal(t, tc.wantModel, got.body["model"])
			for _, k := range tc.wantKeys {
				assert.Contains(t, got.body, k)
			}
			for _, k := range tc.noKeys {
				assert.NotContains(t, got.body, k)
			}
		})
	}
}

func TestChatCompletion_DecodesAnswer(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{
		"id": "run-7",
		"model": "sonar-pro",
		"citations": ["https://acme.com/about", "https://news.example/acme"],
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"ceo\":\"Jane\"}"}}],
		"usage": {"prompt_tokens": 31, "completion_tokens": 9}
	}`)
	c := NewClient("k", WithBaseURL(srv.URL))

	resp, err := c.ChatCompletion(context.Background(), ask("ceo of acme"))
	require.NoError(t, err)

	assert.Equal(t, "run-7", resp.ID)
	assert.Equal(t, `{"ceo":"Jane"}`, resp.Content())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, []string{"https://acme.com/about", "https://news.example/acme"}, resp.Citations)
	assert.Equal(t, 31, resp.Usage.PromptTokens)
	assert.Equal(t, 9, resp.Usage.CompletionTokens)
}

func TestChatCompletion_Failures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		reply     string
		wantMsg   string
		transient bool
	}{
		{"error envelope", http.StatusBadRequest, `{"error":{"message":"invalid model","type":"invalid_request_error"}}`, "perplexity: invalid model", false},
		{"plain body", http.StatusUnauthorized, `bad key`, "perplexity: bad key", false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "slow down", true},
		{"bad gateway", http.StatusBadGateway, `upstream`, "upstream", true},
		{"malformed 200", http.StatusOK, `{"choices":`, "perplexity: decode response", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := serve(t, tc.status, tc.reply)
			c := NewClient("k", WithBaseURL(srv.URL))

			resp, err := c.ChatCompletion(context.Background(), ask("q"))
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.Equal(t, tc.transient, resilience.IsTransient(err))
		})
	}
}

func TestChatCompletion_RequiresMessage(t *testing.T) {
	srv, got := serve(t, http.StatusOK, `{}`)
	c := NewClient("k", WithBaseURL(srv.URL))

	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "sonar"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one message")
	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Empty(t, got.path, "nothing should be sent")
}

func TestChatCompletion_CanceledContext(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{}`)
	c := NewClient("k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ChatCompletion(ctx, ask("q"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestContent(t *testing.T) {
	var nilResp *ChatCompletionResponse
	assert.Empty(t, nilResp.Content())
	assert.Empty(t, (&ChatCompletionResponse{}).Content())
	assert.Equal(t, "a", (&ChatCompletionResponse{Choices: []Choice{
		{Message: Message{Content: "a"}},
		{Message: Message{Content: "b"}},
	}}).Content())
}

func TestNewClient_Options(t *testing.T) {
	hc := &http.Client{}
	c := NewClient("k", WithBaseURL("http://local"), WithModel("sonar"), WithHTTPClient(hc)).(*httpClient)
	assert.Equal(t, "http://local", c.baseURL)
	assert.Equal(t, "sonar", c.model)
	assert.Same(t, hc, c.http)

	d := NewClient("k").(*httpClient)
	assert.Equal(t, defaultBaseURL, d.baseURL)
	assert.Equal(t, defaultModel, d.model)
	assert.NotZero(t, d.http.Timeout)
}
