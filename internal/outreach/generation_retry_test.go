package outreach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const chatCompletionBody = `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Subject: Hello\n\nBody text."},"finish_reason":"stop"}]}`

const chatContentFilterBody = `{"id":"cmpl-2","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`

// newChatServer 按请求次序返回预置状态码, 超出脚本后沿用最后一项
func newChatServer(t *testing.T, statuses []int, okBody string) (*httptest.Server, *int) {
	t.Helper()
	hits := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := *hits
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		*hits++

		w.Header().Set("Content-Type", "application/json")
		if status := statuses[idx]; status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func newRetryTestClient(srvURL string) *OpenAIGenerationClient {
	return NewOpenAIGenerationClient("test-key", GenerationConfig{
		BaseURL:      srvURL + "/v1",
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		Timeout:      5 * time.Second,
	})
}

func TestOpenAIGenerationClient_RetryThenSuccess(t *testing.T) {
	srv, hits := newChatServer(t, []int{500, 500, 200}, chatCompletionBody)
	c := newRetryTestClient(srv.URL)

	text, err := c.Generate(context.Background(), "write an outreach email", GenerationParams{})
	require.NoError(t, err)
	require.Equal(t, "Subject: Hello\n\nBody text.", text)
	require.Equal(t, 3, *hits, "两次瞬态失败后第三次应成功")
}

func TestOpenAIGenerationClient_RetriesExhausted(t *testing.T) {
	srv, hits := newChatServer(t, []int{500}, chatCompletionBody)
	c := newRetryTestClient(srv.URL)

	start := time.Now()
	_, err := c.Generate(context.Background(), "write an outreach email", GenerationParams{})
	require.Error(t, err)
	require.True(t, IsKind(err, KindGenerationUnavailable), "重试耗尽应归为 generation_unavailable: %v", err)
	require.Equal(t, 3, *hits, "重试必须有界")
	require.Less(t, time.Since(start), 2*time.Second, "有界重试不应长时间阻塞")
}

func TestOpenAIGenerationClient_RefusedNotRetried(t *testing.T) {
	srv, hits := newChatServer(t, []int{400}, chatCompletionBody)
	c := newRetryTestClient(srv.URL)

	_, err := c.Generate(context.Background(), "write an outreach email", GenerationParams{})
	require.Error(t, err)
	require.True(t, IsKind(err, KindGenerationRefused), "400 应归为 generation_refused: %v", err)
	require.Equal(t, 1, *hits, "模型拒答重试不会有不同结果")
}

func TestOpenAIGenerationClient_ContentFilterRefused(t *testing.T) {
	srv, hits := newChatServer(t, []int{200}, chatContentFilterBody)
	c := newRetryTestClient(srv.URL)

	_, err := c.Generate(context.Background(), "write an outreach email", GenerationParams{})
	require.Error(t, err)
	require.True(t, IsKind(err, KindGenerationRefused), "安全过滤拦截应归为 generation_refused: %v", err)
	require.Equal(t, 1, *hits)
}
