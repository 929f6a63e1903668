package rag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"outreach/internal/token"
)

const embeddingOKBody = `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":4,"total_tokens":4}}`

// newEmbeddingServer 按请求次序返回预置状态码, 超出脚本后沿用最后一项
func newEmbeddingServer(t *testing.T, statuses []int) (*httptest.Server, *int) {
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
		_, _ = w.Write([]byte(embeddingOKBody))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func newRetryTestProvider(srvURL string, cfg EmbeddingConfig) *OpenAIEmbeddingProvider {
	cfg.BaseURL = srvURL + "/v1"
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	cfg.RetryBackoff = time.Millisecond
	cfg.Timeout = 5 * time.Second
	return NewOpenAIEmbeddingProvider("test-key", cfg, token.NewCounter("gpt-4o-mini"))
}

func TestOpenAIEmbeddingProvider_RetryThenSuccess(t *testing.T) {
	srv, hits := newEmbeddingServer(t, []int{500, 200})
	p := newRetryTestProvider(srv.URL, EmbeddingConfig{})

	vecs, err := p.EmbedBatch(context.Background(), []string{"pricing per seat"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}}, vecs)
	require.Equal(t, 2, *hits, "首次瞬态失败后第二次应成功")
}

func TestOpenAIEmbeddingProvider_RetriesExhausted(t *testing.T) {
	srv, hits := newEmbeddingServer(t, []int{500})
	p := newRetryTestProvider(srv.URL, EmbeddingConfig{})

	start := time.Now()
	_, err := p.EmbedBatch(context.Background(), []string{"pricing per seat"})
	require.Error(t, err)
	require.True(t, IsKind(err, KindEmbeddingUnavailable), "重试耗尽应归为 embedding_unavailable: %v", err)
	require.Equal(t, 3, *hits, "重试必须有界")
	require.Less(t, time.Since(start), 2*time.Second, "有界重试不应长时间阻塞")
}

func TestOpenAIEmbeddingProvider_OversizedInputRejectedLocally(t *testing.T) {
	srv, hits := newEmbeddingServer(t, []int{200})
	p := newRetryTestProvider(srv.URL, EmbeddingConfig{MaxInputTokens: 2})

	long := strings.Repeat("pricing tiers and seats ", 10)
	_, err := p.EmbedBatch(context.Background(), []string{long})
	require.Error(t, err)
	require.True(t, IsKind(err, KindInputTooLarge), "超长输入应归为 input_too_large: %v", err)
	require.Equal(t, 0, *hits, "超长输入不应发起任何请求")
}
