package outreach

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDraft(t *testing.T) {
	subject, body := ParseDraft("Subject: Quick question about hiring\n\nHi Alex,\n\nSaw your post.")
	require.Equal(t, "Quick question about hiring", subject)
	require.Equal(t, "Hi Alex,\n\nSaw your post.", body)
}

func TestParseDraft_CaseInsensitivePrefix(t *testing.T) {
	subject, body := ParseDraft("SUBJECT: Hello there\nBody line")
	require.Equal(t, "Hello there", subject)
	require.Equal(t, "Body line", body)
}

func TestParseDraft_NoSubjectLine(t *testing.T) {
	subject, body := ParseDraft("Just a body without any subject marker.")
	require.Empty(t, subject)
	require.Equal(t, "Just a body without any subject marker.", body)
}

func TestParseDraft_SubjectOnly(t *testing.T) {
	subject, body := ParseDraft("Subject: Lonely subject")
	require.Equal(t, "Lonely subject", subject)
	require.Empty(t, body)
}

func TestGenerationConfig_Defaults(t *testing.T) {
	var cfg GenerationConfig
	cfg.withDefaults()

	require.NotEmpty(t, cfg.Model)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Greater(t, cfg.Timeout.Seconds(), 0.0)
}
