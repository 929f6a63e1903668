package outreach

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpamEvaluator_Deterministic(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{})
	subject := "Limited time offer for YOU"
	body := "Act now!!! Click here to double your revenue. 100% free guarantee."

	first := e.Score(subject, body)
	second := e.Score(subject, body)

	require.Equal(t, first.Risk, second.Risk, "相同输入的分数必须一致")
	require.Equal(t, first.Flagged, second.Flagged, "相同输入的标记必须一致")
	require.True(t, sort.StringsAreSorted(first.Flagged), "标记应按字典序输出")
}

func TestSpamEvaluator_ScoreStableAcrossRepeatedCalls(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{})
	subject := "One more thing"
	body := "This is 100% free. Act now and click here to claim it."

	// 多个触发词命中时分数来自浮点累加, 累加顺序一变结果的最低位就会抖动
	first := e.Score(subject, body)
	require.Len(t, first.Flagged, 3)

	for i := 0; i < 5000; i++ {
		got := e.Score(subject, body)
		if got.Risk != first.Risk {
			t.Fatalf("第 %d 次打分漂移: %v != %v", i, got.Risk, first.Risk)
		}
	}
}

func TestSpamEvaluator_TriggerPhrases(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{})

	score := e.Score("Great news", "This plan is 100% free guarantee for your team.")
	require.Greater(t, score.Risk, 0.0)
	require.Contains(t, score.Flagged, "100% free")
	require.Contains(t, score.Flagged, "guarantee")

	// 大小写不敏感
	upper := e.Score("ACT NOW", "act now before it is gone")
	require.Contains(t, upper.Flagged, "act now")
}

func TestSpamEvaluator_CleanDraft(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{})

	score := e.Score("Quick question about your data pipeline",
		"Hi Alex, I noticed your team recently expanded its analytics group. "+
			"We help companies like yours cut reporting time in half. "+
			"Would you be open to a short call next week?")

	require.LessOrEqual(t, score.Risk, e.Threshold(), "正常商务邮件不应超过阈值")
	require.Empty(t, score.Flagged)
}

func TestSpamEvaluator_HeuristicFlags(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{})

	caps := e.Score("AMAZING DEAL JUST FOR YOU", "DO NOT MISS THIS INCREDIBLE CHANCE TODAY")
	require.Contains(t, caps.Flagged, FlagExcessiveCaps)

	exclaim := e.Score("Hello", "Wow! This is great! Really great! Call me!")
	require.Contains(t, exclaim.Flagged, FlagExcessiveExclamation)

	links := e.Score("Links", "See https://a.example https://b.example https://c.example")
	require.Contains(t, links.Flagged, FlagHighLinkDensity)
}

func TestSpamEvaluator_RiskCapped(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{})

	var b strings.Builder
	for phrase := range defaultTriggerPhrases {
		b.WriteString(phrase)
		b.WriteString(" ")
	}
	score := e.Score("EVERYTHING AT ONCE!!!", b.String())
	require.LessOrEqual(t, score.Risk, 1.0, "风险分应封顶在 1.0")
}

func TestSpamEvaluator_ExtraPhrases(t *testing.T) {
	e := NewSpamEvaluator(SpamConfig{
		ExtraPhrases: map[string]float64{"Synergy Paradigm": 0.4},
	})

	score := e.Score("Hello", "Let us unlock the synergy paradigm together.")
	require.Contains(t, score.Flagged, "synergy paradigm")
	require.GreaterOrEqual(t, score.Risk, 0.4)
}

func TestSpamEvaluator_ThresholdDefaults(t *testing.T) {
	require.Equal(t, 0.5, NewSpamEvaluator(SpamConfig{}).Threshold())
	require.Equal(t, 0.8, NewSpamEvaluator(SpamConfig{Threshold: 0.8}).Threshold())
}
