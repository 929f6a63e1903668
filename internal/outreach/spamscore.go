package outreach

import (
	"sort"
	"strings"
	"unicode"
)

// 启发式特征标记
const (
	FlagExcessiveCaps        = "excessive_caps"
	FlagExcessiveExclamation = "excessive_exclamation"
	FlagHighLinkDensity      = "high_link_density"
)

// defaultTriggerPhrases 常见垃圾邮件触发词及权重
// 权重按邮件过滤器的常见敏感度粗调, 命中一次计一次
var defaultTriggerPhrases = map[string]float64{
	"100% free":              0.30,
	"act now":                0.20,
	"buy now":                0.20,
	"cash bonus":             0.25,
	"click here":             0.15,
	"double your":            0.25,
	"earn extra cash":        0.25,
	"free guarantee":         0.30,
	"guarantee":              0.10,
	"limited time offer":     0.20,
	"make money fast":        0.30,
	"no credit card":         0.20,
	"no obligation":          0.15,
	"once in a lifetime":     0.20,
	"risk-free":              0.20,
	"urgent":                 0.15,
	"winner":                 0.20,
	"you have been selected": 0.20,
}

// SpamConfig 垃圾邮件评估配置
type SpamConfig struct {
	Threshold float64 // 触发修订的风险阈值

	// 租户自定义触发词, 与默认词表合并(同词覆盖默认权重)
	ExtraPhrases map[string]float64
}

func (c *SpamConfig) withDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
}

// SpamEvaluator 确定性的规则式垃圾邮件评估器
// 纯词法/统计计算, 不发任何外部请求, 可以对每封草稿零延迟执行。
// 相同 (subject, body) 输入必然得到相同的分数与标记集合。
type SpamEvaluator struct {
	cfg     SpamConfig
	phrases map[string]float64
	ordered []string // 字典序触发词表, 固定遍历与浮点累加顺序
}

// NewSpamEvaluator 创建评估器
func NewSpamEvaluator(cfg SpamConfig) *SpamEvaluator {
	cfg.withDefaults()

	phrases := make(map[string]float64, len(defaultTriggerPhrases)+len(cfg.ExtraPhrases))
	for p, w := range defaultTriggerPhrases {
		phrases[p] = w
	}
	for p, w := range cfg.ExtraPhrases {
		phrases[strings.ToLower(p)] = w
	}

	ordered := make([]string, 0, len(phrases))
	for p := range phrases {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	return &SpamEvaluator{cfg: cfg, phrases: phrases, ordered: ordered}
}

// Threshold 当前生效的风险阈值
func (e *SpamEvaluator) Threshold() float64 {
	return e.cfg.Threshold
}

// Score 对草稿打分
// 加权和封顶在 1.0; 标记列表按字典序输出保证确定性
func (e *SpamEvaluator) Score(subject, body string) SpamScore {
	text := strings.ToLower(subject + "\n" + body)

	risk := 0.0
	flagged := make([]string, 0)

	// 1. 触发词匹配
	// map 遍历顺序随机且浮点加法不满足结合律, 必须按固定顺序累加
	for _, phrase := range e.ordered {
		if strings.Contains(text, phrase) {
			risk += e.phrases[phrase]
			flagged = append(flagged, phrase)
		}
	}

	// 2. 大写占比
	if ratio := upperRatio(subject + " " + body); ratio > 0.3 {
		risk += minFloat((ratio-0.3)*0.8, 0.25)
		flagged = append(flagged, FlagExcessiveCaps)
	}

	// 3. 感叹号密度
	if n := strings.Count(subject, "!") + strings.Count(body, "!"); n >= 3 {
		risk += minFloat(float64(n)*0.03, 0.15)
		flagged = append(flagged, FlagExcessiveExclamation)
	}

	// 4. 链接密度
	if n := strings.Count(text, "http://") + strings.Count(text, "https://"); n >= 3 {
		risk += minFloat(float64(n)*0.05, 0.20)
		flagged = append(flagged, FlagHighLinkDensity)
	}

	if risk > 1.0 {
		risk = 1.0
	}

	sort.Strings(flagged)
	return SpamScore{Risk: risk, Flagged: flagged}
}

// upperRatio 统计字母中大写字母的占比
func upperRatio(text string) float64 {
	letters, uppers := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(uppers) / float64(letters)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
