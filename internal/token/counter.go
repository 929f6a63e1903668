package token

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter 基于 tiktoken 的 Token 计数器
// 编码器加载失败时退化为近似估算,保证离线/测试环境可用
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter 创建 Token 计数器
// model: 目标模型名称(如 gpt-4o), 找不到对应编码时回退到 cl100k_base
func NewCounter(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	return &Counter{encoding: enc}
}

// Count 统计文本的 Token 数量
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return estimateTokenCount(text)
}

// TailTokens 取文本末尾约 n 个 Token 的内容,用于分块重叠
func (c *Counter) TailTokens(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if c.encoding != nil {
		ids := c.encoding.Encode(text, nil, nil)
		if len(ids) <= n {
			return text
		}
		return c.encoding.Decode(ids[len(ids)-n:])
	}

	// 退化路径: 按单词截取
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

// HeadTokens 取文本开头约 n 个 Token 的内容,用于硬切分超长单元
func (c *Counter) HeadTokens(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if c.encoding != nil {
		ids := c.encoding.Encode(text, nil, nil)
		if len(ids) <= n {
			return text
		}
		return c.encoding.Decode(ids[:n])
	}

	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}

// estimateTokenCount 估算 Token 数量
// 简单规则: 英文按单词数, 中文按字符数/1.5
func estimateTokenCount(text string) int {
	words := strings.Fields(text)
	wordCount := len(words)

	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		}
	}

	return wordCount + int(float64(chineseCount)/1.5)
}
