package rag

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"outreach/internal/token"
)

// Chunker 文档分块器
// 优先按段落/句子等语义边界切分, 只有单个句子超过 MaxTokens 时才做硬切分。
// 相同输入与参数必然产生相同的分块边界(入库幂等的前提)。
type Chunker struct {
	MaxTokens     int // 单个分块的 Token 上限
	OverlapTokens int // 相邻分块之间重叠的 Token 数

	counter *token.Counter
}

// NewChunker 创建分块器
func NewChunker(maxTokens, overlapTokens int, counter *token.Counter) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 250 // 默认约1000字符
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 10 // 重叠不超过10%
	}

	return &Chunker{
		MaxTokens:     maxTokens,
		OverlapTokens: overlapTokens,
		counter:       counter,
	}
}

// ChunkResult 分块结果
// 偏移量以规范化文本为基准: 连续空白折叠为单个空格, 段落之间同样以
// 单个空格连接。Content == 规范化文本[StartOffset:EndOffset] 恒成立,
// 相邻分块的偏移区间会因重叠携带而部分交叠。
type ChunkResult struct {
	Content     string // 分块内容
	ChunkIndex  int    // 分块索引(从0开始)
	StartOffset int    // 在规范化文本中的起始偏移(字节)
	EndOffset   int    // 在规范化文本中的结束偏移(字节)
	TokenCount  int    // Token数量
	ContentHash string // 内容哈希(SHA256)
}

// Chunk 对文本进行分块
// 空白输入返回空列表而非错误: 空文档是合法的, 只是没有可检索内容
func (c *Chunker) Chunk(text string) []*ChunkResult {
	if strings.TrimSpace(text) == "" {
		return []*ChunkResult{}
	}

	// 先按段落、再按句子拆出语义单元, 超长句子再做硬切分
	units := c.splitUnits(text)

	chunks := make([]*ChunkResult, 0)
	currentParts := make([]string, 0)
	currentTokens := 0
	carryOnly := false // 缓冲区里只剩上一块携带的重叠
	pos := 0           // 已消费单元在规范化文本中的末尾偏移

	flush := func() {
		content := strings.TrimSpace(strings.Join(currentParts, " "))
		if content == "" {
			currentParts = currentParts[:0]
			currentTokens = 0
			return
		}
		// 缓冲内容是规范化文本中以 pos 结尾的连续片段
		// (重叠是上一块的精确尾部后缀, 与后续单元在原文中相邻)
		chunks = append(chunks, c.createChunk(content, len(chunks), pos-len(content)))

		// 保留尾部重叠, 维持跨边界上下文
		overlap := c.counter.TailTokens(content, c.OverlapTokens)
		currentParts = currentParts[:0]
		currentTokens = 0
		if overlap != "" && overlap != content {
			currentParts = append(currentParts, overlap)
			currentTokens = c.counter.Count(overlap)
			carryOnly = true
		}
	}

	for _, unit := range units {
		unitTokens := c.counter.Count(unit)
		if currentTokens+unitTokens > c.MaxTokens && currentTokens > 0 {
			if carryOnly {
				// 重叠加不下新单元时直接丢弃重叠,
				// 否则会产出一个纯重叠的重复分块
				currentParts = currentParts[:0]
				currentTokens = 0
			} else {
				flush()
			}
		}
		currentParts = append(currentParts, unit)
		currentTokens += unitTokens
		carryOnly = false
		if pos == 0 {
			pos = len(unit)
		} else {
			pos += 1 + len(unit)
		}
	}
	flush()

	return chunks
}

// splitUnits 将文本拆成不超过 MaxTokens 的语义单元
func (c *Chunker) splitUnits(text string) []string {
	units := make([]string, 0)

	for _, para := range strings.Split(text, "\n\n") {
		para = normalizeText(para)
		if para == "" {
			continue
		}

		if c.counter.Count(para) <= c.MaxTokens {
			units = append(units, para)
			continue
		}

		for _, sentence := range splitIntoSentences(para) {
			if c.counter.Count(sentence) <= c.MaxTokens {
				units = append(units, sentence)
				continue
			}
			// 单句超限, 按 Token 硬切分兜底
			units = append(units, c.hardSplit(sentence)...)
		}
	}

	return units
}

// hardSplit 按固定 Token 数切分超长文本
func (c *Chunker) hardSplit(text string) []string {
	parts := make([]string, 0)
	remaining := text
	for strings.TrimSpace(remaining) != "" {
		head := c.counter.HeadTokens(remaining, c.MaxTokens)
		if head == "" || head == remaining {
			parts = append(parts, strings.TrimSpace(remaining))
			break
		}
		parts = append(parts, strings.TrimSpace(head))
		remaining = remaining[len(head):]
	}
	return parts
}

// createChunk 创建分块结果
func (c *Chunker) createChunk(content string, index, start int) *ChunkResult {
	if start < 0 {
		start = 0
	}
	return &ChunkResult{
		Content:     content,
		ChunkIndex:  index,
		StartOffset: start,
		EndOffset:   start + len(content),
		TokenCount:  c.counter.Count(content),
		ContentHash: HashContent(content),
	}
}

// normalizeText 规范化文本, 去除多余空白
func normalizeText(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// splitIntoSentences 将文本分割成句子
// 使用简单的规则: 以句号、问号、感叹号结尾
func splitIntoSentences(text string) []string {
	sentences := make([]string, 0)
	current := ""

	runes := []rune(text)
	for i, r := range runes {
		current += string(r)

		if r == '。' || r == '!' || r == '?' || r == '！' || r == '？' || r == '.' {
			// 确保不是数字中的小数点
			if r == '.' && i+1 < len(runes) {
				next := runes[i+1]
				if next >= '0' && next <= '9' {
					continue
				}
			}

			sentence := strings.TrimSpace(current)
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current = ""
		}
	}

	if sentence := strings.TrimSpace(current); sentence != "" {
		sentences = append(sentences, sentence)
	}

	return sentences
}

// HashContent 计算内容的 SHA-256 哈希
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}
