package outreach

import (
	"fmt"
	"strings"
	"text/template"

	"outreach/internal/rag"
	"outreach/internal/token"
)

// PromptTemplate 冷邮件生成模板
// Content 为 Go text/template 格式, 占位符引用线索字段(如 {{.FirstName}})。
type PromptTemplate struct {
	Name     string
	Content  string
	Required []string // 必须非空的线索字段, 缺失时直接报错而不是渲染出空白
}

// DefaultColdEmailTemplate 内置冷邮件模板
var DefaultColdEmailTemplate = &PromptTemplate{
	Name: "cold_email_default",
	Content: `Write a professional and engaging cold sales email for the lead below. The email should be concise, personalized, and optimized for conversions. Include:

1. A compelling subject line
2. A personalized greeting
3. A clear value proposition
4. A call-to-action

Output the subject on the first line prefixed with "Subject: ", followed by a blank line and the email body.

Lead name: {{.FullName}}
Company: {{.Company}}
Role: {{.Role}}{{if .Signals}}
Signals: {{.Signals}}{{end}}`,
	Required: []string{"FirstName", "Company", "Role"},
}

// contextLabel 检索上下文的小节标签, 追加在提示词末尾
const contextLabel = "Relevant knowledge about our company and product:"

// PromptConfig 提示词组装配置
type PromptConfig struct {
	TokenBudget int // 整条提示词的 Token 上限
}

func (c *PromptConfig) withDefaults() {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 1200
	}
}

// PromptAssembler 提示词组装器
// 纯确定性的字符串构造: 相同输入必然产生相同提示词。
// 超预算时先裁掉优先级最低的上下文片段, 绝不截断线索字段与指令部分。
type PromptAssembler struct {
	counter *token.Counter
	cfg     PromptConfig
}

// NewPromptAssembler 创建提示词组装器
func NewPromptAssembler(counter *token.Counter, cfg PromptConfig) *PromptAssembler {
	cfg.withDefaults()
	return &PromptAssembler{counter: counter, cfg: cfg}
}

// AssembleRequest 组装请求
type AssembleRequest struct {
	Lead     *Lead
	Context  *rag.RetrievedContext // 可为空: 无相关知识时生成通用邮件
	Template *PromptTemplate       // 为空时使用内置模板

	// 额外指令(如修订时的避词要求), 视同指令部分, 不参与截断
	ExtraInstructions []string
}

// Assemble 组装提示词
func (a *PromptAssembler) Assemble(req *AssembleRequest) (string, error) {
	tmpl := req.Template
	if tmpl == nil {
		tmpl = DefaultColdEmailTemplate
	}

	vars, err := a.leadVars(req.Lead, tmpl)
	if err != nil {
		return "", err
	}

	base, err := renderTemplate(tmpl, vars)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(base)
	for _, instr := range req.ExtraInstructions {
		sb.WriteString("\n\n")
		sb.WriteString(instr)
	}

	used := a.counter.Count(sb.String())
	if used > a.cfg.TokenBudget {
		return "", rag.NewError(rag.KindInputTooLarge,
			fmt.Sprintf("模板与线索字段已占 %d tokens, 超过预算 %d", used, a.cfg.TokenBudget), nil)
	}

	// 上下文按优先级(相似度降序)逐个装入, 放不下的直接丢弃
	if req.Context != nil && !req.Context.Empty() {
		labelTokens := a.counter.Count(contextLabel)
		appended := false

		for _, chunk := range req.Context.Chunks {
			chunkTokens := chunk.TokenCount
			if chunkTokens <= 0 {
				chunkTokens = a.counter.Count(chunk.Content)
			}

			need := chunkTokens
			if !appended {
				need += labelTokens
			}
			if used+need > a.cfg.TokenBudget {
				break
			}

			if !appended {
				sb.WriteString("\n\n")
				sb.WriteString(contextLabel)
				appended = true
			}
			sb.WriteString("\n\n")
			sb.WriteString(chunk.Content)
			used += need
		}
	}

	return sb.String(), nil
}

// leadVars 把线索字段转成模板变量, 并校验必填项
func (a *PromptAssembler) leadVars(lead *Lead, tmpl *PromptTemplate) (map[string]any, error) {
	if lead == nil {
		return nil, NewError(KindTemplateFieldMissing, "缺少线索数据", nil)
	}

	vars := map[string]any{
		"FirstName": lead.FirstName,
		"LastName":  lead.LastName,
		"FullName":  lead.FullName(),
		"Company":   lead.Company,
		"Role":      lead.Role,
		"Signals":   strings.Join(lead.Signals, "; "),
	}

	for _, field := range tmpl.Required {
		v, ok := vars[field]
		if !ok || strings.TrimSpace(fmt.Sprint(v)) == "" {
			return nil, NewError(KindTemplateFieldMissing,
				fmt.Sprintf("模板 %s 的必填字段 %s 缺失", tmpl.Name, field), nil)
		}
	}

	return vars, nil
}

// renderTemplate 渲染模板, 未定义的占位符视为字段缺失
func renderTemplate(tmpl *PromptTemplate, vars map[string]any) (string, error) {
	parsed, err := template.New(tmpl.Name).Option("missingkey=error").Parse(tmpl.Content)
	if err != nil {
		return "", fmt.Errorf("解析模板失败: %w", err)
	}

	var buf strings.Builder
	if err := parsed.Execute(&buf, vars); err != nil {
		return "", NewError(KindTemplateFieldMissing,
			fmt.Sprintf("模板 %s 渲染失败", tmpl.Name), err)
	}

	return buf.String(), nil
}
