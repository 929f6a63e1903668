package outreach

import (
	"context"
	"fmt"
	"strings"
)

// TemplateGenerator 根据业务描述生成可复用的冷邮件模板
type TemplateGenerator struct {
	generator GenerationClient
	params    GenerationParams
}

// NewTemplateGenerator 创建模板生成器
func NewTemplateGenerator(generator GenerationClient, params GenerationParams) *TemplateGenerator {
	if params.Temperature == 0 {
		params.Temperature = 0.7
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 600
	}
	return &TemplateGenerator{generator: generator, params: params}
}

// GenerateTemplate 由业务描述产出一份冷邮件模板文本
// 模板保留 {{.FirstName}}/{{.Company}} 等占位符, 供后续逐线索个性化
func (g *TemplateGenerator) GenerateTemplate(ctx context.Context, businessPrompt string) (string, error) {
	if strings.TrimSpace(businessPrompt) == "" {
		return "", fmt.Errorf("业务描述不能为空")
	}

	prompt := fmt.Sprintf(`Generate a professional and engaging cold sales email template based on the user's business description and target audience. The email should be concise, personalized, and optimized for conversions. Include:

1. A compelling subject line
2. A personalized greeting
3. A clear value proposition
4. A call-to-action

Use Go template placeholders {{.FirstName}}, {{.Company}} and {{.Role}} where lead-specific values belong.

user prompt: %s`, businessPrompt)

	return g.generator.Generate(ctx, prompt, g.params)
}
