package outreach

import (
	"fmt"
	"strings"

	"outreach/internal/rag"
)

// 生成请求状态机: retrieving → assembling → generating → scoring → done
// 任一步失败进入 failed, 失败时保留所处步骤与错误类别供调用方决策。
const (
	StepRetrieving = "retrieving"
	StepAssembling = "assembling"
	StepGenerating = "generating"
	StepScoring    = "scoring"
	StepDone       = "done"
	StepFailed     = "failed"
)

// 草稿审查标记
const (
	ReviewStateNone    = ""                   // 正常通过
	ReviewStateFlagged = "flagged_for_review" // 修订后仍超阈值, 交人工复核
)

// Lead 外部 CRUD 层提供的线索, 核心只读不写
// 松散载荷在编排器边界收敛为该严格结构
type Lead struct {
	ID        string
	FirstName string
	LastName  string
	Company   string
	Role      string

	// 自由文本信号(动态、岗位变动、公开发言等), 作为检索查询的原料
	Signals []string
}

// Validate 校验必填字段
func (l *Lead) Validate() error {
	if strings.TrimSpace(l.FirstName) == "" {
		return fmt.Errorf("线索缺少 first_name")
	}
	if strings.TrimSpace(l.Company) == "" {
		return fmt.Errorf("线索缺少 company")
	}
	if strings.TrimSpace(l.Role) == "" {
		return fmt.Errorf("线索缺少 role")
	}
	return nil
}

// LeadFromPayload 把外部松散载荷转换为严格的 Lead
func LeadFromPayload(payload map[string]any) (*Lead, error) {
	lead := &Lead{
		ID:        stringField(payload, "id"),
		FirstName: stringField(payload, "first_name"),
		LastName:  stringField(payload, "last_name"),
		Company:   stringField(payload, "company"),
		Role:      stringField(payload, "role"),
	}

	if raw, ok := payload["signals"]; ok {
		switch v := raw.(type) {
		case []string:
			lead.Signals = v
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					lead.Signals = append(lead.Signals, s)
				}
			}
		}
	}

	if err := lead.Validate(); err != nil {
		return nil, err
	}
	return lead, nil
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// RetrievalQuery 拼出用于知识检索的查询文本
func (l *Lead) RetrievalQuery() string {
	parts := []string{l.Company, l.Role}
	parts = append(parts, l.Signals...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// FullName 姓名拼接
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// SpamScore 垃圾邮件风险评估结果
type SpamScore struct {
	Risk    float64  `json:"risk"`    // [0, 1], 越高越危险
	Flagged []string `json:"flagged"` // 命中的触发词/特征
}

// DraftEmail 生成结果
// Context 保留生成时使用的检索上下文, 供审计回溯。
type DraftEmail struct {
	Subject string                `json:"subject"`
	Body    string                `json:"body"`
	Context *rag.RetrievedContext `json:"-"`

	SpamScore   SpamScore `json:"spam_score"`
	ReviewState string    `json:"review_state,omitempty"` // 空或 flagged_for_review
	Revised     bool      `json:"revised"`                // 是否经历过一次修订
}

// StepError 编排器对外暴露的带步骤的失败
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("步骤 %s 失败: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
