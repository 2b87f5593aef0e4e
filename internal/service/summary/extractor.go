package summary

import (
	"strings"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

// 会话阶段
const (
	PhaseExploration    = "exploration"
	PhaseAnalysis       = "analysis"
	PhaseActionPlanning = "action_planning"
)

// DefaultTopic 没有命中任何话题类别时的缺省值
const DefaultTopic = "general"

// DefaultNextStep 没有发现建议性措辞时的缺省步骤
const DefaultNextStep = "resume conversation"

// Context 暂停/恢复载荷中携带的会话上下文
type Context struct {
	Topic     string   `json:"topic"`
	Concerns  []string `json:"concerns"`
	Phase     string   `json:"phase"`
	Progress  float64  `json:"progress"` // 0-1
	NextSteps []string `json:"next_steps"`
}

// Extractor 会话上下文提取器
type Extractor struct {
	topics   Classifier
	concerns Classifier
	advisory []string
}

// NewExtractor 创建提取器（英文默认词表）
func NewExtractor() *Extractor {
	return &Extractor{
		topics:   NewKeywordClassifier(DefaultTopicCategories()),
		concerns: NewKeywordClassifier(DefaultConcernCategories()),
		advisory: DefaultAdvisoryPatterns(),
	}
}

// NewExtractorWith 使用自定义分类器创建提取器
func NewExtractorWith(topics, concerns Classifier, advisory []string) *Extractor {
	return &Extractor{topics: topics, concerns: concerns, advisory: advisory}
}

// Extract 提取完整上下文
func (e *Extractor) Extract(messages []*model.SessionMessage) *Context {
	return &Context{
		Topic:     e.ExtractTopic(messages),
		Concerns:  e.ExtractConcerns(messages),
		Phase:     DeterminePhase(messages),
		Progress:  CalculateProgress(messages) / 100,
		NextSteps: e.ExtractNextSteps(messages),
	}
}

// ExtractTopic 提取当前话题
// 只看最近 5 条用户消息，以最后一条用户消息命中的第一个类别为准
func (e *Extractor) ExtractTopic(messages []*model.SessionMessage) string {
	recent := lastUserMessages(messages, 5)
	if len(recent) == 0 {
		return DefaultTopic
	}

	last := recent[len(recent)-1]
	if matched := e.topics.Classify(last.Content); len(matched) > 0 {
		return matched[0]
	}
	return DefaultTopic
}

// ExtractConcerns 提取关注点集合
// 扫描全部用户消息，按首次出现顺序去重
func (e *Extractor) ExtractConcerns(messages []*model.SessionMessage) []string {
	seen := make(map[string]bool)
	var concerns []string

	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		for _, family := range e.concerns.Classify(msg.Content) {
			if !seen[family] {
				seen[family] = true
				concerns = append(concerns, family)
			}
		}
	}
	return concerns
}

// ExtractNextSteps 从助手消息中提取后续步骤
func (e *Extractor) ExtractNextSteps(messages []*model.SessionMessage) []string {
	var steps []string
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		lower := strings.ToLower(msg.Content)
		for _, pattern := range e.advisory {
			if strings.Contains(lower, pattern) {
				steps = append(steps, "follow up on the suggested "+pattern)
				break
			}
		}
	}

	if len(steps) == 0 {
		return []string{DefaultNextStep}
	}
	return steps
}

// DeterminePhase 根据消息数判定会话阶段
// 阈值固定：<5 探索期，5-14 分析期，>=15 行动规划期
func DeterminePhase(messages []*model.SessionMessage) string {
	switch n := len(messages); {
	case n < 5:
		return PhaseExploration
	case n < 15:
		return PhaseAnalysis
	default:
		return PhaseActionPlanning
	}
}

// CalculateProgress 线性进度评分，范围 [0,100]
func CalculateProgress(messages []*model.SessionMessage) float64 {
	progress := float64(len(messages)) / 20 * 100
	if progress > 100 {
		return 100
	}
	return progress
}

// lastUserMessages 取最近 n 条用户消息（保持原顺序）
func lastUserMessages(messages []*model.SessionMessage, n int) []*model.SessionMessage {
	var users []*model.SessionMessage
	for _, msg := range messages {
		if msg.Role == "user" {
			users = append(users, msg)
		}
	}
	if len(users) > n {
		users = users[len(users)-n:]
	}
	return users
}
