// Package summary 从消息历史提取可恢复的会话摘要
// 全部为纯函数：无副作用、无 I/O，可以安全地重复调用
package summary

import "strings"

// Classifier 文本分类器
// 关键词表是可替换的数据而不是硬编码分支，便于换语言或调整词表
type Classifier interface {
	// Classify 返回文本命中的所有类别，按类别定义顺序
	Classify(text string) []string
}

// Category 关键词类别
type Category struct {
	Name     string
	Keywords []string
}

// KeywordClassifier 基于子串匹配的分类器
// 匹配是大小写不敏感的确定性子串匹配
type KeywordClassifier struct {
	categories []Category
}

// NewKeywordClassifier 创建关键词分类器
func NewKeywordClassifier(categories []Category) *KeywordClassifier {
	return &KeywordClassifier{categories: categories}
}

// Classify 实现 Classifier 接口
func (c *KeywordClassifier) Classify(text string) []string {
	lower := strings.ToLower(text)

	var matched []string
	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, cat.Name)
				break
			}
		}
	}
	return matched
}

// DefaultTopicCategories 话题类别（英文默认词表）
func DefaultTopicCategories() []Category {
	return []Category{
		{Name: "work", Keywords: []string{"work", "job", "career", "boss", "colleague", "office"}},
		{Name: "relationships", Keywords: []string{"relationship", "partner", "friend", "family", "marriage"}},
		{Name: "stress", Keywords: []string{"stress", "overwhelmed", "pressure", "burnout", "exhausted"}},
		{Name: "goals", Keywords: []string{"goal", "plan", "future", "improve", "change"}},
	}
}

// DefaultConcernCategories 关注点类别（英文默认词表）
func DefaultConcernCategories() []Category {
	return []Category{
		{Name: "anxiety", Keywords: []string{"worried", "anxious", "anxiety", "nervous", "afraid", "fear"}},
		{Name: "challenges", Keywords: []string{"difficult", "struggle", "problem", "challenge", "stuck"}},
		{Name: "relationships", Keywords: []string{"relationship", "partner", "family", "friend"}},
		{Name: "professional", Keywords: []string{"work", "career", "job", "professional", "workplace"}},
	}
}

// DefaultAdvisoryPatterns 建议性措辞（用于提取后续步骤）
func DefaultAdvisoryPatterns() []string {
	return []string{"next step", "recommend", "try", "suggest", "practice", "consider"}
}
