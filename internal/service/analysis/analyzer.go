// Package analysis 对会话成熟度做启发式评分
// 每个消息批次重新计算一遍，评分本身不在调用之间保留状态
package analysis

import (
	"math"
	"strings"
	"time"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

// Stage 治疗阶段定义
// 六个阶段有序排列，并列时靠前的阶段胜出（保守推进）
type Stage struct {
	Name     string
	Keywords []string
	Weight   float64
}

// DefaultStages 阶段定义（英文默认词表）
func DefaultStages() []Stage {
	return []Stage{
		{Name: "rapport", Weight: 0.1, Keywords: []string{"hello", "nervous", "first time", "not sure", "new to this"}},
		{Name: "exploration", Weight: 0.25, Keywords: []string{"feel", "happened", "situation", "lately", "going on"}},
		{Name: "pattern_recognition", Weight: 0.45, Keywords: []string{"always", "every time", "again", "pattern", "keep doing", "tend to"}},
		{Name: "insight", Weight: 0.65, Keywords: []string{"realize", "understand", "because", "makes sense", "now i see"}},
		{Name: "strategy", Weight: 0.85, Keywords: []string{"could try", "plan", "next time", "instead", "practice"}},
		{Name: "consolidation", Weight: 1.0, Keywords: []string{"learned", "progress", "better now", "going forward", "commit"}},
	}
}

// Emotion 情绪类别定义
type Emotion struct {
	Name     string
	Keywords []string
	Weight   float64
}

// DefaultEmotions 情绪词表（英文默认）
func DefaultEmotions() []Emotion {
	return []Emotion{
		{Name: "anxious", Weight: 1.2, Keywords: []string{"anxious", "worried", "nervous", "panic", "afraid", "scared"}},
		{Name: "sad", Weight: 1.1, Keywords: []string{"sad", "down", "depressed", "hopeless", "crying", "empty"}},
		{Name: "angry", Weight: 1.1, Keywords: []string{"angry", "furious", "frustrated", "annoyed", "unfair"}},
		{Name: "happy", Weight: 1.0, Keywords: []string{"happy", "glad", "excited", "great", "wonderful"}},
		{Name: "confused", Weight: 1.0, Keywords: []string{"confused", "lost", "don't know", "unsure", "unclear"}},
		{Name: "hopeful", Weight: 1.0, Keywords: []string{"hope", "hopeful", "optimistic", "looking forward", "better"}},
	}
}

// 进度维度名称
const (
	DimSelfAwareness       = "self_awareness"
	DimEmotionalRegulation = "emotional_regulation"
	DimCognitiveInsight    = "cognitive_insight"
	DimBehavioralChange    = "behavioral_change"
)

// dimension 进度维度定义
type dimension struct {
	name     string
	keywords []string
	weight   float64
}

func defaultDimensions() []dimension {
	return []dimension{
		{name: DimSelfAwareness, weight: 0.3, keywords: []string{"i feel", "i notice", "i realize", "about myself", "my reaction"}},
		{name: DimEmotionalRegulation, weight: 0.25, keywords: []string{"calm", "breathe", "manage", "control", "cope"}},
		{name: DimCognitiveInsight, weight: 0.3, keywords: []string{"understand", "because", "connection", "makes sense", "reason"}},
		{name: DimBehavioralChange, weight: 0.35, keywords: []string{"will try", "started", "changed", "doing differently", "practice"}},
	}
}

// EmotionalState 情绪状态
type EmotionalState struct {
	Dominant  string  `json:"dominant"`
	Intensity float64 `json:"intensity"` // [0,1]
	Stability float64 `json:"stability"` // [0.1,1]
}

// Report 一次分析的输出
type Report struct {
	Stage       string             `json:"stage"`
	StageScores map[string]float64 `json:"stage_scores"`
	Emotion     EmotionalState     `json:"emotion"`
	Dimensions  map[string]float64 `json:"dimensions"`
	Overall     float64            `json:"overall"`
	Flags       []string           `json:"flags,omitempty"`
}

// 注意力标记
const (
	FlagHighIntensity = "high_intensity"
	FlagVolatility    = "volatility"
	FlagStalled       = "stalled"
	FlagTimePressure  = "time_pressure"
	FlagAnxiousState  = "anxious_state"
)

// Analyzer 治疗进度分析器
type Analyzer struct {
	stages     []Stage
	emotions   []Emotion
	dimensions []dimension
}

// NewAnalyzer 创建分析器（默认词表）
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		stages:     DefaultStages(),
		emotions:   DefaultEmotions(),
		dimensions: defaultDimensions(),
	}
}

// NewAnalyzerWith 使用自定义阶段与情绪词表创建分析器
func NewAnalyzerWith(stages []Stage, emotions []Emotion) *Analyzer {
	return &Analyzer{
		stages:     stages,
		emotions:   emotions,
		dimensions: defaultDimensions(),
	}
}

// Analyze 对完整消息历史评分
// elapsed 为会话累计活跃时长
func (a *Analyzer) Analyze(messages []*model.SessionMessage, elapsed time.Duration) *Report {
	report := &Report{
		StageScores: make(map[string]float64),
		Dimensions:  make(map[string]float64),
	}

	report.Stage = a.classifyStage(messages, report.StageScores)
	report.Emotion = a.classifyEmotion(messages)
	report.Overall = a.scoreDimensions(messages, elapsed, report.Dimensions)
	report.Flags = a.raiseFlags(report, elapsed)

	return report
}

// classifyStage 阶段分类：argmax，平分时取更早的阶段
func (a *Analyzer) classifyStage(messages []*model.SessionMessage, scores map[string]float64) string {
	userText := joinUserText(messages)
	bonus := math.Min(1, float64(len(messages))/10)

	best := a.stages[0].Name
	bestScore := -1.0
	for _, stage := range a.stages {
		score := float64(countKeywordHits(userText, stage.Keywords)) + bonus*stage.Weight
		scores[stage.Name] = score
		if score > bestScore {
			bestScore = score
			best = stage.Name
		}
	}
	return best
}

// classifyEmotion 对最近 5 条消息做情绪分类
func (a *Analyzer) classifyEmotion(messages []*model.SessionMessage) EmotionalState {
	recent := messages
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	state := EmotionalState{Dominant: "neutral", Stability: 1}
	if len(recent) == 0 {
		return state
	}

	// 加权词频取主导情绪
	totalMatches := 0
	bestScore := 0.0
	for _, emo := range a.emotions {
		matches := 0
		for _, msg := range recent {
			matches += countKeywordHits(strings.ToLower(msg.Content), emo.Keywords)
		}
		totalMatches += matches
		if score := float64(matches) * emo.Weight; score > bestScore {
			bestScore = score
			state.Dominant = emo.Name
		}
	}

	state.Intensity = math.Min(1, float64(totalMatches)/5)

	// 稳定度：首尾消息命中数之差越大越不稳定，下限 0.1
	first := a.emotionHits(recent[0])
	last := a.emotionHits(recent[len(recent)-1])
	state.Stability = 1 - math.Abs(float64(first-last))/5
	if state.Stability < 0.1 {
		state.Stability = 0.1
	}

	return state
}

// emotionHits 单条消息命中的情绪关键词总数
func (a *Analyzer) emotionHits(msg *model.SessionMessage) int {
	lower := strings.ToLower(msg.Content)
	hits := 0
	for _, emo := range a.emotions {
		hits += countKeywordHits(lower, emo.Keywords)
	}
	return hits
}

// scoreDimensions 四个进度维度评分，返回整体均值
func (a *Analyzer) scoreDimensions(messages []*model.SessionMessage, elapsed time.Duration, out map[string]float64) float64 {
	userText := joinUserText(messages)

	// 时间/消息量加成，贡献很小
	bonus := math.Min(0.2, float64(len(messages))/50+elapsed.Minutes()/100)

	sum := 0.0
	for _, dim := range a.dimensions {
		score := float64(countKeywordHits(userText, dim.keywords))*dim.weight + bonus
		if score > 1 {
			score = 1
		}
		out[dim.name] = score
		sum += score
	}
	return sum / float64(len(a.dimensions))
}

// raiseFlags 根据评分与时长产生注意力标记
func (a *Analyzer) raiseFlags(report *Report, elapsed time.Duration) []string {
	var flags []string
	minutes := elapsed.Minutes()

	if report.Emotion.Intensity > 0.8 {
		flags = append(flags, FlagHighIntensity)
	}
	if report.Emotion.Stability < 0.3 {
		flags = append(flags, FlagVolatility)
	}
	if minutes > 10 && report.Overall < 0.3 {
		flags = append(flags, FlagStalled)
	}
	if minutes > 12 && report.Overall < 0.6 {
		flags = append(flags, FlagTimePressure)
	}
	if report.Emotion.Dominant == "anxious" && report.Emotion.Intensity > 0.6 {
		flags = append(flags, FlagAnxiousState)
	}
	return flags
}

// joinUserText 拼接全部用户文本（小写）
func joinUserText(messages []*model.SessionMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		sb.WriteString(strings.ToLower(msg.Content))
		sb.WriteString(" ")
	}
	return sb.String()
}

// countKeywordHits 统计关键词命中次数（已小写化的文本）
func countKeywordHits(lowerText string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		hits += strings.Count(lowerText, kw)
	}
	return hits
}
