// Package insight 封装 LLM 协作方
// 对话回复与 OCEAN 人格画像都走同一个 ChatModel，对上层是黑盒：
// 文本进、结构化文本出，可能失败或超时
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

const replySystemPrompt = `You are a supportive conversational therapist. ` +
	`Respond with warmth and curiosity, reflect what the user shares, ` +
	`and when appropriate suggest one small concrete next step. Keep replies under 120 words.`

const profileSystemPrompt = `You are a personality assessment engine. ` +
	`Given a therapy conversation transcript, estimate the user's Big Five (OCEAN) profile. ` +
	`Reply with ONLY a JSON object: {"openness": 0-1, "conscientiousness": 0-1, ` +
	`"extraversion": 0-1, "agreeableness": 0-1, "neuroticism": 0-1, "summary": "one sentence"}.`

// oceanFactors 五因子键名
var oceanFactors = []string{"openness", "conscientiousness", "extraversion", "agreeableness", "neuroticism"}

// Generator 洞察与回复生成器
type Generator struct {
	chat    einomodel.ChatModel
	timeout time.Duration
}

// NewGenerator 创建生成器
func NewGenerator(chat einomodel.ChatModel, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Generator{chat: chat, timeout: timeout}
}

// Reply 生成助手回复
func (g *Generator) Reply(ctx context.Context, messages []*model.SessionMessage) (string, error) {
	if g.chat == nil {
		return "", fmt.Errorf("chat model not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	input := []*schema.Message{schema.SystemMessage(replySystemPrompt)}
	input = append(input, toSchemaMessages(messages)...)

	resp, err := g.chat.Generate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return resp.Content, nil
}

// GenerateProfile 根据完整对话生成 OCEAN 画像
// 仅在会话完成时调用；失败不应阻塞会话完成流程
func (g *Generator) GenerateProfile(ctx context.Context, messages []*model.SessionMessage) (model.JSON, error) {
	if g.chat == nil {
		return nil, fmt.Errorf("chat model not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	input := []*schema.Message{
		schema.SystemMessage(profileSystemPrompt),
		schema.UserMessage(transcript(messages)),
	}

	resp, err := g.chat.Generate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate profile: %w", err)
	}

	profile, err := parseProfile(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return profile, nil
}

// toSchemaMessages 转换为 eino 消息
func toSchemaMessages(messages []*model.SessionMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

// transcript 把对话拼成纯文本转录
func transcript(messages []*model.SessionMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// parseProfile 解析 LLM 返回的 JSON
// LLM 输出经常带围栏或轻微残缺，先做常规清理再用 jsonrepair 强力修复
func parseProfile(raw string) (model.JSON, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if !json.Valid([]byte(s)) {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON and repair failed: %w", err)
		}
		s = repaired
	}

	var profile model.JSON
	if err := json.Unmarshal([]byte(s), &profile); err != nil {
		return nil, err
	}

	// 五个因子必须齐全且在 [0,1] 之内
	for _, factor := range oceanFactors {
		v, ok := profile[factor]
		if !ok {
			return nil, fmt.Errorf("missing factor %q", factor)
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("factor %q is not a number", factor)
		}
		if f < 0 {
			profile[factor] = 0.0
		} else if f > 1 {
			profile[factor] = 1.0
		}
	}
	return profile, nil
}
