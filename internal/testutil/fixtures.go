// Package testutil 提供测试辅助工具
package testutil

import (
	"fmt"
	"time"

	"github.com/EmiMaldonado/glaub-session-api/internal/model"
)

// NewTestSession 创建一个活跃的测试会话
func NewTestSession(id, userID string) *model.TherapySession {
	return &model.TherapySession{
		ID:                 id,
		UserID:             userID,
		Status:             model.SessionActive,
		StartedAt:          time.Now(),
		MaxDurationSeconds: 900,
		WarningOffsetSecs:  60,
	}
}

// Transcript 从交替的 user/assistant 文本构造消息序列
// 奇数下标是助手回复，方便搭长对话
func Transcript(sessionID string, contents ...string) []*model.SessionMessage {
	messages := make([]*model.SessionMessage, 0, len(contents))
	for i, content := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, &model.SessionMessage{
			ID:        fmt.Sprintf("msg-%d", i),
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	return messages
}

// UserMessages 构造 n 条用户消息，内容可指定前缀
func UserMessages(sessionID string, n int, prefix string) []*model.SessionMessage {
	messages := make([]*model.SessionMessage, 0, n)
	for i := 0; i < n; i++ {
		messages = append(messages, &model.SessionMessage{
			ID:        fmt.Sprintf("msg-%d", i),
			SessionID: sessionID,
			Role:      "user",
			Content:   fmt.Sprintf("%s %d", prefix, i),
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	return messages
}
