package analysis

import (
	"fmt"
	"sync"
	"time"
)

// 提示时间窗口
// 每个窗口对同一个会话至多产生一条提示
const (
	WindowClosing  = "closing"  // 第 14 分钟（共 15 分钟）
	WindowMidpoint = "midpoint" // 第 7-8 分钟
)

// Alert 给对话注入的时间相关提示
type Alert struct {
	SessionID string    `json:"session_id"`
	Window    string    `json:"window"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Alerter 提示生成器
// 记录每个会话已触发过的窗口，保证同一窗口不重复
type Alerter struct {
	mu    sync.Mutex
	fired map[string]bool // sessionID + ":" + window
}

// NewAlerter 创建提示生成器
func NewAlerter() *Alerter {
	return &Alerter{fired: make(map[string]bool)}
}

// Evaluate 根据分析结果与已用时长决定是否产生提示
// 没有落在任何窗口内、或窗口已触发过时返回 nil
func (a *Alerter) Evaluate(sessionID string, elapsed time.Duration, report *Report) *Alert {
	minutes := elapsed.Minutes()

	switch {
	case minutes >= 14:
		return a.fire(sessionID, WindowClosing, closingPrompt(report))
	case minutes >= 7 && minutes < 9 && report.Overall < 0.4:
		return a.fire(sessionID, WindowMidpoint,
			"We're about halfway through. What feels most important to focus on right now?")
	}
	return nil
}

// Forget 清除会话的窗口记录（会话结束或重开时调用）
func (a *Alerter) Forget(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.fired, sessionID+":"+WindowClosing)
	delete(a.fired, sessionID+":"+WindowMidpoint)
}

func (a *Alerter) fire(sessionID, window, prompt string) *Alert {
	key := sessionID + ":" + window

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fired[key] {
		return nil
	}
	a.fired[key] = true

	return &Alert{
		SessionID: sessionID,
		Window:    window,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}
}

// closingPrompt 收尾提示：优先响应注意力标记，其次根据进度选择措辞
func closingPrompt(report *Report) string {
	if len(report.Flags) > 0 {
		switch report.Flags[0] {
		case FlagHighIntensity, FlagAnxiousState:
			return "We have about a minute left. Before we close, let's take a breath together — what would help you feel steadier right now?"
		case FlagVolatility:
			return "We're almost out of time. A lot came up today — what's one thing you'd like to hold onto from this conversation?"
		case FlagStalled, FlagTimePressure:
			return "We have about a minute left. What's the one thing you most want to take away from today?"
		default:
			return fmt.Sprintf("We're nearly at the end. Let's close by revisiting what stood out (%s).", report.Flags[0])
		}
	}

	if report.Overall > 0.7 {
		return "We're almost done, and you've covered real ground today. What insight feels most worth carrying forward?"
	}
	return "We have about a minute left. Let's wrap up — how are you feeling as we close?"
}
