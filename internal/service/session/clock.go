package session

import (
	"sync"
	"time"
)

// Clock 会话时钟
// 显式持有自己的计时器与状态，不依赖任何外部调度：
// UI / 传输层只订阅回调，不拥有计时器
type Clock struct {
	mu sync.Mutex

	sessionID     string
	tickInterval  time.Duration
	maxDuration   time.Duration
	warningOffset time.Duration

	elapsed  time.Duration
	running  bool
	disposed bool
	warned   bool
	expired  bool

	stopCh chan struct{}

	// onWarning 在剩余时间不足 warningOffset 时触发，每个会话只触发一次
	onWarning func(sessionID string, elapsed time.Duration)
	// onExpire 在到达最大时长时触发，幂等
	onExpire func(sessionID string, elapsed time.Duration)
	// onFlush 周期性回写累计时长
	onFlush func(sessionID string, elapsedSeconds int)
}

// flushEvery 每隔多少个 tick 回写一次累计时长
const flushEvery = 15

// ClockOptions 时钟参数
type ClockOptions struct {
	TickInterval  time.Duration
	MaxDuration   time.Duration
	WarningOffset time.Duration
	OnWarning     func(sessionID string, elapsed time.Duration)
	OnExpire      func(sessionID string, elapsed time.Duration)
	OnFlush       func(sessionID string, elapsedSeconds int)
}

// NewClock 创建会话时钟
// elapsed 允许从非零值起步（恢复暂停的会话）
func NewClock(sessionID string, elapsed time.Duration, opts ClockOptions) *Clock {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Clock{
		sessionID:     sessionID,
		tickInterval:  opts.TickInterval,
		maxDuration:   opts.MaxDuration,
		warningOffset: opts.WarningOffset,
		elapsed:       elapsed,
		onWarning:     opts.OnWarning,
		onExpire:      opts.OnExpire,
		onFlush:       opts.OnFlush,
	}
}

// Start 启动计时
// 已在运行、已到期或已销毁时为 no-op
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running || c.expired || c.disposed {
		c.mu.Unlock()
		return
	}
	c.running = true
	stopCh := make(chan struct{})
	c.stopCh = stopCh
	c.mu.Unlock()

	go c.run(stopCh)
}

// run 计时循环
func (c *Clock) run(stopCh chan struct{}) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !c.Tick() {
				return
			}
		}
	}
}

// Tick 步进一次
// 返回 false 表示时钟已停止（暂停、到期或销毁），调用方应退出循环
func (c *Clock) Tick() bool {
	c.mu.Lock()

	if !c.running || c.expired || c.disposed {
		c.mu.Unlock()
		return false
	}

	c.elapsed += c.tickInterval
	elapsed := c.elapsed
	ticks := int(elapsed / c.tickInterval)

	fireWarning := false
	if !c.warned && c.maxDuration > 0 && elapsed >= c.maxDuration-c.warningOffset {
		c.warned = true
		fireWarning = true
	}

	fireExpire := false
	if c.maxDuration > 0 && elapsed >= c.maxDuration {
		c.expired = true
		c.running = false
		fireExpire = true
	}

	flush := fireExpire || (ticks%flushEvery == 0)
	onWarning, onExpire, onFlush := c.onWarning, c.onExpire, c.onFlush
	sessionID := c.sessionID
	c.mu.Unlock()

	// 回调在锁外执行，允许回调里再操作时钟
	if flush && onFlush != nil {
		onFlush(sessionID, int(elapsed/time.Second))
	}
	if fireWarning && onWarning != nil {
		onWarning(sessionID, elapsed)
	}
	if fireExpire {
		if onExpire != nil {
			onExpire(sessionID, elapsed)
		}
		return false
	}
	return true
}

// Pause 停止计时，保留累计时长
func (c *Clock) Pause() {
	c.stop()
	c.flushNow()
}

// Resume 从上次累计时长继续计时
func (c *Clock) Resume() {
	c.Start()
}

// Stop 停止计时并回写时长（会话进入终态时调用）
func (c *Clock) Stop() {
	c.stop()
	c.flushNow()
}

// Dispose 永久销毁时钟，之后所有操作都是 no-op
func (c *Clock) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	c.stop()
}

// Elapsed 当前累计时长
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Running 是否在计时
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Expired 是否已到期
func (c *Clock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func (c *Clock) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

func (c *Clock) flushNow() {
	c.mu.Lock()
	onFlush := c.onFlush
	sessionID := c.sessionID
	elapsed := c.elapsed
	c.mu.Unlock()

	if onFlush != nil {
		onFlush(sessionID, int(elapsed/time.Second))
	}
}
