package game

import (
	"sync"
	"time"
)

// TurnClock 单个会话的回合计时器。到期时回调携带布置时的截止时间，
// 由引擎判断该截止时间是否仍然有效
type TurnClock struct {
	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	fire     func(deadline time.Time)
	now      func() time.Time
}

// NewTurnClock 创建计时器
func NewTurnClock(fire func(deadline time.Time), now func() time.Time) *TurnClock {
	if now == nil {
		now = time.Now
	}
	return &TurnClock{fire: fire, now: now}
}

// Arm 按截止时间布置计时器，替换之前的计时；已过期的截止时间立即触发
func (c *TurnClock) Arm(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		if c.deadline.Equal(deadline) {
			return
		}
		c.timer.Stop()
	}

	delay := deadline.Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	c.deadline = deadline
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		current := c.timer != nil && c.deadline.Equal(deadline)
		if current {
			c.timer = nil
			c.deadline = time.Time{}
		}
		c.mu.Unlock()

		c.fire(deadline)
	})
}

// Stop 取消计时
func (c *TurnClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.deadline = time.Time{}
}

// Deadline 当前布置的截止时间
func (c *TurnClock) Deadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, c.timer != nil
}
