package ws

import (
	"context"
	"time"

	"teamhub/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Monitor 周期性巡检所有连接：alive 的连接发出探测并进入 pending-pong，
// 下个周期仍未应答的连接视为半开，强制关闭并走断开清理。
// 失联检测上界为两个巡检周期。
type Monitor struct {
	relay    *Relay
	interval time.Duration
}

func NewMonitor(relay *Relay, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{relay: relay, interval: interval}
}

// Run 启动巡检循环，ctx 取消后退出。
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep 执行一轮巡检。
func (m *Monitor) Sweep() {
	for _, c := range m.relay.Conns() {
		switch c.State() {
		case stateTerminated:
			continue
		case statePendingPong:
			metrics.WsHeartbeatTimeouts.Inc()
			log.Warn().Uint("user_id", c.UserID()).Time("last_pong", c.LastPong()).Msg("heartbeat timeout")
			m.relay.Disconnect(c, websocket.CloseGoingAway, "heartbeat timeout")
		default:
			c.markPendingPong()
			c.Ping()
		}
	}
}
