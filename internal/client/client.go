package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State 是客户端连接状态机的取值。
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	// ErrAuthRejected 表示服务端以 4001 拒绝了 token，不会触发重连。
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrReconnectExhausted 表示重连次数用尽，需要手动再次 Connect。
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrClosed 表示客户端已被主动关闭。
	ErrClosed = errors.New("client closed")
)

const closeInvalidToken = 4001

// Client 是聊天服务的 WebSocket 客户端，掉线后按退避策略自动重连，
// 重连成功会重放最近一次加入的团队。
type Client struct {
	endpoint string
	token    string
	backoff  Backoff
	dialer   *websocket.Dialer

	mu         sync.Mutex
	state      State
	dialing    bool
	sock       *websocket.Conn
	activeTeam uint
	closed     bool

	lastErr error

	// Events 接收服务端推送的原始事件。跨重连保持打开，终态经
	// OnStateChange 与 Err 观察。
	Events chan json.RawMessage
	// OnStateChange 状态变化回调，reconnecting 时附带当前尝试序号。
	OnStateChange func(state State, attempt int)
}

// Option 配置客户端。
type Option func(*Client)

// WithBackoff 覆盖默认退避策略。
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithDialer 覆盖默认 dialer。
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New 创建客户端，endpoint 形如 ws://host:port/ws，token 经查询参数携带。
func New(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		backoff:  DefaultBackoff(),
		dialer:   websocket.DefaultDialer,
		Events:   make(chan json.RawMessage, 64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State 返回当前连接状态。
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect 建立连接并启动读循环。连接建立前的失败直接返回，
// 不消耗重连配额；之后的掉线由读循环按退避策略自动处理。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected || c.dialing {
		// 已联机、重连流程尚在进行，或另一个 Connect 正在拨号
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.mu.Unlock()

	sock, err := c.dial(ctx)
	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sock = sock
	c.lastErr = nil
	c.mu.Unlock()
	c.transition(StateConnected, 0)
	go c.readLoop(ctx, sock)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	sock, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

func (c *Client) setConn(sock *websocket.Conn) {
	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
}

func (c *Client) transition(s State, attempt int) {
	c.mu.Lock()
	c.state = s
	cb := c.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s, attempt)
	}
}

// readLoop 持续读取服务端事件。连接异常断开时进入重连流程，
// 认证拒绝（4001）与主动关闭不重连。
func (c *Client) readLoop(ctx context.Context, sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err == nil {
			select {
			case c.Events <- json.RawMessage(data):
			default:
				log.Warn().Msg("event buffer full, dropping server event")
			}
			continue
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			c.finish(nil)
			return
		}
		if websocket.IsCloseError(err, closeInvalidToken) {
			log.Warn().Msg("server rejected token, not reconnecting")
			c.finish(ErrAuthRejected)
			return
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.finish(nil)
			return
		}

		next, rerr := c.reconnect(ctx)
		if rerr != nil {
			log.Warn().Err(rerr).Msg("reconnect gave up")
			c.finish(rerr)
			return
		}
		sock = next
	}
}

// finish 进入终态；之后需要手动 Connect 才会再次联机。
func (c *Client) finish(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.sock = nil
	c.mu.Unlock()
	c.transition(StateDisconnected, 0)
}

// Err 返回最近一次终态断开的原因，nil 表示正常关闭。
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// reconnect 按退避策略重连：1s、2s、4s、8s、16s，最多尝试
// MaxAttempts 次，成功后重放最近一次加入的团队。
func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; !c.backoff.Exhausted(attempt); attempt++ {
		c.transition(StateReconnecting, attempt)
		delay := c.backoff.Delay(attempt)
		log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		c.mu.Unlock()

		sock, err := c.dial(ctx)
		if err != nil {
			continue
		}
		c.setConn(sock)
		c.transition(StateConnected, 0)
		c.replayJoin(sock)
		return sock, nil
	}
	return nil, ErrReconnectExhausted
}

// replayJoin 重连成功后重新加入掉线前的活跃团队。
func (c *Client) replayJoin(sock *websocket.Conn) {
	c.mu.Lock()
	team := c.activeTeam
	c.mu.Unlock()
	if team == 0 {
		return
	}
	if err := c.write(sock, map[string]interface{}{"type": "join_team", "teamId": team}); err != nil {
		log.Warn().Err(err).Uint("team_id", team).Msg("replay join")
	}
}

func (c *Client) write(sock *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sock.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) send(v interface{}) error {
	c.mu.Lock()
	sock, state := c.sock, c.state
	c.mu.Unlock()
	if state != StateConnected || sock == nil {
		return fmt.Errorf("not connected (state %s)", state)
	}
	return c.write(sock, v)
}

// JoinTeam 加入团队房间，并记住它用于重连后重放。
func (c *Client) JoinTeam(teamID uint) error {
	c.mu.Lock()
	c.activeTeam = teamID
	c.mu.Unlock()
	return c.send(map[string]interface{}{"type": "join_team", "teamId": teamID})
}

// SendMessage 向团队发送一条文本消息。
func (c *Client) SendMessage(teamID uint, content string) error {
	return c.send(map[string]interface{}{"type": "message", "teamId": teamID, "content": content})
}

// Typing 广播正在输入提示。
func (c *Client) Typing(teamID uint) error {
	return c.send(map[string]interface{}{"type": "typing", "teamId": teamID})
}

// StopTyping 广播停止输入提示。
func (c *Client) StopTyping(teamID uint) error {
	return c.send(map[string]interface{}{"type": "stop_typing", "teamId": teamID})
}

// Close 主动断开并阻止后续重连。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		return sock.Close()
	}
	return nil
}
