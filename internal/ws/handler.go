package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Authenticator 校验升级请求携带的会话令牌。
type Authenticator interface {
	Verify(token string) (userID uint, err error)
}

// CloseInvalidToken 是令牌缺失或无效时的应用层关闭码。
const CloseInvalidToken = 4001

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 WebSocket 升级：token 以查询参数传入，校验失败以 4001 关闭。
// 升级成功后连接交给中继，读循环在当前 goroutine 阻塞直至断开。
func Serve(relay *Relay, authn Authenticator, heartbeat time.Duration) gin.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		userID, err := authn.Verify(token)
		if err != nil {
			msg := websocket.FormatCloseMessage(CloseInvalidToken, "invalid token")
			_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = sock.Close()
			log.Warn().Str("remote", c.Request.RemoteAddr).Msg("websocket auth rejected")
			return
		}

		// 读超时取两个心跳周期：监视器最迟在第二个周期回收半开连接。
		conn := newConn(userID, sock, relay.buf, 2*heartbeat)
		relay.Attach(conn)
		conn.TrySend(connectedEvent(userID))

		go conn.writePump()
		conn.readPump(relay)
	}
}

// IsAuthClose 判断一个读错误是否为服务端的令牌拒绝。
func IsAuthClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == CloseInvalidToken
}
