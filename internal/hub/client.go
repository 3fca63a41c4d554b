package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var ErrNotAuthenticated = errors.New("连接未认证")

// PlaybackDispatcher 播放控制指令的业务入口
// 由派对服务实现，Hub 只负责转发，不做权限判断 ——
// 非主持人的指令会被业务层拒绝且不会产生任何广播
type PlaybackDispatcher interface {
	PlaybackCommand(ctx context.Context, partyID, issuerID int64, command string) error
}

// inboundMessage 客户端上行消息
// 连接建立后第一条必须是 auth，认证前的其他消息一律拒绝并断开
type inboundMessage struct {
	Type    string `json:"type"` // auth | subscribe | unsubscribe | playback
	Token   string `json:"token,omitempty"`
	PartyID int64  `json:"party_id,omitempty"`
	Command string `json:"command,omitempty"`
}

// outboundError 下行错误帧（仅发给当前连接，不广播）
type outboundError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type outboundAck struct {
	Kind string `json:"kind"`
	Type string `json:"type"`
}

// Client 一条 WebSocket 连接
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	dispatcher PlaybackDispatcher
	jwtSecret  string
	send       chan []byte
	userID     int64
	authed     bool

	// sendMu 保护 closed 与 send 的关闭：广播方和断连清理
	// 并发执行时，绝不允许向已关闭的 send 写入
	sendMu sync.Mutex
	closed bool
}

// NewClient 创建连接并启动读写泵
func NewClient(h *Hub, conn *websocket.Conn, dispatcher PlaybackDispatcher, jwtSecret string) *Client {
	c := &Client{
		hub:        h,
		conn:       conn,
		dispatcher: dispatcher,
		jwtSecret:  jwtSecret,
		send:       make(chan []byte, sendBufferSize),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// trySend 非阻塞投递，缓冲满或连接已关闭返回 false
//
// 【关键点】投递和 closeSend 用同一把锁：广播快照到连接后、发送前，
// 连接可能正在断开，没有这把锁就会 send on closed channel
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，幂等
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) sendError(message string) {
	data, _ := json.Marshal(outboundError{Kind: "ERROR", Message: message})
	c.trySend(data)
}

func (c *Client) sendAck(msgType string) {
	data, _ := json.Marshal(outboundAck{Kind: "ACK", Type: msgType})
	c.trySend(data)
}

// readPump 读取上行消息并处理
func (c *Client) readPump() {
	defer func() {
		c.hub.UnsubscribeAll(c)
		c.conn.Close()
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("消息格式不合法")
			continue
		}

		if !c.authed && msg.Type != "auth" {
			// 认证前的任何业务消息都是协议违规，直接断开
			c.sendError("连接未认证")
			return
		}

		switch msg.Type {
		case "auth":
			c.handleAuth(msg)
		case "subscribe":
			c.hub.Subscribe(c, PartyRoom(msg.PartyID))
			c.sendAck("subscribe")
		case "unsubscribe":
			c.hub.Unsubscribe(c, PartyRoom(msg.PartyID))
			c.sendAck("unsubscribe")
		case "playback":
			c.handlePlayback(msg)
		default:
			c.sendError("未知的消息类型")
		}
	}
}

// handleAuth 每连接一次的凭证交换
// 认证成功后自动加入自己的用户房间，接收余额变动推送
func (c *Client) handleAuth(msg inboundMessage) {
	if c.authed {
		c.sendAck("auth")
		return
	}

	userID, err := parseUserToken(msg.Token, c.jwtSecret)
	if err != nil {
		log.Printf("[Hub] 连接认证失败: %v", err)
		c.sendError("认证失败")
		return
	}

	c.userID = userID
	c.authed = true
	c.hub.Subscribe(c, UserRoom(userID))
	c.sendAck("auth")
}

// handlePlayback 转发播放控制指令
// 业务层的拒绝（非主持人/派对已结束）只回给本连接，不广播
func (c *Client) handlePlayback(msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.dispatcher.PlaybackCommand(ctx, msg.PartyID, c.userID, msg.Command); err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendAck("playback")
}

// writePump 下行写泵，周期性 ping 保活
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseUserToken 校验 HS256 JWT，取 sub 声明作为用户ID
func parseUserToken(tokenStr, secret string) (int64, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("签名算法不匹配")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return 0, errors.New("token 不合法")
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("claims 格式不合法")
	}

	switch sub := claims["sub"].(type) {
	case float64:
		return int64(sub), nil
	case string:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return 0, errors.New("sub 声明不合法")
		}
		return id, nil
	default:
		return 0, errors.New("缺少 sub 声明")
	}
}
