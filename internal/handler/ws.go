package handler

import (
	"log"
	"net/http"

	"bidparty/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 跨域校验交给网关层
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS WebSocket 接入点
// GET /ws
//
// 协议：连接后第一条消息必须是 {"type":"auth","token":"..."}，
// 之后才能 subscribe / unsubscribe / playback；
// 认证前发业务消息直接断开连接
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Hub] WebSocket 升级失败: %v", err)
		return
	}

	hub.NewClient(h.eventHub, conn, h.partySvc, h.cfg.Auth.JWTSecret)
}
