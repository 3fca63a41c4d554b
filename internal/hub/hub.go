package hub

import (
	"log"
	"sync"
)

// Hub 房间级广播中心
// 维护 房间 -> 本实例连接 的成员表，把总线事件扇出到房间内每个连接。
// 投递是尽力而为：没有持久化队列，慢客户端直接丢帧，
// 断线客户端重连后通过队列/聚合读接口重新拉取当前状态
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(bus Bus) *Hub {
	h := &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
	// Hub 是总线的唯一消费者；事件经总线绕一圈保证
	// 多实例部署时每个实例的 Hub 都能收到
	bus.AddHandler(h.handleEvent)
	return h
}

// Subscribe 连接加入房间
func (h *Hub) Subscribe(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

// Unsubscribe 连接退出房间，房间空了就清掉
func (h *Hub) Unsubscribe(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

// UnsubscribeAll 连接断开时清理其全部房间
func (h *Hub) UnsubscribeAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, clients := range h.rooms {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize 房间内连接数（监控/测试用）
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// handleEvent 把事件扇出到目标房间的所有连接
func (h *Hub) handleEvent(ev Event) {
	data, err := Encode(ev)
	if err != nil {
		log.Printf("[Hub] 事件编码失败: kind=%s, err=%v", ev.Kind(), err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[ev.Room()]))
	for c := range h.rooms[ev.Room()] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		// 非阻塞投递：发送缓冲满（慢客户端）就丢弃本帧，
		// 绝不让一个慢连接拖住写路径
		if !c.trySend(data) {
			log.Printf("[Hub] 客户端发送缓冲已满，丢弃事件: kind=%s, room=%s", ev.Kind(), ev.Room())
		}
	}
}
