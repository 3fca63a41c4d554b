package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// 广播事件定义
// ============================================================================
//
// 事件是一个封闭的带标签变体集合：每种消息一种固定结构，
// 消费方按 kind 穷举分支，不做动态字段探测。
// 只有派对状态机 / 队列引擎 / 账本允许向总线投递事件，
// 且只投递已提交的状态 —— 先提交，后广播。
//
// ============================================================================

const (
	KindQueueUpdated   = "QUEUE_UPDATED"
	KindPlaybackState  = "PLAYBACK_STATE"
	KindBalanceChanged = "BALANCE_CHANGED"
)

// Event 广播事件，Room 决定投递到哪个房间
type Event interface {
	Kind() string
	Room() string
}

// PartyRoom 派对房间名
func PartyRoom(partyID int64) string {
	return fmt.Sprintf("party:%d", partyID)
}

// UserRoom 用户私有房间名（余额变动只发给本人连接）
func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// QueueEntry 队列条目的广播视图
type QueueEntry struct {
	MediaID     string    `json:"media_id"`
	MediaTitle  string    `json:"media_title"`
	MediaArtist string    `json:"media_artist"`
	Aggregate   int64     `json:"aggregate"`
	TopBid      int64     `json:"top_bid"`
	QueuedAt    time.Time `json:"queued_at"`
}

// QueueUpdatedEvent 派对队列发生变化（出价/否决/恢复/跳播）
type QueueUpdatedEvent struct {
	PartyID int64        `json:"party_id"`
	Queue   []QueueEntry `json:"queue"`
}

func (QueueUpdatedEvent) Kind() string   { return KindQueueUpdated }
func (e QueueUpdatedEvent) Room() string { return PartyRoom(e.PartyID) }

// PlaybackStateEvent 播放状态变化（播放/暂停/切歌/派对结束）
type PlaybackStateEvent struct {
	PartyID        int64   `json:"party_id"`
	Status         string  `json:"status"`
	CurrentMediaID *string `json:"current_media_id"`
}

func (PlaybackStateEvent) Kind() string   { return KindPlaybackState }
func (e PlaybackStateEvent) Room() string { return PartyRoom(e.PartyID) }

// BalanceChangedEvent 余额变动，仅推给该用户自己的连接
type BalanceChangedEvent struct {
	UserID     int64 `json:"user_id"`
	NewBalance int64 `json:"new_balance"`
}

func (BalanceChangedEvent) Kind() string   { return KindBalanceChanged }
func (e BalanceChangedEvent) Room() string { return UserRoom(e.UserID) }

// ============================================================================
// 线上编码
// ============================================================================

// Envelope 事件的线上封包：kind 标签 + 房间 + 固定结构负载
type Envelope struct {
	Kind    string          `json:"kind"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Encode 事件编码为封包字节
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Kind:    ev.Kind(),
		Room:    ev.Room(),
		Payload: payload,
	})
}

// Decode 封包字节还原为事件，未知 kind 返回错误
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Kind {
	case KindQueueUpdated:
		var ev QueueUpdatedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindPlaybackState:
		var ev PlaybackStateEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindBalanceChanged:
		var ev BalanceChangedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("未知的事件类型: %s", env.Kind)
	}
}
