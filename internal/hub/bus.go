package hub

import (
	"context"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 广播总线
// ============================================================================
//
// 房间成员表是进程内状态，不落库。单实例部署时 LocalBus 直接分发即可；
// 多实例部署必须换成 RedisBus，否则广播只能到达处理写请求的那个实例。
// 两个实现共用同一个接口，业务代码不感知部署形态。
//
// ============================================================================

// Handler 事件处理函数（Hub 注册进来）
type Handler func(Event)

// Bus 发布/订阅总线
// Publish 的调用约定：只在状态提交之后调用，失败只记日志不回传给写路径
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	AddHandler(h Handler)
	Close() error
}

// ============================================================================
// 进程内总线
// ============================================================================

// LocalBus 进程内总线，发布即同步分发给全部处理器
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBus) AddHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *LocalBus) Close() error {
	return nil
}

// ============================================================================
// Redis 总线
// ============================================================================

// redisChannel 所有实例共用一个频道，封包里的 room 字段决定本地分发范围
const redisChannel = "bidparty:events"

// RedisBus 基于 Redis pub/sub 的跨实例总线
// 发布方实例把事件推到 Redis 频道，每个实例的订阅协程收到后
// 再分发给本实例的处理器（即本实例的 Hub）
type RedisBus struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	mu       sync.RWMutex
	handlers []Handler
	cancel   context.CancelFunc
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisChannel, data).Err()
}

func (b *RedisBus) AddHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Start 启动订阅协程，必须在 AddHandler 之后调用
func (b *RedisBus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.pubsub = b.client.Subscribe(ctx, redisChannel)

	go func() {
		log.Println("[RedisBus] 广播订阅协程启动")
		ch := b.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Println("[RedisBus] 收到停止信号，订阅协程退出")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					// 解码失败只记日志丢弃，广播不是写路径的正确性依赖
					log.Printf("[RedisBus] 事件解码失败: %v", err)
					continue
				}
				b.mu.RLock()
				handlers := b.handlers
				b.mu.RUnlock()
				for _, h := range handlers {
					h(ev)
				}
			}
		}
	}()
}

func (b *RedisBus) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
