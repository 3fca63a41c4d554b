package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bidparty/internal/config"
	"bidparty/internal/handler"
	"bidparty/internal/hub"
	"bidparty/internal/infrastructure/cache"
	"bidparty/internal/infrastructure/database"
	"bidparty/internal/infrastructure/mq"
	"bidparty/internal/job"
	"bidparty/internal/service"
	"bidparty/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 事件总线走 Redis Pub/Sub，多实例部署时广播能到达所有节点
	bus := hub.NewRedisBus(redisClient)
	defer bus.Close()

	// WebSocket 推送中枢（先注册处理器，再启动订阅）
	eventHub := hub.NewHub(bus)
	bus.Start(ctx)

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	partySvc := service.NewPartyService(db, cfg, bus)
	lifecycleJob := job.NewPartyLifecycleJob(db, cfg, partySvc)
	go lifecycleJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, bus, eventHub)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务和事件订阅
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
