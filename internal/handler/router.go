package handler

import (
	"bidparty/internal/config"
	"bidparty/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, bus hub.Bus, eventHub *hub.Hub) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, bus, eventHub)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/recharge", h.Recharge)
			account.GET("/transactions", h.ListTransactions)
		}

		// 竞价相关
		bid := api.Group("/bid")
		{
			bid.POST("/place", h.PlaceBid)
			bid.GET("/list", h.ListBids)
		}

		// 派对相关
		party := api.Group("/party")
		{
			party.POST("/create", h.CreateParty)
			party.POST("/start", h.StartParty)
			party.POST("/end", h.EndParty)
			party.POST("/host", h.SetHost)
			party.POST("/playback", h.Playback)
			party.POST("/veto", h.VetoMedia)
			party.POST("/restore", h.RestoreMedia)
			party.GET("/detail", h.GetParty)
			party.GET("/queue", h.GetQueue)
			party.GET("/totals", h.GetPartyTotals)
		}

		// 媒体聚合相关
		media := api.Group("/media")
		{
			media.GET("/rollup", h.GetMediaRollup)
			media.GET("/user-total", h.GetUserMediaTotal)
		}
	}

	// WebSocket 接入点
	r.GET("/ws", h.ServeWS)

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
