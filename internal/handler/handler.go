package handler

import (
	"errors"
	"strconv"
	"time"

	"bidparty/internal/config"
	"bidparty/internal/hub"
	"bidparty/internal/repository"
	"bidparty/internal/service"
	"bidparty/pkg/money"
	"bidparty/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg       *config.Config
	eventHub  *hub.Hub
	ledgerSvc *service.LedgerService
	bidSvc    *service.BidService
	queueSvc  *service.QueueService
	partySvc  *service.PartyService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, bus hub.Bus, eventHub *hub.Hub) *Handler {
	return &Handler{
		cfg:       cfg,
		eventHub:  eventHub,
		ledgerSvc: service.NewLedgerService(db, cfg, bus),
		bidSvc:    service.NewBidService(db, rdb, cfg, bus),
		queueSvc:  service.NewQueueService(db, cfg, bus),
		partySvc:  service.NewPartyService(db, cfg, bus),
	}
}

// writeError 业务错误到响应码的映射
// 业务拒绝（1xxx）客户端不应重试，500 类错误可以重试
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrPartyNotFound):
		response.BusinessError(c, response.CodePartyNotFound, err.Error())
	case errors.Is(err, repository.ErrPartyEnded):
		response.BusinessError(c, response.CodePartyEnded, err.Error())
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, repository.ErrDuplicateRequest):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidBid), errors.Is(err, repository.ErrInvalidCredit):
		response.BusinessError(c, response.CodeInvalidBid, err.Error())
	case errors.Is(err, service.ErrNotHost):
		response.BusinessError(c, response.CodeNotHost, err.Error())
	case errors.Is(err, repository.ErrMediaNotFound), errors.Is(err, repository.ErrMediaStatusInvalid):
		response.BusinessError(c, response.CodeMediaNotFound, err.Error())
	case errors.Is(err, repository.ErrPartyStatusInvalid):
		response.BusinessError(c, response.CodePartyEnded, err.Error())
	case errors.Is(err, repository.ErrOptimisticLock):
		response.BusinessError(c, response.CodeSystemBusy, "系统繁忙，请重试")
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	account, err := h.ledgerSvc.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":       account.UserID,
		"balance":       account.Balance,
		"balance_major": money.Pence(account.Balance).Major(),
	})
}

// RechargeRequest 充值请求
// amount 与 amount_major 二选一：amount 为便士整数，
// amount_major 为主币种字符串（如 "5.00"），最多两位小数
type RechargeRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount"`
	AmountMajor string `json:"amount_major"`
	Reason      string `json:"reason"`
}

// Recharge 入账接口（简化版，实际应该走支付渠道）
// POST /api/v1/account/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount := req.Amount
	if req.AmountMajor != "" {
		p, err := money.FromMajorString(req.AmountMajor)
		if err != nil {
			response.ParamError(c, "amount_major 参数错误: "+err.Error())
			return
		}
		amount = p.Int64()
	}

	reason := req.Reason
	if reason == "" {
		reason = "充值"
	}

	if err := h.ledgerSvc.Credit(c.Request.Context(), req.UserID, amount, reason); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "充值成功"})
}

// ListTransactions 查询用户流水
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.ledgerSvc.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 竞价相关接口
// ============================================================

// PlaceBid 出价
// POST /api/v1/bid/place
//
// 【关键点】出价是整个系统最核心的操作：
// 1. 幂等性：相同的 request_id 只会扣款一次
// 2. 原子性：扣款、竞价记录、聚合更新同时成功或同时失败
// 3. 余额不变量：任何并发交错下余额不会为负
func (h *Handler) PlaceBid(c *gin.Context) {
	var req service.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.bidSvc.PlaceBid(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ListBids 查询竞价记录
// GET /api/v1/bid/list?user_id=xxx 或 ?party_id=xxx
func (h *Handler) ListBids(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	if userIDStr := c.Query("user_id"); userIDStr != "" {
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			response.ParamError(c, "user_id 参数错误")
			return
		}
		bids, total, err := h.bidSvc.ListUserBids(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			writeError(c, err)
			return
		}
		response.Success(c, gin.H{"list": bids, "total": total, "page": page, "page_size": pageSize})
		return
	}

	partyID, err := strconv.ParseInt(c.Query("party_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "需要 user_id 或 party_id 参数")
		return
	}
	bids, total, err := h.bidSvc.ListPartyBids(c.Request.Context(), partyID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": bids, "total": total, "page": page, "page_size": pageSize})
}

// ============================================================
// 派对相关接口
// ============================================================

// CreateParty 创建派对
// POST /api/v1/party/create
func (h *Handler) CreateParty(c *gin.Context) {
	var req service.CreatePartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	party, err := h.partySvc.CreateParty(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"party_id":     party.ID,
		"name":         party.Name,
		"host_id":      party.HostID,
		"status":       party.Status,
		"scheduled_at": party.ScheduledAt.Format(time.RFC3339),
	})
}

type partyIDRequest struct {
	PartyID int64 `json:"party_id" binding:"required"`
}

// StartParty 开始派对
// POST /api/v1/party/start
func (h *Handler) StartParty(c *gin.Context) {
	var req partyIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.partySvc.Start(c.Request.Context(), req.PartyID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "派对已开始"})
}

// EndParty 结束派对（幂等）
// POST /api/v1/party/end
func (h *Handler) EndParty(c *gin.Context) {
	var req partyIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.partySvc.End(c.Request.Context(), req.PartyID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "派对已结束"})
}

// SetHostRequest 指定主持人请求
type SetHostRequest struct {
	PartyID int64 `json:"party_id" binding:"required"`
	HostID  int64 `json:"host_id" binding:"required"`
}

// SetHost 指定主持人（后写覆盖）
// POST /api/v1/party/host
func (h *Handler) SetHost(c *gin.Context) {
	var req SetHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.partySvc.SetHost(c.Request.Context(), req.PartyID, req.HostID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "主持人已更新"})
}

// PlaybackRequest 播放控制请求
type PlaybackRequest struct {
	PartyID  int64  `json:"party_id" binding:"required"`
	IssuerID int64  `json:"issuer_id" binding:"required"`
	Command  string `json:"command" binding:"required"` // play | pause | skip_next | skip_previous
}

// Playback 播放控制（HTTP 入口，与 WebSocket playback 指令等价）
// POST /api/v1/party/playback
func (h *Handler) Playback(c *gin.Context) {
	var req PlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.partySvc.PlaybackCommand(c.Request.Context(), req.PartyID, req.IssuerID, req.Command); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "指令已执行"})
}

// VetoRequest 否决/恢复请求
type VetoRequest struct {
	PartyID  int64  `json:"party_id" binding:"required"`
	MediaID  string `json:"media_id" binding:"required"`
	IssuerID int64  `json:"issuer_id" binding:"required"`
}

// VetoMedia 否决队列条目（主持人专属）
// POST /api/v1/party/veto
func (h *Handler) VetoMedia(c *gin.Context) {
	var req VetoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.queueSvc.Veto(c.Request.Context(), req.PartyID, req.MediaID, req.IssuerID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "条目已否决"})
}

// RestoreMedia 恢复被否决的条目（主持人专属）
// POST /api/v1/party/restore
func (h *Handler) RestoreMedia(c *gin.Context) {
	var req VetoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.queueSvc.Restore(c.Request.Context(), req.PartyID, req.MediaID, req.IssuerID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "条目已恢复"})
}

// GetParty 查询派对详情
// GET /api/v1/party/detail?party_id=xxx
func (h *Handler) GetParty(c *gin.Context) {
	partyID, err := strconv.ParseInt(c.Query("party_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "party_id 参数错误")
		return
	}

	party, err := h.partySvc.GetParty(c.Request.Context(), partyID)
	if err != nil {
		writeError(c, err)
		return
	}

	entries, err := h.partySvc.ListPartyMedia(c.Request.Context(), partyID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"party":   party,
		"entries": entries,
	})
}

// GetQueue 查询派对有序队列
// GET /api/v1/party/queue?party_id=xxx
func (h *Handler) GetQueue(c *gin.Context) {
	partyID, err := strconv.ParseInt(c.Query("party_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "party_id 参数错误")
		return
	}

	queue, err := h.queueSvc.OrderedQueue(c.Request.Context(), partyID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"queue": queue})
}

// GetPartyTotals 查询派对内全部媒体的聚合视图
// GET /api/v1/party/totals?party_id=xxx
func (h *Handler) GetPartyTotals(c *gin.Context) {
	partyID, err := strconv.ParseInt(c.Query("party_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "party_id 参数错误")
		return
	}

	totals, err := h.queueSvc.PartyMediaTotals(c.Request.Context(), partyID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"totals": totals})
}

// ============================================================
// 媒体聚合相关接口
// ============================================================

// GetMediaRollup 查询媒体全局聚合
// GET /api/v1/media/rollup?media_id=xxx
func (h *Handler) GetMediaRollup(c *gin.Context) {
	mediaID := c.Query("media_id")
	if mediaID == "" {
		response.ParamError(c, "media_id 参数不能为空")
		return
	}

	rollup, err := h.queueSvc.MediaRollup(c.Request.Context(), mediaID)
	if err != nil {
		writeError(c, err)
		return
	}
	if rollup == nil {
		response.Success(c, gin.H{"media_id": mediaID, "aggregate": 0, "top_bid": 0})
		return
	}

	response.Success(c, rollup)
}

// GetUserMediaTotal 查询用户对单个媒体的累计出价
// GET /api/v1/media/user-total?user_id=xxx&media_id=xxx
func (h *Handler) GetUserMediaTotal(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	mediaID := c.Query("media_id")
	if mediaID == "" {
		response.ParamError(c, "media_id 参数不能为空")
		return
	}

	rollup, err := h.queueSvc.UserMediaTotal(c.Request.Context(), userID, mediaID)
	if err != nil {
		writeError(c, err)
		return
	}
	if rollup == nil {
		response.Success(c, gin.H{"user_id": userID, "media_id": mediaID, "aggregate": 0, "top_bid": 0})
		return
	}

	response.Success(c, rollup)
}
