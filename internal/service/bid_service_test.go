package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bidparty/internal/hub"
	"bidparty/internal/model"
	"bidparty/internal/repository"
)

func seedActiveParty(t *testing.T, svc *PartyService) *model.Party {
	t.Helper()
	ctx := context.Background()

	party, err := svc.CreateParty(ctx, &CreatePartyRequest{
		Name:        "周五竞价夜",
		HostID:      7,
		ScheduledAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("建派对失败: %v", err)
	}
	if err := svc.Start(ctx, party.ID); err != nil {
		t.Fatalf("开始派对失败: %v", err)
	}
	return party
}

func fundAccount(t *testing.T, ledger *LedgerService, userID, amount int64) {
	t.Helper()
	if err := ledger.Credit(context.Background(), userID, amount, "测试充值"); err != nil {
		t.Fatalf("充值失败: %v", err)
	}
}

func placeBid(t *testing.T, svc *BidService, requestID string, userID, partyID int64, mediaID string, amount int64, scope string) *PlaceBidResponse {
	t.Helper()
	resp, err := svc.PlaceBid(context.Background(), &PlaceBidRequest{
		RequestID: requestID,
		UserID:    userID,
		PartyID:   partyID,
		MediaID:   mediaID,
		Amount:    amount,
		Scope:     scope,
	})
	if err != nil {
		t.Fatalf("出价失败: requestID=%s, err=%v", requestID, err)
	}
	return resp
}

func TestPlaceBidScenario(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, rec := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 800)

	// 800 便士的账户：500 + 300 成功，第三笔 300 必须被拒
	resp := placeBid(t, bidSvc, "req-1", 1, party.ID, "media-a", 500, model.BidScopeParty)
	if resp.Status != BidStatusAccepted {
		t.Fatalf("首笔出价状态 = %s", resp.Status)
	}
	if resp.NewBalance != 300 {
		t.Errorf("首笔出价后余额 = %d, 期望 300", resp.NewBalance)
	}

	placeBid(t, bidSvc, "req-2", 1, party.ID, "media-b", 300, model.BidScopeParty)

	_, err := bidSvc.PlaceBid(ctx, &PlaceBidRequest{
		RequestID: "req-3", UserID: 1, PartyID: party.ID,
		MediaID: "media-c", Amount: 300, Scope: model.BidScopeParty,
	})
	if !errors.Is(err, repository.ErrBalanceNotEnough) {
		t.Fatalf("超额出价期望 ErrBalanceNotEnough, 得到 %v", err)
	}

	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 0 {
		t.Errorf("最终余额 = %d, 期望 0", balance)
	}

	// 被拒的出价不能留下记录，也不能进队列
	bids, total, _ := bidSvc.ListUserBids(ctx, 1, 1, 10)
	if total != 2 || len(bids) != 2 {
		t.Errorf("竞价记录数 = %d, 期望 2", total)
	}

	queueSvc := NewQueueService(db, cfg, bus)
	queue, _ := queueSvc.OrderedQueue(ctx, party.ID)
	if len(queue) != 2 {
		t.Fatalf("队列长度 = %d, 期望 2", len(queue))
	}
	if queue[0].MediaID != "media-a" || queue[1].MediaID != "media-b" {
		t.Errorf("队列顺序 = [%s %s], 期望 [media-a media-b]", queue[0].MediaID, queue[1].MediaID)
	}

	// 每笔成功出价都要有余额事件和队列事件
	if rec.countKind(hub.KindBalanceChanged) < 2 {
		t.Error("成功出价后应广播余额变动")
	}
	if rec.countKind(hub.KindQueueUpdated) < 2 {
		t.Error("party 范围出价后应广播队列更新")
	}
}

func TestPlaceBidIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 1000)

	first := placeBid(t, bidSvc, "req-dup", 1, party.ID, "media-a", 400, model.BidScopeParty)

	replay := placeBid(t, bidSvc, "req-dup", 1, party.ID, "media-a", 400, model.BidScopeParty)
	if replay.Status != BidStatusDuplicate {
		t.Fatalf("重放状态 = %s, 期望 DUPLICATE", replay.Status)
	}
	if replay.BidNo != first.BidNo {
		t.Errorf("重放应返回原竞价单号: %s != %s", replay.BidNo, first.BidNo)
	}

	// 重放绝不二次扣款、二次累加
	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 600 {
		t.Errorf("重放后余额 = %d, 期望 600", balance)
	}

	entry, err := repository.NewPartyMediaRepository(db).GetByPartyAndMedia(ctx, party.ID, "media-a")
	if err != nil {
		t.Fatalf("查条目失败: %v", err)
	}
	if entry.Aggregate != 400 {
		t.Errorf("重放后聚合额 = %d, 期望 400", entry.Aggregate)
	}

	_, total, _ := bidSvc.ListUserBids(ctx, 1, 1, 10)
	if total != 1 {
		t.Errorf("竞价记录数 = %d, 期望 1", total)
	}
}

func TestPlaceBidRollups(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)
	queueSvc := NewQueueService(db, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 1000)
	fundAccount(t, ledger, 2, 1000)

	placeBid(t, bidSvc, "req-1", 1, party.ID, "media-a", 300, model.BidScopeParty)
	placeBid(t, bidSvc, "req-2", 2, party.ID, "media-a", 500, model.BidScopeParty)
	// global 范围：进全局聚合，不进派对队列
	placeBid(t, bidSvc, "req-3", 1, party.ID, "media-a", 200, model.BidScopeGlobal)

	entry, _ := repository.NewPartyMediaRepository(db).GetByPartyAndMedia(ctx, party.ID, "media-a")
	if entry.Aggregate != 800 {
		t.Errorf("派对聚合额 = %d, 期望 800（global 范围不计入）", entry.Aggregate)
	}
	if entry.TopBid != 500 {
		t.Errorf("派对单笔最高 = %d, 期望 500", entry.TopBid)
	}

	rollup, _ := queueSvc.MediaRollup(ctx, "media-a")
	if rollup == nil || rollup.Aggregate != 1000 {
		t.Errorf("全局聚合额期望 1000, 得到 %+v", rollup)
	}

	userTotal, _ := queueSvc.UserMediaTotal(ctx, 1, "media-a")
	if userTotal == nil || userTotal.Aggregate != 500 {
		t.Errorf("用户聚合额期望 500, 得到 %+v", userTotal)
	}
	if userTotal != nil && userTotal.TopBid != 300 {
		t.Errorf("用户单笔最高期望 300, 得到 %d", userTotal.TopBid)
	}
}

func TestPlaceBidOnEndedParty(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 1000)
	if err := partySvc.End(ctx, party.ID); err != nil {
		t.Fatalf("结束派对失败: %v", err)
	}

	_, err := bidSvc.PlaceBid(ctx, &PlaceBidRequest{
		RequestID: "req-1", UserID: 1, PartyID: party.ID,
		MediaID: "media-a", Amount: 100, Scope: model.BidScopeParty,
	})
	if !errors.Is(err, repository.ErrPartyEnded) {
		t.Fatalf("期望 ErrPartyEnded, 得到 %v", err)
	}

	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 1000 {
		t.Errorf("被拒后余额 = %d, 期望 1000", balance)
	}
}

func TestPlaceBidOnScheduledParty(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	// 未开始的派对允许提前出价攒队列
	party, err := partySvc.CreateParty(ctx, &CreatePartyRequest{
		Name: "还没开始的派对", HostID: 7, ScheduledAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("建派对失败: %v", err)
	}
	fundAccount(t, ledger, 1, 1000)

	resp := placeBid(t, bidSvc, "req-1", 1, party.ID, "media-a", 100, model.BidScopeParty)
	if resp.Status != BidStatusAccepted {
		t.Fatalf("提前出价状态 = %s", resp.Status)
	}
}

func TestPlaceBidRejectsInvalid(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)
	party := seedActiveParty(t, partySvc)

	cases := []*PlaceBidRequest{
		{RequestID: "r1", UserID: 1, PartyID: party.ID, MediaID: "m", Amount: 0, Scope: model.BidScopeParty},
		{RequestID: "r2", UserID: 1, PartyID: party.ID, MediaID: "m", Amount: -100, Scope: model.BidScopeParty},
		{RequestID: "r3", UserID: 1, PartyID: party.ID, MediaID: "m", Amount: 100, Scope: "everywhere"},
	}
	for _, req := range cases {
		if _, err := bidSvc.PlaceBid(ctx, req); !errors.Is(err, repository.ErrInvalidBid) {
			t.Errorf("请求 %s 期望 ErrInvalidBid, 得到 %v", req.RequestID, err)
		}
	}
}

func TestHighValueBidWritesNotification(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 50000)

	placeBid(t, bidSvc, "req-high", 1, party.ID, "media-a", cfg.Business.HighValueBidPence, model.BidScopeParty)

	var countByTopic = func(topic string) int64 {
		var n int64
		db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&n)
		return n
	}

	if n := countByTopic(cfg.Kafka.Topic.BidResult); n != 1 {
		t.Errorf("竞价结果消息数 = %d, 期望 1", n)
	}
	if n := countByTopic(cfg.Kafka.Topic.Notification); n != 1 {
		t.Errorf("高额通知消息数 = %d, 期望 1", n)
	}
}

func TestPlaceBidBalanceInvariantUnderSequence(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 250)

	// 10 笔 100 便士的出价只有 2 笔能成功，余额任何时刻不为负
	accepted := 0
	for i := 0; i < 10; i++ {
		_, err := bidSvc.PlaceBid(ctx, &PlaceBidRequest{
			RequestID: fmt.Sprintf("req-%d", i), UserID: 1, PartyID: party.ID,
			MediaID: "media-a", Amount: 100, Scope: model.BidScopeParty,
		})
		if err == nil {
			accepted++
		} else if !errors.Is(err, repository.ErrBalanceNotEnough) {
			t.Fatalf("意外错误: %v", err)
		}
	}

	if accepted != 2 {
		t.Errorf("成功出价数 = %d, 期望 2", accepted)
	}
	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 50 {
		t.Errorf("最终余额 = %d, 期望 50", balance)
	}
	if balance < 0 {
		t.Fatal("余额为负，不变量被破坏")
	}
}
