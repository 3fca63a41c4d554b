package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"bidparty/internal/hub"
	"bidparty/internal/model"
	"bidparty/internal/repository"
)

func TestCreditRecordsJournal(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, rec := newTestBus()
	ctx := context.Background()

	ledger := NewLedgerService(db, cfg, bus)

	if err := ledger.Credit(ctx, 1, 500, "充值"); err != nil {
		t.Fatalf("入账失败: %v", err)
	}

	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 500 {
		t.Errorf("余额 = %d, 期望 500", balance)
	}

	// 每次入账一条流水，余额前后快照对得上
	transactions, total, err := ledger.ListTransactions(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("查流水失败: %v", err)
	}
	if total != 1 {
		t.Fatalf("流水数 = %d, 期望 1", total)
	}
	trans := transactions[0]
	if trans.Type != model.TransactionTypeCredit {
		t.Errorf("流水类型 = %s, 期望 CREDIT", trans.Type)
	}
	if trans.BalanceBefore != 0 || trans.BalanceAfter != 500 {
		t.Errorf("余额快照 = (%d, %d), 期望 (0, 500)", trans.BalanceBefore, trans.BalanceAfter)
	}

	// 提交后广播余额
	ev := rec.lastOfKind(hub.KindBalanceChanged)
	if ev == nil {
		t.Fatal("入账后应广播余额变动")
	}
	if got := ev.(hub.BalanceChangedEvent).NewBalance; got != 500 {
		t.Errorf("广播余额 = %d, 期望 500", got)
	}
}

// 并发入账时流水的前后值必须精确衔接，不允许两条流水
// 记下同一个 before（前后值在事务内回读，不来自事务外的快照）
func TestConcurrentCreditsJournalChains(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	// 单连接池把 sqlite 的写串行化，保留 goroutine 层面的交错
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("取底层连接池失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ledger := NewLedgerService(db, cfg, bus)
	if err := ledger.Credit(ctx, 1, 1, "开户"); err != nil {
		t.Fatalf("开户入账失败: %v", err)
	}

	amounts := []int64{100, 200, 300, 400}
	var wg sync.WaitGroup
	for _, amount := range amounts {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			if err := ledger.Credit(ctx, 1, amount, "并发入账"); err != nil {
				t.Errorf("Credit(%d) 失败: %v", amount, err)
			}
		}(amount)
	}
	wg.Wait()

	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 1001 {
		t.Fatalf("余额 = %d, 期望 1001", balance)
	}

	transactions, total, err := ledger.ListTransactions(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("查流水失败: %v", err)
	}
	if total != int64(len(amounts))+1 {
		t.Fatalf("流水数 = %d, 期望 %d", total, len(amounts)+1)
	}

	// 按 after 排序后必须形成一条 0 -> 1001 的链
	sort.Slice(transactions, func(i, j int) bool {
		return transactions[i].BalanceAfter < transactions[j].BalanceAfter
	})
	prev := int64(0)
	for _, trans := range transactions {
		if trans.BalanceBefore != prev {
			t.Fatalf("流水断链: before = %d, 期望 %d (amount=%d)",
				trans.BalanceBefore, prev, trans.Amount)
		}
		if trans.BalanceAfter != trans.BalanceBefore+trans.Amount {
			t.Fatalf("流水前后值不自洽: (%d, %d, %d)",
				trans.BalanceBefore, trans.Amount, trans.BalanceAfter)
		}
		prev = trans.BalanceAfter
	}
	if prev != 1001 {
		t.Fatalf("链尾余额 = %d, 期望 1001", prev)
	}
}

func TestCreditRejectsNonPositive(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()

	ledger := NewLedgerService(db, cfg, bus)

	for _, amount := range []int64{0, -50} {
		err := ledger.Credit(context.Background(), 1, amount, "测试")
		if !errors.Is(err, repository.ErrInvalidCredit) {
			t.Errorf("Credit(%d) 期望 ErrInvalidCredit, 得到 %v", amount, err)
		}
	}
}

func TestRefundCompensates(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()
	ctx := context.Background()

	partySvc := NewPartyService(db, cfg, bus)
	ledger := NewLedgerService(db, cfg, bus)
	bidSvc := NewBidService(db, nil, cfg, bus)

	party := seedActiveParty(t, partySvc)
	fundAccount(t, ledger, 1, 1000)
	resp := placeBid(t, bidSvc, "req-1", 1, party.ID, "media-a", 400, model.BidScopeParty)

	// 竞价记录不可变，撤销靠补偿退款
	if err := ledger.Refund(ctx, 1, 400, resp.BidNo, "运营补偿"); err != nil {
		t.Fatalf("退款失败: %v", err)
	}

	balance, _ := ledger.GetBalance(ctx, 1)
	if balance != 1000 {
		t.Errorf("退款后余额 = %d, 期望 1000", balance)
	}

	// 原竞价记录仍在
	_, total, _ := bidSvc.ListUserBids(ctx, 1, 1, 10)
	if total != 1 {
		t.Errorf("退款不应删除竞价记录, 记录数 = %d", total)
	}

	// 退款流水带原竞价单号
	trans, err := repository.NewTransactionRepository(db).GetByRefNo(ctx, resp.BidNo)
	if err != nil || trans == nil {
		t.Fatalf("按竞价单号查流水失败: %v", err)
	}
}

func TestRefundUnknownAccount(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()

	ledger := NewLedgerService(db, cfg, bus)

	err := ledger.Refund(context.Background(), 999, 100, "BID123", "测试")
	if !errors.Is(err, repository.ErrAccountNotFound) {
		t.Fatalf("期望 ErrAccountNotFound, 得到 %v", err)
	}
}

func TestGetBalanceUnknownUser(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	bus, _ := newTestBus()

	ledger := NewLedgerService(db, cfg, bus)

	// 没有账户视为零余额，不报错
	balance, err := ledger.GetBalance(context.Background(), 12345)
	if err != nil {
		t.Fatalf("查余额失败: %v", err)
	}
	if balance != 0 {
		t.Errorf("余额 = %d, 期望 0", balance)
	}
}
