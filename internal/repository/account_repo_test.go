package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAccountGetOrCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	account, err := repo.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("GetOrCreate 失败: %v", err)
	}
	if account.Balance != 0 {
		t.Errorf("新账户余额 = %d, 期望 0", account.Balance)
	}

	again, err := repo.GetOrCreate(ctx, 100)
	if err != nil {
		t.Fatalf("二次 GetOrCreate 失败: %v", err)
	}
	if again.ID != account.ID {
		t.Errorf("二次 GetOrCreate 应返回同一账户: %d != %d", again.ID, account.ID)
	}
}

func TestAccountCreditAndDebit(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	if _, err := repo.GetOrCreate(ctx, 100); err != nil {
		t.Fatalf("建账户失败: %v", err)
	}
	if err := repo.Credit(ctx, nil, 100, 1000); err != nil {
		t.Fatalf("入账失败: %v", err)
	}

	account, err := repo.GetByUserID(ctx, 100)
	if err != nil {
		t.Fatalf("查账户失败: %v", err)
	}
	if account.Balance != 1000 {
		t.Fatalf("入账后余额 = %d, 期望 1000", account.Balance)
	}

	if err := repo.Debit(ctx, nil, 100, 400, account.Version); err != nil {
		t.Fatalf("扣款失败: %v", err)
	}

	account, _ = repo.GetByUserID(ctx, 100)
	if account.Balance != 600 {
		t.Errorf("扣款后余额 = %d, 期望 600", account.Balance)
	}
}

func TestAccountDebitInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	repo.GetOrCreate(ctx, 100)
	repo.Credit(ctx, nil, 100, 300)
	account, _ := repo.GetByUserID(ctx, 100)

	err := repo.Debit(ctx, nil, 100, 500, account.Version)
	if !errors.Is(err, ErrBalanceNotEnough) {
		t.Fatalf("期望 ErrBalanceNotEnough, 得到 %v", err)
	}

	// 拒绝的扣款不能动余额
	account, _ = repo.GetByUserID(ctx, 100)
	if account.Balance != 300 {
		t.Errorf("拒绝后余额 = %d, 期望 300", account.Balance)
	}
}

func TestAccountDebitStaleVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	repo.GetOrCreate(ctx, 100)
	repo.Credit(ctx, nil, 100, 1000)
	account, _ := repo.GetByUserID(ctx, 100)
	staleVersion := account.Version

	if err := repo.Debit(ctx, nil, 100, 400, staleVersion); err != nil {
		t.Fatalf("首次扣款失败: %v", err)
	}

	// 同一版本号第二次扣款必须被乐观锁挡住
	err := repo.Debit(ctx, nil, 100, 400, staleVersion)
	if !errors.Is(err, ErrOptimisticLock) {
		t.Fatalf("期望 ErrOptimisticLock, 得到 %v", err)
	}

	account, _ = repo.GetByUserID(ctx, 100)
	if account.Balance != 600 {
		t.Errorf("冲突后余额 = %d, 期望 600", account.Balance)
	}
}

// 多 goroutine 并发扣款，压真实的条件扣款 + 乐观锁重试路径：
// 1000 便士最多承受 3 笔 300，任何交错下余额不为负
func TestAccountDebitConcurrentNeverNegative(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	// 单连接池把 sqlite 的写串行化，交错仍由 goroutine 调度决定
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("取底层连接池失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	repo.GetOrCreate(ctx, 100)
	if err := repo.Credit(ctx, nil, 100, 1000); err != nil {
		t.Fatalf("入账失败: %v", err)
	}

	const workers = 10
	const amount = int64(300)

	var accepted int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				account, err := repo.GetByUserID(ctx, 100)
				if err != nil {
					t.Errorf("读账户失败: %v", err)
					return
				}
				if account.Balance < amount {
					return
				}
				err = repo.Debit(ctx, nil, 100, amount, account.Version)
				if err == nil {
					atomic.AddInt64(&accepted, 1)
					return
				}
				if errors.Is(err, ErrBalanceNotEnough) {
					return
				}
				if !errors.Is(err, ErrOptimisticLock) {
					t.Errorf("扣款失败: %v", err)
					return
				}
				// 版本冲突，重读版本号再试
			}
		}()
	}
	wg.Wait()

	if accepted != 3 {
		t.Errorf("受理笔数 = %d, 期望 3", accepted)
	}

	account, err := repo.GetByUserID(ctx, 100)
	if err != nil {
		t.Fatalf("查账户失败: %v", err)
	}
	if account.Balance != 100 {
		t.Errorf("最终余额 = %d, 期望 100", account.Balance)
	}
}

func TestAccountCreditRejectsNonPositive(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	repo.GetOrCreate(ctx, 100)

	for _, amount := range []int64{0, -100} {
		if err := repo.Credit(ctx, nil, 100, amount); !errors.Is(err, ErrInvalidCredit) {
			t.Errorf("Credit(%d) 期望 ErrInvalidCredit, 得到 %v", amount, err)
		}
	}
}

func TestAccountCreditUnknownUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	err := repo.Credit(context.Background(), nil, 999, 100)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("期望 ErrAccountNotFound, 得到 %v", err)
	}
}
