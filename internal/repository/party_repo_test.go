package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"bidparty/internal/model"
)

func seedParty(t *testing.T, repo *PartyRepository, status string) *model.Party {
	t.Helper()
	party := &model.Party{
		Name:          "周五竞价夜",
		HostID:        7,
		Status:        status,
		PlaybackState: model.PlaybackStatePaused,
		ScheduledAt:   time.Now(),
	}
	if err := repo.Create(context.Background(), party); err != nil {
		t.Fatalf("建派对失败: %v", err)
	}
	return party
}

func TestPartyStatusTransition(t *testing.T) {
	db := newTestDB(t)
	repo := NewPartyRepository(db)
	ctx := context.Background()

	party := seedParty(t, repo, model.PartyStatusScheduled)

	if err := repo.UpdateStatus(ctx, nil, party.ID, model.PartyStatusScheduled, model.PartyStatusActive); err != nil {
		t.Fatalf("SCHEDULED -> ACTIVE 失败: %v", err)
	}

	got, _ := repo.GetByID(ctx, party.ID)
	if got.Status != model.PartyStatusActive {
		t.Errorf("状态 = %s, 期望 ACTIVE", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("开始后 started_at 应有值")
	}

	// 条件不匹配的迁移必须失败
	err := repo.UpdateStatus(ctx, nil, party.ID, model.PartyStatusScheduled, model.PartyStatusActive)
	if !errors.Is(err, ErrPartyStatusInvalid) {
		t.Fatalf("重复开始期望 ErrPartyStatusInvalid, 得到 %v", err)
	}
}

func TestPartyEndClearsPlayingPointer(t *testing.T) {
	db := newTestDB(t)
	repo := NewPartyRepository(db)
	ctx := context.Background()

	party := seedParty(t, repo, model.PartyStatusScheduled)
	repo.UpdateStatus(ctx, nil, party.ID, model.PartyStatusScheduled, model.PartyStatusActive)

	mediaID := "media-a"
	if err := repo.SetPlayback(ctx, nil, party.ID, model.PlaybackStatePlaying, &mediaID); err != nil {
		t.Fatalf("设置播放状态失败: %v", err)
	}

	if err := repo.UpdateStatus(ctx, nil, party.ID, model.PartyStatusActive, model.PartyStatusEnded); err != nil {
		t.Fatalf("结束派对失败: %v", err)
	}

	got, _ := repo.GetByID(ctx, party.ID)
	if got.CurrentMediaID != nil {
		t.Error("结束后 current_media_id 应被清空")
	}
	if got.EndedAt == nil {
		t.Error("结束后 ended_at 应有值")
	}
}

func TestSetPlaybackRequiresActive(t *testing.T) {
	db := newTestDB(t)
	repo := NewPartyRepository(db)
	ctx := context.Background()

	party := seedParty(t, repo, model.PartyStatusScheduled)

	err := repo.SetPlayback(ctx, nil, party.ID, model.PlaybackStatePlaying, nil)
	if !errors.Is(err, ErrPartyStatusInvalid) {
		t.Fatalf("未开始的派对设置播放状态期望 ErrPartyStatusInvalid, 得到 %v", err)
	}
}

func TestSetHostOverwrites(t *testing.T) {
	db := newTestDB(t)
	repo := NewPartyRepository(db)
	ctx := context.Background()

	party := seedParty(t, repo, model.PartyStatusActive)

	if err := repo.SetHost(ctx, party.ID, 99); err != nil {
		t.Fatalf("换主持人失败: %v", err)
	}

	got, _ := repo.GetByID(ctx, party.ID)
	if got.HostID != 99 {
		t.Errorf("host_id = %d, 期望 99（后写覆盖）", got.HostID)
	}
}

func TestSetHostRejectsEndedParty(t *testing.T) {
	db := newTestDB(t)
	repo := NewPartyRepository(db)
	ctx := context.Background()

	party := seedParty(t, repo, model.PartyStatusEnded)

	err := repo.SetHost(ctx, party.ID, 99)
	if !errors.Is(err, ErrPartyEnded) {
		t.Fatalf("期望 ErrPartyEnded, 得到 %v", err)
	}
}

func TestGetDueScheduled(t *testing.T) {
	db := newTestDB(t)
	repo := NewPartyRepository(db)
	ctx := context.Background()

	due := &model.Party{
		Name: "到点的派对", HostID: 7,
		Status: model.PartyStatusScheduled, PlaybackState: model.PlaybackStatePaused,
		ScheduledAt: time.Now().Add(-time.Minute),
	}
	future := &model.Party{
		Name: "未到点的派对", HostID: 7,
		Status: model.PartyStatusScheduled, PlaybackState: model.PlaybackStatePaused,
		ScheduledAt: time.Now().Add(time.Hour),
	}
	repo.Create(ctx, due)
	repo.Create(ctx, future)

	parties, err := repo.GetDueScheduled(ctx, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(parties) != 1 || parties[0].ID != due.ID {
		t.Fatalf("期望只返回到点的派对, 得到 %d 个", len(parties))
	}
}
