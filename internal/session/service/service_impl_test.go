package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/session/domain"
	"github.com/smallbiznis/shopassist/internal/session/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&domain.Session{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(),
		Holder: config.NewStaticAssistantConfigHolder(config.DefaultAssistantConfig()),
		Clock:  clk,
	}).(*Service)
	return svc, clk
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	created, err := svc.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, created.Status)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.True(t, got.Active())
	assert.Nil(t, got.CompletedAt)

	_, err = svc.Get(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompleteHappensExactlyOnce(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "user-1")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	completed, err := svc.Complete(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.CompletedAt.Equal(clk.Now()))

	again, err := svc.Complete(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrNotActive)
	assert.True(t, again.CompletedAt.Equal(*completed.CompletedAt), "completed_at is not overwritten")

	_, err = svc.Complete(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAbandonIdle(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	idle, err := svc.Create(ctx, "idle")
	require.NoError(t, err)
	busy, err := svc.Create(ctx, "busy")
	require.NoError(t, err)
	done, err := svc.Create(ctx, "done")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, done.ID)
	require.NoError(t, err)

	clk.Advance(3 * time.Hour)
	require.NoError(t, svc.Touch(ctx, busy.ID))

	n, err := svc.AbandonIdle(ctx, clk.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := svc.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, got.Status)
	assert.Nil(t, got.CompletedAt)

	got, err = svc.Get(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	got, err = svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	_, err = svc.Complete(ctx, idle.ID)
	assert.ErrorIs(t, err, domain.ErrNotActive)
}
