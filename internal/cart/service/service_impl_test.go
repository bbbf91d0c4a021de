package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/shopassist/internal/cart/domain"
	"github.com/smallbiznis/shopassist/internal/cart/repository"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&domain.CartLine{}))
	return db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func newTestService(t *testing.T, db *gorm.DB, repo domain.Repository) (*Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  mustNode(t),
		Repo:   repo,
		Holder: config.NewStaticAssistantConfigHolder(config.DefaultAssistantConfig()),
		Clock:  clk,
	}).(*Service)
	return svc, clk
}

func TestUpsertDeltaKeepsOneLinePerProduct(t *testing.T) {
	db := openTestDB(t)
	svc, clk := newTestService(t, db, repository.Provide())
	ctx := context.Background()

	line, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 2, Mode: domain.ModeDelta})
	require.NoError(t, err)
	assert.Equal(t, int64(2), line.Quantity)
	addedAt := line.AddedAt

	clk.Advance(time.Minute)
	line, err = svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 1, Mode: domain.ModeDelta})
	require.NoError(t, err)
	assert.Equal(t, int64(3), line.Quantity)
	assert.Equal(t, int64(2), line.Version)
	assert.True(t, line.AddedAt.Equal(addedAt))
	assert.True(t, line.UpdatedAt.After(addedAt))

	lines, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	var count int64
	require.NoError(t, db.Model(&domain.CartLine{}).Where("session_id = ? AND product_id = ?", 1, 4).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertAbsolute(t *testing.T) {
	svc, _ := newTestService(t, openTestDB(t), repository.Provide())
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 5, Mode: domain.ModeAbsolute})
	assert.ErrorIs(t, err, domain.ErrLineNotFound)

	_, err = svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 2, Mode: domain.ModeDelta})
	require.NoError(t, err)

	line, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 7, Mode: domain.ModeAbsolute})
	require.NoError(t, err)
	assert.Equal(t, int64(7), line.Quantity)

	_, err = svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 0, Mode: domain.ModeAbsolute})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 1, Mode: "multiply"})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

type staleRepo struct {
	domain.Repository
}

func (r staleRepo) SetQuantity(context.Context, *gorm.DB, *domain.CartLine, int64, time.Time) (int64, error) {
	return 0, nil
}

func TestUpsertAbsoluteReportsLostRace(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestService(t, db, staleRepo{Repository: repository.Provide()})
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 2, Mode: domain.ModeDelta})
	require.NoError(t, err)

	_, err = svc.Upsert(ctx, domain.UpsertRequest{SessionID: 1, ProductID: 4, Quantity: 3, Mode: domain.ModeAbsolute})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestConcurrentDeltasAreNotLost(t *testing.T) {
	svc, _ := newTestService(t, openTestDB(t), repository.Provide())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 9, ProductID: 1, Quantity: 1, Mode: domain.ModeDelta})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := svc.Get(ctx, 9)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(10), lines[0].Quantity)
}

func TestRemoveAndArchive(t *testing.T) {
	svc, _ := newTestService(t, openTestDB(t), repository.Provide())
	ctx := context.Background()

	for _, pid := range []int64{1, 2, 3} {
		_, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 5, ProductID: pid, Quantity: 1, Mode: domain.ModeDelta})
		require.NoError(t, err)
	}
	_, err := svc.Upsert(ctx, domain.UpsertRequest{SessionID: 6, ProductID: 1, Quantity: 1, Mode: domain.ModeDelta})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, 5, 2))
	assert.ErrorIs(t, svc.Remove(ctx, 5, 2), domain.ErrLineNotFound)

	lines, err := svc.Get(ctx, 5)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.NotEqual(t, int64(2), l.ProductID)
	}

	sessions, err := svc.SessionsWithActiveLines(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, sessions)

	n, err := svc.Archive(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.Archive(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, n, "re-archiving is a no-op")

	lines, err = svc.Get(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, lines)

	archived, err := svc.Archived(ctx, 5)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.NotNil(t, archived[0].ArchivedAt)

	sessions, err = svc.SessionsWithActiveLines(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, sessions)
}
