package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/conversation/domain"
	"github.com/smallbiznis/shopassist/internal/conversation/repository"
	"github.com/smallbiznis/shopassist/pkg/db/pagination"
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
	require.NoError(t, db.AutoMigrate(&domain.Message{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Clock: clk}).(*Service), clk
}

func exchange(user, reply string) []domain.Turn {
	return []domain.Turn{
		{Role: domain.RoleUser, Content: user},
		{Role: domain.RoleAssistant, Content: reply, Intent: "view_cart"},
	}
}

func TestAppendAndRecent(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	for i, text := range []string{"one", "two", "three"} {
		clk.Advance(time.Second)
		_, err := svc.Append(ctx, 1, "", exchange(text, "reply "+text)...)
		require.NoError(t, err, i)
	}
	_, err := svc.Append(ctx, 2, "", exchange("other", "other reply")...)
	require.NoError(t, err)

	recent, err := svc.Recent(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "reply two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)
	assert.Equal(t, "reply three", recent[2].Content)

	_, err = svc.Append(ctx, 1, "", domain.Turn{Role: "robot", Content: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
	_, err = svc.Append(ctx, 1, "", domain.Turn{Role: domain.RoleUser, Content: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestIdempotencyKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reply, err := svc.FindReply(ctx, 1, "k1")
	require.NoError(t, err)
	assert.Nil(t, reply)

	_, err = svc.Append(ctx, 1, "k1", exchange("add a hat", "Added 1 x Hat")...)
	require.NoError(t, err)

	reply, err = svc.FindReply(ctx, 1, "k1")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "Added 1 x Hat", reply.Content)

	_, err = svc.Append(ctx, 1, "k1", exchange("add a hat", "Added 1 x Hat")...)
	assert.ErrorIs(t, err, domain.ErrDuplicateAppend)

	recent, err := svc.Recent(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2, "failed append stores nothing")

	_, err = svc.Append(ctx, 2, "k1", exchange("add a hat", "Added 1 x Hat")...)
	assert.NoError(t, err, "keys are scoped to a session")
}

func TestHistoryPagination(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		_, err := svc.Append(ctx, 1, "", exchange("q", "a")...)
		require.NoError(t, err)
	}

	page, err := svc.History(ctx, domain.HistoryRequest{SessionID: 1, Pagination: pagination.Pagination{PageSize: 4}})
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, domain.RoleUser, page.Messages[0].Role)
	assert.Equal(t, "2025-01-01T12:00:01Z", page.Messages[0].Timestamp)

	next, err := svc.History(ctx, domain.HistoryRequest{SessionID: 1, Pagination: pagination.Pagination{PageSize: 4, PageToken: page.PageInfo.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, next.Messages, 2)
	assert.False(t, next.PageInfo.HasMore)

	_, err = svc.History(ctx, domain.HistoryRequest{SessionID: 1, Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}
