package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/stylesync/internal/document"
	redisstore "github.com/cory-johannsen/stylesync/internal/storage/redis"
	"github.com/cory-johannsen/stylesync/internal/testutil"
)

func roomDoc(roomID string) document.RoomDocument {
	return document.RoomDocument{
		RoomID:           roomID,
		CurrentVersionID: "v1",
		AtomicDoc:        document.AtomicDoc{ComponentID: "component-hero", ClassName: "p-4"},
		PageDoc: document.PageDoc{
			PageID:    "home",
			Overrides: []document.PageOverride{{InstanceID: "hero-1", NodeID: "title", ClassName: "text-xl"}},
		},
	}
}

func TestDocumentStore_LoadCurrentNotFound(t *testing.T) {
	s := redisstore.NewDocumentStore(testutil.NewRedisClient(t))
	_, err := s.LoadCurrent(context.Background(), "missing")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDocumentStore_PutLoadDelete(t *testing.T) {
	s := redisstore.NewDocumentStore(testutil.NewRedisClient(t))
	ctx := context.Background()

	require.NoError(t, s.PutCurrent(ctx, roomDoc("demo-room")))
	got, err := s.LoadCurrent(ctx, "demo-room")
	require.NoError(t, err)
	assert.Equal(t, roomDoc("demo-room"), got)

	require.NoError(t, s.Delete(ctx, "demo-room"))
	_, err = s.LoadCurrent(ctx, "demo-room")
	assert.ErrorIs(t, err, document.ErrNotFound)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDocumentStore_LoadAllSortedAndSkipsDangling(t *testing.T) {
	rdb := testutil.NewRedisClient(t)
	s := redisstore.NewDocumentStore(rdb)
	ctx := context.Background()

	for _, id := range []string{"room-c", "room-a", "room-b"} {
		require.NoError(t, s.PutCurrent(ctx, roomDoc(id)))
	}
	require.NoError(t, rdb.Del(ctx, "stylesync:room:room-b").Err())

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "room-a", all[0].RoomID)
	assert.Equal(t, "room-c", all[1].RoomID)
}

func TestDocumentStore_PutCurrentRejectsInvalid(t *testing.T) {
	s := redisstore.NewDocumentStore(testutil.NewRedisClient(t))
	assert.Error(t, s.PutCurrent(context.Background(), document.RoomDocument{RoomID: "x"}))
}

func TestDocumentStore_Health(t *testing.T) {
	s := redisstore.NewDocumentStore(testutil.NewRedisClient(t))
	assert.NoError(t, s.Health(context.Background()))
}
