package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/stylesync/internal/config"
	"github.com/cory-johannsen/stylesync/internal/document"
	"github.com/cory-johannsen/stylesync/internal/protocol"
	"github.com/cory-johannsen/stylesync/internal/realtime"
	"github.com/cory-johannsen/stylesync/internal/storage/cache"
	"github.com/cory-johannsen/stylesync/internal/storage/memory"
)

var _ realtime.DocumentSource = (*cache.Cache)(nil)

func roomDoc(roomID, class string) document.RoomDocument {
	return document.RoomDocument{
		RoomID:           roomID,
		CurrentVersionID: "v1",
		AtomicDoc:        document.AtomicDoc{ComponentID: "component-hero", ClassName: class},
		PageDoc:          document.PageDoc{PageID: "home", Overrides: []document.PageOverride{}},
	}
}

// countingLoader wraps a memory store, counts LoadCurrent calls, and can
// delay them to stand in for a slow backing store.
type countingLoader struct {
	*memory.Store
	loads   atomic.Int32
	delay   time.Duration
	failAll atomic.Bool
}

func (l *countingLoader) LoadCurrent(ctx context.Context, roomID string) (document.RoomDocument, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return document.RoomDocument{}, ctx.Err()
		}
	}
	return l.Store.LoadCurrent(ctx, roomID)
}

func (l *countingLoader) LoadAll(ctx context.Context) ([]document.RoomDocument, error) {
	if l.failAll.Load() {
		return nil, errors.New("store unavailable")
	}
	return l.Store.LoadAll(ctx)
}

func newLoader(t *testing.T, docs ...document.RoomDocument) *countingLoader {
	t.Helper()
	s, err := memory.NewStore(docs...)
	require.NoError(t, err)
	return &countingLoader{Store: s}
}

func testConfig() config.StoreConfig {
	return config.StoreConfig{LoadTimeout: 250 * time.Millisecond}
}

func eventuallyCached(t *testing.T, c *cache.Cache, roomID string) document.RoomDocument {
	t.Helper()
	var got document.RoomDocument
	require.Eventually(t, func() bool {
		d, err := c.CurrentRoomDoc(roomID)
		got = d
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "room %s never became readable", roomID)
	return got
}

func TestCache_MissReportsNotFoundThenLoadsInBackground(t *testing.T) {
	l := newLoader(t, roomDoc("demo-room", "p-4"))
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))

	_, err := c.CurrentRoomDoc("demo-room")
	assert.ErrorIs(t, err, document.ErrNotFound)

	d := eventuallyCached(t, c, "demo-room")
	assert.Equal(t, "p-4", d.AtomicDoc.ClassName)
	assert.Equal(t, int32(1), l.loads.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_HitDoesNotTouchStore(t *testing.T) {
	l := newLoader(t, roomDoc("demo-room", "p-4"))
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, c.Refresh(context.Background()))

	for i := 0; i < 10; i++ {
		_, err := c.CurrentRoomDoc("demo-room")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(0), l.loads.Load())
}

func TestCache_NotFoundIsNotCached(t *testing.T) {
	l := newLoader(t)
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))

	err := c.Load(context.Background(), "later-room")
	assert.ErrorIs(t, err, document.ErrNotFound)
	assert.Equal(t, 0, c.Len())

	require.NoError(t, l.PutCurrent(context.Background(), roomDoc("later-room", "x")))
	d := eventuallyCached(t, c, "later-room")
	assert.Equal(t, "x", d.AtomicDoc.ClassName)
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	l := newLoader(t, roomDoc("demo-room", "p-4"))
	l.delay = 50 * time.Millisecond
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))

	for i := 0; i < 20; i++ {
		_, err := c.CurrentRoomDoc("demo-room")
		assert.ErrorIs(t, err, document.ErrNotFound)
	}
	eventuallyCached(t, c, "demo-room")
	assert.Equal(t, int32(1), l.loads.Load())
}

func TestCache_PendingLoadsAreCapped(t *testing.T) {
	l := newLoader(t)
	l.delay = 100 * time.Millisecond
	c := cache.New(l, config.StoreConfig{LoadTimeout: time.Second}, zaptest.NewLogger(t))

	for i := 0; i < cache.MaxPendingLoads*4; i++ {
		_, _ = c.CurrentRoomDoc(fmt.Sprintf("missing-%d", i))
	}
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, l.loads.Load(), int32(cache.MaxPendingLoads))
}

// blockingLoader never answers until its context is done.
type blockingLoader struct{}

func (blockingLoader) LoadCurrent(ctx context.Context, _ string) (document.RoomDocument, error) {
	<-ctx.Done()
	return document.RoomDocument{}, ctx.Err()
}

func (blockingLoader) LoadAll(ctx context.Context) ([]document.RoomDocument, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCache_LoadIsBoundedByLoadTimeout(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := config.StoreConfig{LoadTimeout: 20 * time.Millisecond}
	c := cache.New(blockingLoader{}, cfg, zap.New(core))

	start := time.Now()
	err := c.Load(context.Background(), "demo-room")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, logs.FilterMessage("loading room").Len())
}

func TestCache_MissNeverWaitsForStore(t *testing.T) {
	c := cache.New(blockingLoader{}, config.StoreConfig{LoadTimeout: time.Second}, zaptest.NewLogger(t))

	start := time.Now()
	_, err := c.CurrentRoomDoc("demo-room")
	assert.ErrorIs(t, err, document.ErrNotFound)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCache_UnknownRoomJoinsDoNotStallCachedRooms(t *testing.T) {
	l := newLoader(t, roomDoc("demo-room", "p-4"))
	l.delay = 200 * time.Millisecond
	c := cache.New(l, config.StoreConfig{LoadTimeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, c.Refresh(context.Background()))

	d := realtime.New(c)
	require.NoError(t, d.RegisterConnection("flooder", realtime.SenderFunc(func(protocol.ServerMessage) {})))
	var victimGotDoc atomic.Bool
	require.NoError(t, d.RegisterConnection("victim", realtime.SenderFunc(func(msg protocol.ServerMessage) {
		if _, ok := msg.(protocol.Doc); ok {
			victimGotDoc.Store(true)
		}
	})))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			d.Dispatch("flooder", protocol.Join{RoomID: fmt.Sprintf("nope-%d", i), ClientID: "flooder"})
		}
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	d.Dispatch("victim", protocol.Join{RoomID: "demo-room", ClientID: "victim"})
	elapsed := time.Since(start)
	close(stop)
	wg.Wait()

	assert.True(t, victimGotDoc.Load())
	assert.Less(t, elapsed, 100*time.Millisecond, "join to a cached room waited on the store")
}

func TestCache_SnapshotsAreIsolated(t *testing.T) {
	d := roomDoc("demo-room", "p-4")
	d.PageDoc.Overrides = []document.PageOverride{{InstanceID: "i", NodeID: "n", ClassName: "a"}}
	c := cache.New(newLoader(t, d), testConfig(), zaptest.NewLogger(t))
	require.NoError(t, c.Refresh(context.Background()))

	got, err := c.CurrentRoomDoc("demo-room")
	require.NoError(t, err)
	got.PageDoc.Overrides[0].ClassName = "mutated"

	again, err := c.CurrentRoomDoc("demo-room")
	require.NoError(t, err)
	assert.Equal(t, "a", again.PageDoc.Overrides[0].ClassName)
}

func TestCache_PutAndInvalidate(t *testing.T) {
	l := newLoader(t, roomDoc("demo-room", "stored"))
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))

	c.Put(roomDoc("demo-room", "saved"))
	d, err := c.CurrentRoomDoc("demo-room")
	require.NoError(t, err)
	assert.Equal(t, "saved", d.AtomicDoc.ClassName)
	assert.Equal(t, int32(0), l.loads.Load())

	c.Invalidate("demo-room")
	d = eventuallyCached(t, c, "demo-room")
	assert.Equal(t, "stored", d.AtomicDoc.ClassName)
}

func TestCache_RefreshReplacesContents(t *testing.T) {
	l := newLoader(t, roomDoc("a", "1"), roomDoc("b", "1"))
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))
	c.Put(roomDoc("gone", "1"))

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 2, c.Len())

	_, err := c.CurrentRoomDoc("gone")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestCache_RefreshFailureKeepsContents(t *testing.T) {
	l := newLoader(t, roomDoc("a", "1"))
	c := cache.New(l, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, c.Refresh(context.Background()))

	l.failAll.Store(true)
	assert.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, 1, c.Len())
}

func TestCache_RunRefreshesUntilCancelled(t *testing.T) {
	l := newLoader(t, roomDoc("a", "1"))
	cfg := testConfig()
	cfg.RefreshInterval = 10 * time.Millisecond
	c := cache.New(l, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, l.PutCurrent(context.Background(), roomDoc("b", "1")))
	require.Eventually(t, func() bool { return c.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCache_RunWithoutIntervalWaitsForCancel(t *testing.T) {
	c := cache.New(newLoader(t, roomDoc("a", "1")), testConfig(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := cache.New(newLoader(t, roomDoc("a", "1")), testConfig(), zaptest.NewLogger(t))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := c.CurrentRoomDoc("a")
				if err != nil {
					assert.ErrorIs(t, err, document.ErrNotFound)
				}
				if j%10 == 0 {
					c.Invalidate("a")
				}
			}
		}()
	}
	wg.Wait()
	eventuallyCached(t, c, "a")
}
