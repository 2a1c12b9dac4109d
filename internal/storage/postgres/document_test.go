package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/stylesync/internal/document"
	pgstore "github.com/cory-johannsen/stylesync/internal/storage/postgres"
	"github.com/cory-johannsen/stylesync/internal/testutil"
)

func newRepo(t *testing.T) *pgstore.DocumentRepository {
	t.Helper()
	return pgstore.NewDocumentRepository(testutil.NewPool(t).DB())
}

func roomDoc(roomID, base, class string) document.RoomDocument {
	return document.RoomDocument{
		RoomID:           roomID,
		CurrentVersionID: base,
		AtomicDoc:        document.AtomicDoc{ComponentID: "component-hero", ClassName: class},
		PageDoc: document.PageDoc{
			PageID:    "home",
			Overrides: []document.PageOverride{{InstanceID: "hero-1", NodeID: "title", ClassName: "text-xl"}},
		},
	}
}

func TestDocumentRepository_LoadCurrentNotFound(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.LoadCurrent(context.Background(), "missing")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDocumentRepository_PutAndLoad(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	d := roomDoc("demo-room", "seed", "p-4")
	require.NoError(t, repo.PutCurrent(ctx, d))

	got, err := repo.LoadCurrent(ctx, "demo-room")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	d.AtomicDoc.ClassName = "p-8"
	require.NoError(t, repo.PutCurrent(ctx, d))
	got, err = repo.LoadCurrent(ctx, "demo-room")
	require.NoError(t, err)
	assert.Equal(t, "p-8", got.AtomicDoc.ClassName)
}

func TestDocumentRepository_PutCurrentRejectsInvalid(t *testing.T) {
	repo := newRepo(t)
	assert.Error(t, repo.PutCurrent(context.Background(), document.RoomDocument{RoomID: "x"}))
}

func TestDocumentRepository_EmptyOverridesLoadAsEmptySlice(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	d := roomDoc("r", "", "")
	d.PageDoc.Overrides = nil
	require.NoError(t, repo.PutCurrent(ctx, d))

	got, err := repo.LoadCurrent(ctx, "r")
	require.NoError(t, err)
	assert.NotNil(t, got.PageDoc.Overrides)
	assert.Empty(t, got.PageDoc.Overrides)
}

func TestDocumentRepository_LoadAllOrdered(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	for _, id := range []string{"room-b", "room-a", "room-c"} {
		require.NoError(t, repo.PutCurrent(ctx, roomDoc(id, "", "")))
	}

	all, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"room-a", "room-b", "room-c"}, []string{all[0].RoomID, all[1].RoomID, all[2].RoomID})
}

func TestDocumentRepository_SaveVersionChain(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	v1, err := repo.SaveVersion(ctx, roomDoc("demo-room", "", "p-1"), "client-a")
	require.NoError(t, err)
	assert.NotEmpty(t, v1.VersionID)
	assert.Empty(t, v1.ParentVersionID)

	v2, err := repo.SaveVersion(ctx, roomDoc("demo-room", v1.VersionID, "p-2"), "client-b")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, v2.ParentVersionID)
	assert.Greater(t, v2.VersionID, v1.VersionID)

	current, err := repo.LoadCurrent(ctx, "demo-room")
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, current.CurrentVersionID)
	assert.Equal(t, "p-2", current.AtomicDoc.ClassName)

	versions, err := repo.ListVersions(ctx, "demo-room", 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v2.VersionID, versions[0].VersionID)
	assert.Equal(t, v1.VersionID, versions[1].VersionID)
	assert.Equal(t, "client-b", versions[0].AuthorClientID)

	limited, err := repo.ListVersions(ctx, "demo-room", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := repo.GetVersion(ctx, "demo-room", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.AtomicDoc.ClassName)
	assert.Equal(t, "client-a", got.AuthorClientID)
}

func TestDocumentRepository_SaveVersionConflict(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	v1, err := repo.SaveVersion(ctx, roomDoc("demo-room", "", "p-1"), "a")
	require.NoError(t, err)

	_, err = repo.SaveVersion(ctx, roomDoc("demo-room", "", "stale"), "b")
	assert.ErrorIs(t, err, document.ErrVersionConflict)

	_, err = repo.SaveVersion(ctx, roomDoc("demo-room", v1.VersionID, "p-2"), "b")
	require.NoError(t, err)

	_, err = repo.SaveVersion(ctx, roomDoc("demo-room", v1.VersionID, "stale"), "c")
	assert.ErrorIs(t, err, document.ErrVersionConflict)

	versions, err := repo.ListVersions(ctx, "demo-room", 10)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestDocumentRepository_SaveVersionRequiresAuthor(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.SaveVersion(context.Background(), roomDoc("demo-room", "", ""), "")
	assert.Error(t, err)
}

func saveConcurrently(t *testing.T, repo *pgstore.DocumentRepository, base string) {
	t.Helper()
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.SaveVersion(context.Background(), roomDoc("demo-room", base, "edit"), "writer")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, document.ErrVersionConflict)
	}
	assert.Equal(t, 1, ok)
}

func TestDocumentRepository_ConcurrentSavesOneWins(t *testing.T) {
	repo := newRepo(t)
	base, err := repo.SaveVersion(context.Background(), roomDoc("demo-room", "", "base"), "seed")
	require.NoError(t, err)
	saveConcurrently(t, repo, base.VersionID)
}

func TestDocumentRepository_ConcurrentFirstSavesOneWins(t *testing.T) {
	repo := newRepo(t)
	saveConcurrently(t, repo, "")

	versions, err := repo.ListVersions(context.Background(), "demo-room", 0)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestDocumentRepository_GetVersionNotFound(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	v, err := repo.SaveVersion(ctx, roomDoc("demo-room", "", ""), "a")
	require.NoError(t, err)

	_, err = repo.GetVersion(ctx, "other-room", v.VersionID)
	assert.ErrorIs(t, err, document.ErrVersionNotFound)
	_, err = repo.GetVersion(ctx, "demo-room", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.ErrorIs(t, err, document.ErrVersionNotFound)
}

func TestDocumentRepository_ListVersionsEmptyRoom(t *testing.T) {
	repo := newRepo(t)
	versions, err := repo.ListVersions(context.Background(), "nobody", 5)
	require.NoError(t, err)
	assert.NotNil(t, versions)
	assert.Empty(t, versions)
}
