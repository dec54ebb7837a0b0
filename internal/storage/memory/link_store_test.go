package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-validator/internal/links"
)

func TestLinkStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewLinkStore()
	ctx := context.Background()
	created := time.Unix(1700000000, 0).UTC()
	link := links.Link{
		ID:        "link-1",
		URL:       "https://example.com",
		Status:    links.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}

	require.NoError(t, store.Create(ctx, link))
	require.Error(t, store.Create(ctx, link), "duplicate id must be rejected")

	got, err := store.Get(ctx, "link-1")
	require.NoError(t, err)
	require.Equal(t, link, got)

	name := "docs"
	link.URL = "https://example.org"
	link.Name = &name
	link.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, store.Update(ctx, link))

	name = "mutated"
	got, err = store.Get(ctx, "link-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.org", got.URL)
	require.Equal(t, "docs", *got.Name, "store must keep its own copy")

	checked := created.Add(2 * time.Minute)
	require.NoError(t, store.RecordOutcome(ctx, "link-1", links.Outcome{Status: links.StatusBroken, CheckedAt: checked}))
	got, err = store.Get(ctx, "link-1")
	require.NoError(t, err)
	require.Equal(t, links.StatusBroken, got.Status)
	require.NotNil(t, got.LastChecked)
	require.True(t, got.LastChecked.Equal(checked))

	require.NoError(t, store.Delete(ctx, "link-1"))
	require.ErrorIs(t, store.Delete(ctx, "link-1"), links.ErrNotFound)
	_, err = store.Get(ctx, "link-1")
	require.ErrorIs(t, err, links.ErrNotFound)
}

func TestLinkStoreMissingRecords(t *testing.T) {
	t.Parallel()

	store := NewLinkStore()
	ctx := context.Background()

	require.ErrorIs(t, store.Update(ctx, links.Link{ID: "nope"}), links.ErrNotFound)
	require.ErrorIs(t, store.UpdateMetadata(ctx, links.Link{ID: "nope"}), links.ErrNotFound)
	err := store.RecordOutcome(ctx, "nope", links.Outcome{Status: links.StatusValidated, CheckedAt: time.Now()})
	require.ErrorIs(t, err, links.ErrNotFound)
}

func TestLinkStoreListAndCounts(t *testing.T) {
	t.Parallel()

	store := NewLinkStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	project := "0190f2b4-8c1e-7c3a-9b7e-2f1f4a1b2c3d"

	seed := []links.Link{
		{ID: "a", URL: "https://a.test", Status: links.StatusPending, CreatedAt: base, UpdatedAt: base},
		{ID: "b", URL: "https://b.test", Status: links.StatusValidated, CreatedAt: base.Add(time.Second), UpdatedAt: base},
		{ID: "c", URL: "https://c.test", Status: links.StatusPending, ProjectID: &project, CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(time.Hour)},
	}
	for _, l := range seed {
		require.NoError(t, store.Create(ctx, l))
	}

	all, err := store.List(ctx, links.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].ID)

	pending, err := store.List(ctx, links.ListFilter{Status: links.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byProject, err := store.List(ctx, links.ListFilter{ProjectID: project})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	require.Equal(t, "c", byProject[0].ID)

	paged, err := store.List(ctx, links.ListFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, "b", paged[0].ID)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[links.StatusPending])
	require.Equal(t, int64(1), counts[links.StatusValidated])
	require.Equal(t, int64(0), counts[links.StatusBroken])

	stale, err := store.ListStalePending(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "a", stale[0].ID)

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	counts, err = store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, counts.Total())
}

func TestLinkStoreUpdateMetadataKeepsOutcome(t *testing.T) {
	t.Parallel()

	store := NewLinkStore()
	ctx := context.Background()
	created := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.Create(ctx, links.Link{ID: "link-1", URL: "https://example.com", Status: links.StatusPending, CreatedAt: created}))

	snapshot, err := store.Get(ctx, "link-1")
	require.NoError(t, err)
	checked := created.Add(time.Minute)
	require.NoError(t, store.RecordOutcome(ctx, "link-1", links.Outcome{Status: links.StatusValidated, CheckedAt: checked}))

	name := "docs"
	snapshot.Name = &name
	snapshot.UpdatedAt = checked.Add(time.Second)
	require.NoError(t, store.UpdateMetadata(ctx, snapshot))

	got, err := store.Get(ctx, "link-1")
	require.NoError(t, err)
	require.Equal(t, links.StatusValidated, got.Status)
	require.NotNil(t, got.LastChecked)
	require.Equal(t, "docs", *got.Name)
	require.Equal(t, snapshot.UpdatedAt, got.UpdatedAt)
}
