package repository

import (
	"context"
	"testing"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketRepo_AddMedia_Ordering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBucketRepository(db)
	ctx := context.Background()

	bucket := createTestBucket(t, db, "cartoons")
	a := createTestMedia(t, db, "/media/a.mp4", 1320)
	b := createTestMedia(t, db, "/media/b.mp4", 1260)
	c := createTestMedia(t, db, "/media/c.mp4", 1410)

	require.NoError(t, repo.AddMedia(ctx, bucket.ID, a.ID))
	require.NoError(t, repo.AddMedia(ctx, bucket.ID, b.ID))
	require.NoError(t, repo.AddMedia(ctx, bucket.ID, c.ID))

	found, err := repo.GetByID(ctx, bucket.ID)
	require.NoError(t, err)
	require.Len(t, found.Media, 3)

	assert.Equal(t, a.ID, found.Media[0].MediaItemID)
	assert.Equal(t, b.ID, found.Media[1].MediaItemID)
	assert.Equal(t, c.ID, found.Media[2].MediaItemID)
	assert.Equal(t, []int{0, 1, 2}, []int{found.Media[0].Position, found.Media[1].Position, found.Media[2].Position})

	require.NotNil(t, found.Media[1].MediaItem)
	assert.Equal(t, "/media/b.mp4", found.Media[1].MediaItem.FilePath)
}

func TestBucketRepo_AddMedia_DuplicateRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBucketRepository(db)
	ctx := context.Background()

	bucket := createTestBucket(t, db, "movies")
	item := createTestMedia(t, db, "/media/movie.mp4", 5400)

	require.NoError(t, repo.AddMedia(ctx, bucket.ID, item.ID))
	assert.Error(t, repo.AddMedia(ctx, bucket.ID, item.ID))
}

func TestBucketRepo_RemoveMedia(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBucketRepository(db)
	ctx := context.Background()

	bucket := createTestBucket(t, db, "mix")
	a := createTestMedia(t, db, "/media/x.mp4", 100)
	b := createTestMedia(t, db, "/media/y.mp4", 200)
	require.NoError(t, repo.AddMedia(ctx, bucket.ID, a.ID))
	require.NoError(t, repo.AddMedia(ctx, bucket.ID, b.ID))

	require.NoError(t, repo.RemoveMedia(ctx, bucket.ID, a.ID))

	found, err := repo.GetByID(ctx, bucket.ID)
	require.NoError(t, err)
	require.Len(t, found.Media, 1)
	assert.Equal(t, b.ID, found.Media[0].MediaItemID)
}

func TestBucketRepo_Delete_CascadesLinksAndBlocks(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBucketRepository(db)
	ctx := context.Background()

	bucket := createTestBucket(t, db, "doomed")
	channel := createTestChannel(t, db, "test")
	item := createTestMedia(t, db, "/media/z.mp4", 60)

	require.NoError(t, repo.AddMedia(ctx, bucket.ID, item.ID))
	require.NoError(t, repo.LinkChannel(ctx, channel.ID, bucket.ID, 0))
	block := &models.ScheduleBlock{
		ChannelID:    channel.ID,
		BucketID:     bucket.ID,
		StartTime:    "00:00",
		EndTime:      "06:00",
		PlaybackMode: models.PlaybackModeSequential,
	}
	require.NoError(t, db.Create(block).Error)

	require.NoError(t, repo.Delete(ctx, bucket.ID))

	for _, model := range []any{&models.BucketMedia{}, &models.ChannelBucket{}, &models.ScheduleBlock{}} {
		var count int64
		require.NoError(t, db.Model(model).Where("bucket_id = ?", bucket.ID).Count(&count).Error)
		assert.Zero(t, count)
	}

	_, err := repo.GetByID(ctx, bucket.ID)
	assert.ErrorIs(t, err, models.ErrBucketNotFound)
}

func TestBucketRepo_GetChannelBuckets_PriorityOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBucketRepository(db)
	ctx := context.Background()

	channel := createTestChannel(t, db, "fallback")
	first := createTestBucket(t, db, "first")
	second := createTestBucket(t, db, "second")

	require.NoError(t, repo.LinkChannel(ctx, channel.ID, second.ID, 10))
	require.NoError(t, repo.LinkChannel(ctx, channel.ID, first.ID, 1))

	links, err := repo.GetChannelBuckets(ctx, channel.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, first.ID, links[0].BucketID)
	assert.Equal(t, second.ID, links[1].BucketID)
}
