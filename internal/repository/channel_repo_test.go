package repository

import (
	"context"
	"testing"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := &models.Channel{
		Name:            "Retro Toons",
		Slug:            "retro-toons",
		Width:           1280,
		Height:          720,
		FPS:             30,
		VideoBitrate:    "2500k",
		AudioBitrate:    "128k",
		SegmentDuration: 4,
	}

	err := repo.Create(ctx, channel)
	require.NoError(t, err)
	assert.False(t, channel.ID.IsZero())

	found, err := repo.GetByID(ctx, channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "Retro Toons", found.Name)

	bySlug, err := repo.GetBySlug(ctx, "retro-toons")
	require.NoError(t, err)
	assert.Equal(t, channel.ID, bySlug.ID)
}

func TestChannelRepo_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)

	_, err := repo.GetByID(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, models.ErrChannelNotFound)
}

func TestChannelRepo_DuplicateSlug(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, db, "movies")

	dup := &models.Channel{
		Name:            "Movies Two",
		Slug:            "movies",
		Width:           1280,
		Height:          720,
		FPS:             30,
		SegmentDuration: 4,
	}
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, models.ErrDuplicateSlug)
}

func TestChannelRepo_GetEnabled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	createTestChannel(t, db, "on-air")
	off := createTestChannel(t, db, "off-air")
	off.Enabled = models.BoolPtr(false)
	require.NoError(t, repo.Update(ctx, off))

	enabled, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on-air", enabled[0].Slug)
}

func TestChannelRepo_Delete_CascadesBlocks(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	channel := createTestChannel(t, db, "cartoons")
	bucket := createTestBucket(t, db, "morning")
	block := &models.ScheduleBlock{
		ChannelID:    channel.ID,
		BucketID:     bucket.ID,
		StartTime:    "06:00",
		EndTime:      "12:00",
		PlaybackMode: models.PlaybackModeSequential,
	}
	require.NoError(t, db.Create(block).Error)

	require.NoError(t, repo.Delete(ctx, channel.ID))

	var count int64
	require.NoError(t, db.Model(&models.ScheduleBlock{}).Where("channel_id = ?", channel.ID).Count(&count).Error)
	assert.Zero(t, count)

	_, err := repo.GetByID(ctx, channel.ID)
	assert.ErrorIs(t, err, models.ErrChannelNotFound)
}
