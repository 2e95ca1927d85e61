package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.LibraryFolder{},
		&models.MediaItem{},
		&models.Channel{},
		&models.Bucket{},
		&models.BucketMedia{},
		&models.ChannelBucket{},
		&models.ScheduleBlock{},
		&models.EPGEntry{},
		&models.Setting{},
	)
	require.NoError(t, err)

	return db
}

func createTestChannel(t *testing.T, db *gorm.DB, slug string) *models.Channel {
	t.Helper()
	channel := &models.Channel{
		Name:            slug,
		Slug:            slug,
		Width:           1280,
		Height:          720,
		FPS:             30,
		VideoBitrate:    "2500k",
		AudioBitrate:    "128k",
		SegmentDuration: 4,
	}
	require.NoError(t, db.Create(channel).Error)
	return channel
}

func createTestMedia(t *testing.T, db *gorm.DB, path string, duration float64) *models.MediaItem {
	t.Helper()
	item := &models.MediaItem{
		FilePath:        path,
		DurationSeconds: duration,
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func createTestBucket(t *testing.T, db *gorm.DB, name string) *models.Bucket {
	t.Helper()
	bucket := &models.Bucket{
		Name: name,
		Kind: models.BucketKindGlobal,
	}
	require.NoError(t, db.Create(bucket).Error)
	return bucket
}
