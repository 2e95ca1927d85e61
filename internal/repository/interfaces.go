// Package repository defines data access interfaces for retrovue entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/retrovue/retrovue/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetBySlug retrieves a channel by slug.
	GetBySlug(ctx context.Context, slug string) (*models.Channel, error)
	// GetAll retrieves all channels.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetEnabled retrieves all enabled channels.
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// MediaRepository defines operations for media item persistence.
type MediaRepository interface {
	// Create creates a new media item.
	Create(ctx context.Context, item *models.MediaItem) error
	// Upsert creates or updates a media item keyed by file path.
	Upsert(ctx context.Context, item *models.MediaItem) error
	// GetByID retrieves a media item by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error)
	// GetByPath retrieves a media item by file path.
	GetByPath(ctx context.Context, path string) (*models.MediaItem, error)
	// GetAll retrieves all media items.
	GetAll(ctx context.Context) ([]*models.MediaItem, error)
	// Delete deletes a media item by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteMissing deletes items under a library folder whose paths are not
	// in keep, returning the number removed.
	DeleteMissing(ctx context.Context, folderID models.ULID, keep []string) (int64, error)
	// Count returns the total number of media items.
	Count(ctx context.Context) (int64, error)
}

// BucketRepository defines operations for bucket persistence.
type BucketRepository interface {
	// Create creates a new bucket.
	Create(ctx context.Context, bucket *models.Bucket) error
	// GetByID retrieves a bucket by ID with its media preloaded in position
	// order.
	GetByID(ctx context.Context, id models.ULID) (*models.Bucket, error)
	// GetByName retrieves a bucket by name.
	GetByName(ctx context.Context, name string) (*models.Bucket, error)
	// GetAll retrieves all buckets.
	GetAll(ctx context.Context) ([]*models.Bucket, error)
	// Update updates an existing bucket.
	Update(ctx context.Context, bucket *models.Bucket) error
	// Delete deletes a bucket and its membership rows.
	Delete(ctx context.Context, id models.ULID) error
	// AddMedia appends a media item at the end of the bucket's ordering.
	AddMedia(ctx context.Context, bucketID, mediaItemID models.ULID) error
	// RemoveMedia removes a media item from a bucket.
	RemoveMedia(ctx context.Context, bucketID, mediaItemID models.ULID) error
	// GetChannelBuckets retrieves a channel's fallback bucket links ordered
	// by priority.
	GetChannelBuckets(ctx context.Context, channelID models.ULID) ([]*models.ChannelBucket, error)
	// LinkChannel links a bucket to a channel's fallback rotation.
	LinkChannel(ctx context.Context, channelID, bucketID models.ULID, priority int) error
	// UnlinkChannel removes a bucket from a channel's fallback rotation.
	UnlinkChannel(ctx context.Context, channelID, bucketID models.ULID) error
}

// ScheduleBlockRepository defines operations for schedule block persistence.
type ScheduleBlockRepository interface {
	// Create creates a new schedule block.
	Create(ctx context.Context, block *models.ScheduleBlock) error
	// GetByID retrieves a schedule block by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.ScheduleBlock, error)
	// GetByChannelID retrieves all blocks for a channel with buckets and
	// their media preloaded.
	GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.ScheduleBlock, error)
	// Update updates an existing schedule block.
	Update(ctx context.Context, block *models.ScheduleBlock) error
	// Delete deletes a schedule block by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// EPGRepository defines operations for the persisted EPG cache.
type EPGRepository interface {
	// ReplaceChannelEntries atomically replaces a channel's cached entries.
	ReplaceChannelEntries(ctx context.Context, channelID models.ULID, entries []*models.EPGEntry) error
	// GetChannelEntries retrieves a channel's cached entries overlapping
	// [from, to), ordered by start time.
	GetChannelEntries(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.EPGEntry, error)
	// DeleteBefore removes entries that stopped before the cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingRepository defines operations for key/value settings.
type SettingRepository interface {
	// Get retrieves a setting value, returning ok=false when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set creates or updates a setting.
	Set(ctx context.Context, key, value string) error
	// Delete removes a setting.
	Delete(ctx context.Context, key string) error
}

// LibraryFolderRepository defines operations for library folder persistence.
type LibraryFolderRepository interface {
	// Create creates a new library folder.
	Create(ctx context.Context, folder *models.LibraryFolder) error
	// GetByID retrieves a library folder by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.LibraryFolder, error)
	// GetByPath retrieves a library folder by path.
	GetByPath(ctx context.Context, path string) (*models.LibraryFolder, error)
	// GetAll retrieves all library folders.
	GetAll(ctx context.Context) ([]*models.LibraryFolder, error)
	// GetEnabled retrieves all enabled library folders.
	GetEnabled(ctx context.Context) ([]*models.LibraryFolder, error)
	// Update updates an existing library folder.
	Update(ctx context.Context, folder *models.LibraryFolder) error
	// Delete deletes a library folder by ID.
	Delete(ctx context.Context, id models.ULID) error
	// UpdateScanResult records a completed scan.
	UpdateScanResult(ctx context.Context, id models.ULID, scannedAt time.Time, fileCount int) error
}
