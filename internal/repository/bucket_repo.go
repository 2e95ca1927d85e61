package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/retrovue/retrovue/internal/models"
	"gorm.io/gorm"
)

// bucketRepo implements BucketRepository using GORM.
type bucketRepo struct {
	db *gorm.DB
}

// NewBucketRepository creates a new BucketRepository.
func NewBucketRepository(db *gorm.DB) *bucketRepo {
	return &bucketRepo{db: db}
}

// preloadMedia orders bucket membership by position and attaches the media
// items themselves.
func preloadMedia(db *gorm.DB) *gorm.DB {
	return db.Preload("Media", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("bucket_media.position ASC")
	}).Preload("Media.MediaItem")
}

// Create creates a new bucket.
func (r *bucketRepo) Create(ctx context.Context, bucket *models.Bucket) error {
	if err := r.db.WithContext(ctx).Create(bucket).Error; err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	return nil
}

// GetByID retrieves a bucket by ID with its media preloaded in position order.
func (r *bucketRepo) GetByID(ctx context.Context, id models.ULID) (*models.Bucket, error) {
	var bucket models.Bucket
	if err := preloadMedia(r.db.WithContext(ctx)).Where("id = ?", id).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrBucketNotFound
		}
		return nil, fmt.Errorf("getting bucket by ID: %w", err)
	}
	return &bucket, nil
}

// GetByName retrieves a bucket by name.
func (r *bucketRepo) GetByName(ctx context.Context, name string) (*models.Bucket, error) {
	var bucket models.Bucket
	if err := preloadMedia(r.db.WithContext(ctx)).Where("name = ?", name).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrBucketNotFound
		}
		return nil, fmt.Errorf("getting bucket by name: %w", err)
	}
	return &bucket, nil
}

// GetAll retrieves all buckets.
func (r *bucketRepo) GetAll(ctx context.Context) ([]*models.Bucket, error) {
	var buckets []*models.Bucket
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("getting all buckets: %w", err)
	}
	return buckets, nil
}

// Update updates an existing bucket.
func (r *bucketRepo) Update(ctx context.Context, bucket *models.Bucket) error {
	if err := r.db.WithContext(ctx).Save(bucket).Error; err != nil {
		return fmt.Errorf("updating bucket: %w", err)
	}
	return nil
}

// Delete deletes a bucket along with its membership rows, channel links, and
// schedule blocks that referenced it.
func (r *bucketRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bucket_id = ?", id).Delete(&models.BucketMedia{}).Error; err != nil {
			return fmt.Errorf("deleting bucket media: %w", err)
		}
		if err := tx.Where("bucket_id = ?", id).Delete(&models.ChannelBucket{}).Error; err != nil {
			return fmt.Errorf("deleting channel bucket links: %w", err)
		}
		if err := tx.Where("bucket_id = ?", id).Delete(&models.ScheduleBlock{}).Error; err != nil {
			return fmt.Errorf("deleting schedule blocks: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Bucket{}).Error; err != nil {
			return fmt.Errorf("deleting bucket: %w", err)
		}
		return nil
	})
}

// AddMedia appends a media item at the end of the bucket's ordering.
func (r *bucketRepo) AddMedia(ctx context.Context, bucketID, mediaItemID models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos *int
		if err := tx.Model(&models.BucketMedia{}).
			Where("bucket_id = ?", bucketID).
			Select("MAX(position)").
			Scan(&maxPos).Error; err != nil {
			return fmt.Errorf("finding max position: %w", err)
		}
		pos := 0
		if maxPos != nil {
			pos = *maxPos + 1
		}
		bm := models.BucketMedia{
			BucketID:    bucketID,
			MediaItemID: mediaItemID,
			Position:    pos,
		}
		if err := tx.Create(&bm).Error; err != nil {
			return fmt.Errorf("adding media to bucket: %w", err)
		}
		return nil
	})
}

// RemoveMedia removes a media item from a bucket.
func (r *bucketRepo) RemoveMedia(ctx context.Context, bucketID, mediaItemID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Where("bucket_id = ? AND media_item_id = ?", bucketID, mediaItemID).
		Delete(&models.BucketMedia{}).Error; err != nil {
		return fmt.Errorf("removing media from bucket: %w", err)
	}
	return nil
}

// GetChannelBuckets retrieves a channel's fallback bucket links ordered by
// priority, with each bucket's media preloaded.
func (r *bucketRepo) GetChannelBuckets(ctx context.Context, channelID models.ULID) ([]*models.ChannelBucket, error) {
	var links []*models.ChannelBucket
	if err := r.db.WithContext(ctx).
		Preload("Bucket.Media", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("bucket_media.position ASC")
		}).
		Preload("Bucket.Media.MediaItem").
		Where("channel_id = ?", channelID).
		Order("priority ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("getting channel buckets: %w", err)
	}
	return links, nil
}

// LinkChannel links a bucket to a channel's fallback rotation.
func (r *bucketRepo) LinkChannel(ctx context.Context, channelID, bucketID models.ULID, priority int) error {
	link := models.ChannelBucket{
		ChannelID: channelID,
		BucketID:  bucketID,
		Priority:  priority,
	}
	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return fmt.Errorf("linking bucket to channel: %w", err)
	}
	return nil
}

// UnlinkChannel removes a bucket from a channel's fallback rotation.
func (r *bucketRepo) UnlinkChannel(ctx context.Context, channelID, bucketID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND bucket_id = ?", channelID, bucketID).
		Delete(&models.ChannelBucket{}).Error; err != nil {
		return fmt.Errorf("unlinking bucket from channel: %w", err)
	}
	return nil
}
