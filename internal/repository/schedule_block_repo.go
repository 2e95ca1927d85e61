package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/retrovue/retrovue/internal/models"
	"gorm.io/gorm"
)

// scheduleBlockRepo implements ScheduleBlockRepository using GORM.
type scheduleBlockRepo struct {
	db *gorm.DB
}

// NewScheduleBlockRepository creates a new ScheduleBlockRepository.
func NewScheduleBlockRepository(db *gorm.DB) *scheduleBlockRepo {
	return &scheduleBlockRepo{db: db}
}

// Create creates a new schedule block.
func (r *scheduleBlockRepo) Create(ctx context.Context, block *models.ScheduleBlock) error {
	if err := r.db.WithContext(ctx).Create(block).Error; err != nil {
		return fmt.Errorf("creating schedule block: %w", err)
	}
	return nil
}

// GetByID retrieves a schedule block by ID.
func (r *scheduleBlockRepo) GetByID(ctx context.Context, id models.ULID) (*models.ScheduleBlock, error) {
	var block models.ScheduleBlock
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&block).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule block not found: %s", id)
		}
		return nil, fmt.Errorf("getting schedule block by ID: %w", err)
	}
	return &block, nil
}

// GetByChannelID retrieves all blocks for a channel with buckets and their
// media preloaded, ordered by priority then creation time so overlap
// resolution can take the first match.
func (r *scheduleBlockRepo) GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.ScheduleBlock, error) {
	var blocks []*models.ScheduleBlock
	if err := r.db.WithContext(ctx).
		Preload("Bucket.Media", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("bucket_media.position ASC")
		}).
		Preload("Bucket.Media.MediaItem").
		Where("channel_id = ?", channelID).
		Order("priority DESC, created_at ASC").
		Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("getting schedule blocks for channel: %w", err)
	}
	return blocks, nil
}

// Update updates an existing schedule block.
func (r *scheduleBlockRepo) Update(ctx context.Context, block *models.ScheduleBlock) error {
	if err := r.db.WithContext(ctx).Save(block).Error; err != nil {
		return fmt.Errorf("updating schedule block: %w", err)
	}
	return nil
}

// Delete deletes a schedule block by ID.
func (r *scheduleBlockRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ScheduleBlock{}).Error; err != nil {
		return fmt.Errorf("deleting schedule block: %w", err)
	}
	return nil
}
