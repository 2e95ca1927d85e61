package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/retrovue/retrovue/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mediaRepo implements MediaRepository using GORM.
type mediaRepo struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
func NewMediaRepository(db *gorm.DB) *mediaRepo {
	return &mediaRepo{db: db}
}

// Create creates a new media item.
func (r *mediaRepo) Create(ctx context.Context, item *models.MediaItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("creating media item: %w", err)
	}
	return nil
}

// Upsert creates or updates a media item keyed by file path.
func (r *mediaRepo) Upsert(ctx context.Context, item *models.MediaItem) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "file_path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"duration_seconds", "size_bytes",
				"video_codec", "audio_codec", "width", "height", "fps", "bitrate",
				"show_name", "season", "episode", "episode_title",
				"library_folder_id", "updated_at",
			}),
		}).
		Create(item).Error; err != nil {
		return fmt.Errorf("upserting media item: %w", err)
	}
	return nil
}

// GetByID retrieves a media item by ID.
func (r *mediaRepo) GetByID(ctx context.Context, id models.ULID) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrMediaNotFound
		}
		return nil, fmt.Errorf("getting media item by ID: %w", err)
	}
	return &item, nil
}

// GetByPath retrieves a media item by file path.
func (r *mediaRepo) GetByPath(ctx context.Context, path string) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.WithContext(ctx).Where("file_path = ?", path).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrMediaNotFound
		}
		return nil, fmt.Errorf("getting media item by path: %w", err)
	}
	return &item, nil
}

// GetAll retrieves all media items.
func (r *mediaRepo) GetAll(ctx context.Context) ([]*models.MediaItem, error) {
	var items []*models.MediaItem
	if err := r.db.WithContext(ctx).Order("file_path ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting all media items: %w", err)
	}
	return items, nil
}

// Delete deletes a media item by ID along with its bucket memberships.
func (r *mediaRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_item_id = ?", id).Delete(&models.BucketMedia{}).Error; err != nil {
			return fmt.Errorf("deleting bucket memberships: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.MediaItem{}).Error; err != nil {
			return fmt.Errorf("deleting media item: %w", err)
		}
		return nil
	})
}

// DeleteMissing deletes items under a library folder whose paths are not in
// keep. Used by the scanner's sweep phase after a walk completes.
func (r *mediaRepo) DeleteMissing(ctx context.Context, folderID models.ULID, keep []string) (int64, error) {
	q := r.db.WithContext(ctx).Where("library_folder_id = ?", folderID)
	if len(keep) > 0 {
		q = q.Where("file_path NOT IN ?", keep)
	}
	result := q.Delete(&models.MediaItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting missing media items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Count returns the total number of media items.
func (r *mediaRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.MediaItem{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting media items: %w", err)
	}
	return count, nil
}
