package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/retrovue/retrovue/internal/models"
	"gorm.io/gorm"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) *channelRepo {
	return &channelRepo{db: db}
}

// Create creates a new channel.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateSlug
		}
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrChannelNotFound
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetBySlug retrieves a channel by slug.
func (r *channelRepo) GetBySlug(ctx context.Context, slug string) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrChannelNotFound
		}
		return nil, fmt.Errorf("getting channel by slug: %w", err)
	}
	return &channel, nil
}

// GetAll retrieves all channels.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Order("slug ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting all channels: %w", err)
	}
	return channels, nil
}

// GetEnabled retrieves all enabled channels.
func (r *channelRepo) GetEnabled(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).
		Where("enabled = ? OR enabled IS NULL", true).
		Order("slug ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting enabled channels: %w", err)
	}
	return channels, nil
}

// Update updates an existing channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Save(channel).Error; err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateSlug
		}
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// Delete deletes a channel by ID along with its schedule blocks and fallback
// bucket links.
func (r *channelRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&models.ScheduleBlock{}).Error; err != nil {
			return fmt.Errorf("deleting channel schedule blocks: %w", err)
		}
		if err := tx.Where("channel_id = ?", id).Delete(&models.ChannelBucket{}).Error; err != nil {
			return fmt.Errorf("deleting channel bucket links: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Channel{}).Error; err != nil {
			return fmt.Errorf("deleting channel: %w", err)
		}
		return nil
	})
}

// isUniqueViolation reports whether err looks like a unique constraint
// failure on any supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique failed") ||
		strings.Contains(msg, "duplicate")
}
