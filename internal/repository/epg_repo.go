package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/retrovue/retrovue/internal/models"
	"gorm.io/gorm"
)

// epgRepo implements EPGRepository using GORM.
type epgRepo struct {
	db *gorm.DB
}

// NewEPGRepository creates a new EPGRepository.
func NewEPGRepository(db *gorm.DB) *epgRepo {
	return &epgRepo{db: db}
}

// ReplaceChannelEntries atomically replaces a channel's cached entries.
func (r *epgRepo) ReplaceChannelEntries(ctx context.Context, channelID models.ULID, entries []*models.EPGEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", channelID).Delete(&models.EPGEntry{}).Error; err != nil {
			return fmt.Errorf("clearing epg entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(entries, 500).Error; err != nil {
			return fmt.Errorf("inserting epg entries: %w", err)
		}
		return nil
	})
}

// GetChannelEntries retrieves a channel's cached entries overlapping [from, to).
func (r *epgRepo) GetChannelEntries(ctx context.Context, channelID models.ULID, from, to time.Time) ([]*models.EPGEntry, error) {
	var entries []*models.EPGEntry
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND stop > ? AND start < ?", channelID, from, to).
		Order("start ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("getting epg entries: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes entries that stopped before the cutoff.
func (r *epgRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("stop < ?", cutoff).Delete(&models.EPGEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning epg entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
