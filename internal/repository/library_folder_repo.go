package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/retrovue/retrovue/internal/models"
	"gorm.io/gorm"
)

// libraryFolderRepo implements LibraryFolderRepository using GORM.
type libraryFolderRepo struct {
	db *gorm.DB
}

// NewLibraryFolderRepository creates a new LibraryFolderRepository.
func NewLibraryFolderRepository(db *gorm.DB) *libraryFolderRepo {
	return &libraryFolderRepo{db: db}
}

// Create creates a new library folder.
func (r *libraryFolderRepo) Create(ctx context.Context, folder *models.LibraryFolder) error {
	if err := r.db.WithContext(ctx).Create(folder).Error; err != nil {
		return fmt.Errorf("creating library folder: %w", err)
	}
	return nil
}

// GetByID retrieves a library folder by ID.
func (r *libraryFolderRepo) GetByID(ctx context.Context, id models.ULID) (*models.LibraryFolder, error) {
	var folder models.LibraryFolder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("library folder not found: %s", id)
		}
		return nil, fmt.Errorf("getting library folder by ID: %w", err)
	}
	return &folder, nil
}

// GetByPath retrieves a library folder by path.
func (r *libraryFolderRepo) GetByPath(ctx context.Context, path string) (*models.LibraryFolder, error) {
	var folder models.LibraryFolder
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("library folder not found: %s", path)
		}
		return nil, fmt.Errorf("getting library folder by path: %w", err)
	}
	return &folder, nil
}

// GetAll retrieves all library folders.
func (r *libraryFolderRepo) GetAll(ctx context.Context) ([]*models.LibraryFolder, error) {
	var folders []*models.LibraryFolder
	if err := r.db.WithContext(ctx).Order("path ASC").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("getting all library folders: %w", err)
	}
	return folders, nil
}

// GetEnabled retrieves all enabled library folders.
func (r *libraryFolderRepo) GetEnabled(ctx context.Context) ([]*models.LibraryFolder, error) {
	var folders []*models.LibraryFolder
	if err := r.db.WithContext(ctx).
		Where("enabled = ? OR enabled IS NULL", true).
		Order("path ASC").
		Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("getting enabled library folders: %w", err)
	}
	return folders, nil
}

// Update updates an existing library folder.
func (r *libraryFolderRepo) Update(ctx context.Context, folder *models.LibraryFolder) error {
	if err := r.db.WithContext(ctx).Save(folder).Error; err != nil {
		return fmt.Errorf("updating library folder: %w", err)
	}
	return nil
}

// Delete deletes a library folder by ID.
func (r *libraryFolderRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.LibraryFolder{}).Error; err != nil {
		return fmt.Errorf("deleting library folder: %w", err)
	}
	return nil
}

// UpdateScanResult records a completed scan.
func (r *libraryFolderRepo) UpdateScanResult(ctx context.Context, id models.ULID, scannedAt time.Time, fileCount int) error {
	if err := r.db.WithContext(ctx).
		Model(&models.LibraryFolder{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_scan_at": scannedAt,
			"file_count":   fileCount,
		}).Error; err != nil {
		return fmt.Errorf("updating scan result: %w", err)
	}
	return nil
}
