package models

import "time"

// LibraryFolder is a root directory the scanner walks for media files.
type LibraryFolder struct {
	BaseModel

	Path string `gorm:"not null;size:4096;uniqueIndex" json:"path"`
	Name string `gorm:"size:255" json:"name,omitempty"`

	Enabled *bool `gorm:"default:true" json:"enabled"`

	// LastScanAt is the completion time of the most recent scan, zero if the
	// folder has never been scanned.
	LastScanAt time.Time `json:"last_scan_at,omitempty"`

	// FileCount is the number of media items found in the last scan.
	FileCount int `gorm:"default:0" json:"file_count"`
}

// TableName returns the table name for LibraryFolder.
func (LibraryFolder) TableName() string {
	return "library_folders"
}

// Validate performs basic validation on the library folder.
func (f *LibraryFolder) Validate() error {
	if f.Path == "" {
		return ErrValidation{Field: "path", Message: "is required"}
	}
	return nil
}

// IsEnabled reports whether the folder is enabled for scanning.
func (f *LibraryFolder) IsEnabled() bool {
	return BoolVal(f.Enabled)
}
