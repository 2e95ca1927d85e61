package models

// Setting is a simple key/value row for small bits of runtime state that
// must survive restarts but do not deserve their own table.
type Setting struct {
	BaseModel

	Key   string `gorm:"not null;size:255;uniqueIndex" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Well-known setting keys.
const (
	// SettingLastStateSave records the timestamp of the last successful
	// state snapshot.
	SettingLastStateSave = "state.last_save"

	// SettingLastLibraryScan records the timestamp of the last completed
	// library scan.
	SettingLastLibraryScan = "scanner.last_scan"
)
