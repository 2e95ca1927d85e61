package models

// Bucket kinds.
const (
	BucketKindGlobal          = "global"
	BucketKindChannelSpecific = "channel_specific"
)

// Bucket is a named, ordered collection of media items. Buckets are the unit
// a schedule block binds to; channels may also link buckets directly as a
// fallback rotation.
type Bucket struct {
	BaseModel

	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`
	Kind string `gorm:"not null;size:50;default:'global'" json:"kind"`

	// ChannelID is set only for channel_specific buckets.
	ChannelID ULID `gorm:"type:varchar(26);index" json:"channel_id,omitempty"`

	// Media is the ordered membership, preloaded with position ordering.
	Media []BucketMedia `gorm:"foreignKey:BucketID" json:"media,omitempty"`
}

// TableName returns the table name for Bucket.
func (Bucket) TableName() string {
	return "buckets"
}

// Validate performs basic validation on the bucket.
func (b *Bucket) Validate() error {
	if b.Name == "" {
		return ErrNameRequired
	}
	switch b.Kind {
	case BucketKindGlobal, BucketKindChannelSpecific:
	default:
		return ErrInvalidBucketKind
	}
	if b.Kind == BucketKindChannelSpecific && b.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	return nil
}

// BucketMedia is the ordered bucket membership join row. (bucket_id,
// media_item_id) is unique, so a bucket never contains duplicates.
type BucketMedia struct {
	BaseModel

	BucketID    ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_bucket_media" json:"bucket_id"`
	MediaItemID ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_bucket_media" json:"media_item_id"`

	// Position is the explicit 0-based ordering within the bucket.
	Position int `gorm:"not null;default:0;index" json:"position"`

	MediaItem *MediaItem `gorm:"foreignKey:MediaItemID" json:"media_item,omitempty"`
}

// TableName returns the table name for BucketMedia.
func (BucketMedia) TableName() string {
	return "bucket_media"
}

// ChannelBucket links a channel to a fallback bucket with a priority.
// Lower Priority sorts first when the fallback rotation is concatenated.
type ChannelBucket struct {
	BaseModel

	ChannelID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_channel_bucket" json:"channel_id"`
	BucketID  ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_channel_bucket" json:"bucket_id"`
	Priority  int  `gorm:"not null;default:0" json:"priority"`

	Bucket *Bucket `gorm:"foreignKey:BucketID" json:"bucket,omitempty"`
}

// TableName returns the table name for ChannelBucket.
func (ChannelBucket) TableName() string {
	return "channel_buckets"
}
