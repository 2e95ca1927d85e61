package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common domain errors.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrSlugRequired indicates a required slug field is empty.
	ErrSlugRequired = errors.New("slug is required")

	// ErrInvalidSlug indicates a slug contains characters outside [a-z0-9-].
	ErrInvalidSlug = errors.New("slug may only contain lowercase letters, digits, and hyphens")

	// ErrDuplicateSlug indicates a channel slug is already taken.
	ErrDuplicateSlug = errors.New("channel slug already exists")

	// ErrChannelNotFound indicates an unknown channel.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrBucketNotFound indicates an unknown bucket.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrMediaNotFound indicates an unknown media item.
	ErrMediaNotFound = errors.New("media item not found")

	// ErrFilePathRequired indicates a required file path field is empty.
	ErrFilePathRequired = errors.New("file_path is required")

	// ErrChannelIDRequired indicates a required channel ID field is zero.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrBucketIDRequired indicates a required bucket ID field is zero.
	ErrBucketIDRequired = errors.New("bucket_id is required")

	// ErrInvalidBucketKind indicates an invalid bucket kind.
	ErrInvalidBucketKind = errors.New("invalid bucket kind: must be 'global' or 'channel_specific'")

	// ErrInvalidPlaybackMode indicates an invalid schedule block playback mode.
	ErrInvalidPlaybackMode = errors.New("invalid playback mode: must be 'sequential', 'shuffle', or 'random'")

	// ErrInvalidTimeOfDay indicates a malformed HH:MM or HH:MM:SS value.
	ErrInvalidTimeOfDay = errors.New("invalid time of day: expected HH:MM or HH:MM:SS")

	// ErrInvalidDayOfWeek indicates a weekday index outside 0-6.
	ErrInvalidDayOfWeek = errors.New("invalid day of week: indices must be 0 (Sunday) through 6 (Saturday)")

	// ErrInvalidResolution indicates a non-positive width or height.
	ErrInvalidResolution = errors.New("resolution width and height must be positive")

	// ErrInvalidFPS indicates a non-positive frame rate.
	ErrInvalidFPS = errors.New("fps must be positive")

	// ErrInvalidSegmentDuration indicates a segment duration outside 1-10 seconds.
	ErrInvalidSegmentDuration = errors.New("segment duration must be 1-10 seconds")

	// ErrAlreadyStreaming indicates a start request for a channel that is
	// already streaming.
	ErrAlreadyStreaming = errors.New("channel is already streaming")
)
