package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus represents the status of a generation record
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Generation represents one successful provider round trip. Exactly one of
// ImageURL and ImageData is authoritative: ImageURL when the durable upload
// succeeded (StorageKey identifies the stored object), ImageData (base64)
// otherwise. Records are immutable after creation except deletion.
type Generation struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	UserID      uuid.UUID        `json:"user_id" db:"user_id"`
	Prompt      string           `json:"prompt" db:"prompt"`
	IsEdit      bool             `json:"is_edit" db:"is_edit"`
	Temperature *float64         `json:"temperature,omitempty" db:"temperature"`
	Seed        *int64           `json:"seed,omitempty" db:"seed"`
	Width       *int             `json:"width,omitempty" db:"width"`
	Height      *int             `json:"height,omitempty" db:"height"`
	ImageURL    *string          `json:"image_url,omitempty" db:"image_url"`
	StorageKey  *string          `json:"-" db:"storage_key"`
	ImageData   *string          `json:"image_data,omitempty" db:"image_data"`
	Status      GenerationStatus `json:"status" db:"status"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}
