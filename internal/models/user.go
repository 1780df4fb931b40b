package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account synced from the identity collaborator.
// Subject is the verified external subject identifier; the server trusts it
// as the user key and performs no further verification.
//
// OwnKeyCiphertext/OwnKeyNonce hold the user's provider key encrypted with
// AES-256-GCM. HasOwnKey is kept consistent with ciphertext presence by the
// credential service; the model itself carries no implicit behavior.
type User struct {
	ID                      uuid.UUID  `json:"id" db:"id"`
	Subject                 string     `json:"subject" db:"subject"`
	Email                   string     `json:"email" db:"email"`
	OwnKeyCiphertext        []byte     `json:"-" db:"own_key_ciphertext"`
	OwnKeyNonce             []byte     `json:"-" db:"own_key_nonce"`
	HasOwnKey               bool       `json:"has_own_key" db:"has_own_key"`
	LifetimeGenerationCount int64      `json:"lifetime_generation_count" db:"lifetime_generation_count"`
	DailyGenerationCount    int        `json:"daily_generation_count" db:"daily_generation_count"`
	LastGenerationAt        *time.Time `json:"last_generation_at,omitempty" db:"last_generation_at"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}
