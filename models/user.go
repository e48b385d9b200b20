package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the durable record of someone who has logged in through an OAuth2 provider.
// StableID is the provider-derived identifier (email for Google, login for GitHub) and the
// join key between the session token subject and this record.
type User struct {
	ID                uuid.UUID `json:"id" db:"id"`
	StableID          string    `json:"stable_id" db:"stable_id"`
	DisplayName       string    `json:"display_name" db:"display_name"`
	ProfilePictureURL string    `json:"profile_picture_url" db:"profile_picture_url"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User instance
func NewUser(stableID, displayName, profilePictureURL string) *User {
	now := time.Now().UTC()
	return &User{
		ID:                uuid.New(),
		StableID:          stableID,
		DisplayName:       displayName,
		ProfilePictureURL: profilePictureURL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
