package models

import (
	"time"

	"github.com/google/uuid"
)

// File is an uploaded blob owned by a single user
type File struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	Name        string    `json:"name" db:"name" validate:"required,max=255"`
	ContentType string    `json:"type" db:"content_type" validate:"required,max=255"`
	Size        int64     `json:"size" db:"size"`
	Data        []byte    `json:"-" db:"data"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the File model
func (File) TableName() string {
	return "files"
}

// NewFile creates a new File instance
func NewFile(ownerID uuid.UUID, name, contentType string, data []byte) *File {
	return &File{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
}

// FileInfo is the metadata returned to clients; it never carries the content
type FileInfo struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns the client-facing metadata of the file
func (f *File) Info() FileInfo {
	return FileInfo{
		ID:        f.ID,
		Name:      f.Name,
		Type:      f.ContentType,
		Size:      f.Size,
		CreatedAt: f.CreatedAt,
	}
}
