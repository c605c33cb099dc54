package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type GenerationStatus string

const (
	GenerationStatusSucceeded GenerationStatus = "succeeded"
)

// Generation is a persisted result of the generation simulator.
type Generation struct {
	ID        uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID        `json:"-" gorm:"type:uuid;not null;index:idx_generations_owner_created,priority:1"`
	Prompt    string           `json:"prompt" gorm:"not null"`
	Style     string           `json:"style" gorm:"not null"`
	ImageURL  string           `json:"imageUrl" gorm:"not null"`
	Status    GenerationStatus `json:"status" gorm:"type:varchar(20);not null"`
	Asset     datatypes.JSON   `json:"-"`
	CreatedAt time.Time        `json:"createdAt" gorm:"not null;index:idx_generations_owner_created,priority:2"`
}

// UploadedAsset describes an image accepted by the upload gate.
type UploadedAsset struct {
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	SizeBytes    int64  `json:"sizeBytes"`
	StoredName   string `json:"storedName"`
}

// SetAsset stores the asset metadata on the record; nil clears it.
func (g *Generation) SetAsset(asset *UploadedAsset) error {
	if asset == nil {
		g.Asset = nil
		return nil
	}
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	g.Asset = datatypes.JSON(data)
	return nil
}

// UploadedAsset returns the stored asset metadata, or nil when the record was
// created without an image.
func (g *Generation) UploadedAsset() *UploadedAsset {
	if len(g.Asset) == 0 || string(g.Asset) == "null" {
		return nil
	}
	var asset UploadedAsset
	if err := json.Unmarshal(g.Asset, &asset); err != nil {
		return nil
	}
	return &asset
}
