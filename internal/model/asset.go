package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	assetFileNameMaxLength    = 255
	assetContentTypeMaxLength = 100
	MaxAssetSizeBytes         = 10 << 20
)

var (
	ErrInvalidAssetPortalID    = errors.New("invalid_asset_portal_id")
	ErrInvalidAssetFileName    = errors.New("invalid_asset_file_name")
	ErrInvalidAssetContentType = errors.New("invalid_asset_content_type")
	ErrAssetTooLarge           = errors.New("asset_too_large")
)

// PortalAsset is the metadata row mirroring one stored object in the
// portal asset bucket.
type PortalAsset struct {
	ID          string    `gorm:"primaryKey;size:36"`
	PortalID    string    `gorm:"not null;size:36;index"`
	FileName    string    `gorm:"not null;size:255"`
	ContentType string    `gorm:"not null;size:100"`
	SizeBytes   int64     `gorm:"not null"`
	ContentHash string    `gorm:"size:64"`
	UploadedBy  string    `gorm:"size:320"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// NewPortalAsset constructs a validated PortalAsset metadata row.
func NewPortalAsset(portalID string, fileName string, contentType string, sizeBytes int64, contentHash string, uploadedBy string) (PortalAsset, error) {
	trimmedPortalID := strings.TrimSpace(portalID)
	if trimmedPortalID == "" {
		return PortalAsset{}, ErrInvalidAssetPortalID
	}

	trimmedFileName := strings.TrimSpace(fileName)
	if trimmedFileName == "" || len(trimmedFileName) > assetFileNameMaxLength {
		return PortalAsset{}, ErrInvalidAssetFileName
	}
	if strings.ContainsAny(trimmedFileName, "/\\") {
		return PortalAsset{}, fmt.Errorf("%w: path separators not allowed", ErrInvalidAssetFileName)
	}

	trimmedContentType := strings.TrimSpace(contentType)
	if trimmedContentType == "" || len(trimmedContentType) > assetContentTypeMaxLength {
		return PortalAsset{}, ErrInvalidAssetContentType
	}

	if sizeBytes <= 0 || sizeBytes > MaxAssetSizeBytes {
		return PortalAsset{}, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, sizeBytes)
	}

	return PortalAsset{
		ID:          uuid.NewString(),
		PortalID:    trimmedPortalID,
		FileName:    trimmedFileName,
		ContentType: trimmedContentType,
		SizeBytes:   sizeBytes,
		ContentHash: strings.TrimSpace(contentHash),
		UploadedBy:  strings.ToLower(strings.TrimSpace(uploadedBy)),
	}, nil
}
