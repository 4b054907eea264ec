package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/assets"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/storage"
)

const (
	errorValueAssetTooLarge = "asset_too_large"
	errorValueMissingFile   = "missing_file"
	errorValueBadSignature  = "bad_signature"
	resourceTypeAsset       = "asset"
	routeParameterAssetID   = "asset_id"
	multipartFileField      = "file"

	defaultSignedURLLifetime = 15 * time.Minute
	maxSignedURLLifetime     = 24 * time.Hour
)

// AssetHandlers manages the per-portal asset bucket: metadata rows in the
// database, object bytes in the assets store.
type AssetHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
	store    *assets.Store
	clock    func() time.Time
}

// NewAssetHandlers constructs AssetHandlers.
func NewAssetHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder, store *assets.Store) *AssetHandlers {
	return &AssetHandlers{database: database, logger: logger, recorder: recorder, store: store, clock: time.Now}
}

// WithClock replaces the time source, for tests.
func (handlers *AssetHandlers) WithClock(clock func() time.Time) *AssetHandlers {
	handlers.clock = clock
	return handlers
}

type assetResponse struct {
	ID          string `json:"id"`
	PortalID    string `json:"portal_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
	UploadedBy  string `json:"uploaded_by"`
	CreatedAt   int64  `json:"created_at"`
}

type listAssetsResponse struct {
	Assets []assetResponse `json:"assets"`
}

type signedURLResponse struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func assetToResponse(asset model.PortalAsset) assetResponse {
	return assetResponse{
		ID:          asset.ID,
		PortalID:    asset.PortalID,
		FileName:    asset.FileName,
		ContentType: asset.ContentType,
		SizeBytes:   asset.SizeBytes,
		ContentHash: asset.ContentHash,
		UploadedBy:  asset.UploadedBy,
		CreatedAt:   unixOrZero(asset.CreatedAt),
	}
}

// UploadAsset accepts one multipart file and stores it in the portal's
// bucket. Oversized uploads are rejected before any bytes are written.
func (handlers *AssetHandlers) UploadAsset(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	fileHeader, fileErr := context.FormFile(multipartFileField)
	if fileErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFile})
		return
	}
	if fileHeader.Size > model.MaxAssetSizeBytes {
		context.JSON(http.StatusRequestEntityTooLarge, gin.H{jsonKeyError: errorValueAssetTooLarge})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file, openErr := fileHeader.Open()
	if openErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingFile})
		return
	}
	defer file.Close()

	assetID := storage.NewID()
	writtenBytes, contentHash, putErr := handlers.store.Put(portal.ID, assetID, io.LimitReader(file, model.MaxAssetSizeBytes))
	if putErr != nil {
		handlers.logger.Error("asset_put", zap.Error(putErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	asset, assetErr := model.NewPortalAsset(portal.ID, fileHeader.Filename, contentType, writtenBytes, contentHash, OperatorActor(context))
	if assetErr != nil {
		if removeErr := handlers.store.Delete(portal.ID, assetID); removeErr != nil {
			handlers.logger.Error("asset_cleanup", zap.Error(removeErr))
		}
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: assetErr.Error()})
		return
	}
	asset.ID = assetID

	if createErr := handlers.database.Create(&asset).Error; createErr != nil {
		handlers.logger.Error("asset_create", zap.Error(createErr))
		if removeErr := handlers.store.Delete(portal.ID, assetID); removeErr != nil {
			handlers.logger.Error("asset_cleanup", zap.Error(removeErr))
		}
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionAssetUploaded,
		ResourceType: resourceTypeAsset,
		ResourceID:   asset.ID,
		Detail:       gin.H{"file_name": asset.FileName, "size_bytes": asset.SizeBytes},
	})

	context.JSON(http.StatusCreated, assetToResponse(asset))
}

// ListAssets returns a portal's asset metadata rows.
func (handlers *AssetHandlers) ListAssets(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	limit, offset := pagination(context)
	var portalAssets []model.PortalAsset
	if queryErr := handlers.database.Where("portal_id = ?", portal.ID).
		Order("created_at desc").Limit(limit).Offset(offset).Find(&portalAssets).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listAssetsResponse{Assets: make([]assetResponse, 0, len(portalAssets))}
	for _, asset := range portalAssets {
		response.Assets = append(response.Assets, assetToResponse(asset))
	}
	context.JSON(http.StatusOK, response)
}

// DeleteAsset removes an asset's bytes and metadata. A portal logo pointing
// at the asset is cleared.
func (handlers *AssetHandlers) DeleteAsset(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	asset, assetFound := handlers.assetByID(context, portal.ID)
	if !assetFound {
		return
	}

	transactionErr := handlers.database.Transaction(func(transaction *gorm.DB) error {
		if clearErr := transaction.Model(&model.ClientPortal{}).
			Where("id = ? AND logo_asset_id = ?", portal.ID, asset.ID).
			Update("logo_asset_id", "").Error; clearErr != nil {
			return clearErr
		}
		return transaction.Delete(&model.PortalAsset{}, "id = ?", asset.ID).Error
	})
	if transactionErr != nil {
		handlers.logger.Error("asset_delete", zap.Error(transactionErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDeleteFailed})
		return
	}

	if removeErr := handlers.store.Delete(portal.ID, asset.ID); removeErr != nil {
		handlers.logger.Error("asset_remove", zap.Error(removeErr))
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionAssetDeleted,
		ResourceType: resourceTypeAsset,
		ResourceID:   asset.ID,
		Detail:       gin.H{"file_name": asset.FileName},
	})

	context.Status(http.StatusNoContent)
}

// IssueSignedURL returns a time-limited URL a portal client can fetch the
// asset bytes from without management credentials.
func (handlers *AssetHandlers) IssueSignedURL(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	asset, assetFound := handlers.assetByID(context, portal.ID)
	if !assetFound {
		return
	}

	lifetime := defaultSignedURLLifetime
	if rawMinutes := strings.TrimSpace(context.Query("lifetime_minutes")); rawMinutes != "" {
		if minutes, parseErr := parsePositiveInt(rawMinutes); parseErr == nil {
			lifetime = time.Duration(minutes) * time.Minute
		}
	}
	if lifetime > maxSignedURLLifetime {
		lifetime = maxSignedURLLifetime
	}

	now := handlers.clock()
	signedURL, signErr := handlers.store.SignedURL(portal.Slug, portal.ID, asset.ID, lifetime, now)
	if signErr != nil {
		handlers.logger.Error("asset_sign", zap.Error(signErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	context.JSON(http.StatusOK, signedURLResponse{
		URL:       signedURL,
		ExpiresAt: now.Add(lifetime).Unix(),
	})
}

// FetchAsset serves asset bytes on the public portal API. The request must
// carry a valid signature issued by IssueSignedURL.
func (handlers *AssetHandlers) FetchAsset(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	asset, assetFound := handlers.assetByID(context, portal.ID)
	if !assetFound {
		return
	}

	expiresAt := context.Query("exp")
	signature := context.Query("sig")
	if verifyErr := handlers.store.VerifySignature(portal.ID, asset.ID, expiresAt, signature, handlers.clock()); verifyErr != nil {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueBadSignature})
		return
	}

	object, openErr := handlers.store.Open(portal.ID, asset.ID)
	if openErr != nil {
		handlers.logger.Error("asset_open", zap.Error(openErr))
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownAsset})
		return
	}
	defer object.Close()

	context.Header("Content-Disposition", `inline; filename="`+asset.FileName+`"`)
	context.DataFromReader(http.StatusOK, asset.SizeBytes, asset.ContentType, object, nil)
}

func (handlers *AssetHandlers) assetByID(context *gin.Context, portalID string) (model.PortalAsset, bool) {
	assetID := strings.TrimSpace(context.Param(routeParameterAssetID))
	var asset model.PortalAsset
	findErr := handlers.database.First(&asset, "id = ? AND portal_id = ?", assetID, portalID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownAsset})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.PortalAsset{}, false
	}
	return asset, true
}
