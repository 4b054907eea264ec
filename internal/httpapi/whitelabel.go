package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const resourceTypeWhiteLabel = "white_label"

// WhiteLabelHandlers manages the per-portal white label settings row.
type WhiteLabelHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
}

// NewWhiteLabelHandlers constructs WhiteLabelHandlers.
func NewWhiteLabelHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder) *WhiteLabelHandlers {
	return &WhiteLabelHandlers{database: database, logger: logger, recorder: recorder}
}

type upsertWhiteLabelRequest struct {
	EmailFromName      string `json:"email_from_name"`
	EmailFromAddress   string `json:"email_from_address"`
	SupportURL         string `json:"support_url"`
	FooterText         string `json:"footer_text"`
	HideVendorBranding bool   `json:"hide_vendor_branding"`
}

type whiteLabelResponse struct {
	PortalID           string `json:"portal_id"`
	EmailFromName      string `json:"email_from_name"`
	EmailFromAddress   string `json:"email_from_address"`
	SupportURL         string `json:"support_url"`
	FooterText         string `json:"footer_text"`
	HideVendorBranding bool   `json:"hide_vendor_branding"`
	UpdatedAt          int64  `json:"updated_at"`
}

func whiteLabelToResponse(setting model.WhiteLabelSetting) whiteLabelResponse {
	return whiteLabelResponse{
		PortalID:           setting.PortalID,
		EmailFromName:      setting.EmailFromName,
		EmailFromAddress:   setting.EmailFromAddress,
		SupportURL:         setting.SupportURL,
		FooterText:         setting.FooterText,
		HideVendorBranding: setting.HideVendorBranding,
		UpdatedAt:          unixOrZero(setting.UpdatedAt),
	}
}

// GetSettings returns a portal's white label settings, defaults when none
// were saved yet.
func (handlers *WhiteLabelHandlers) GetSettings(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var setting model.WhiteLabelSetting
	findErr := handlers.database.First(&setting, "portal_id = ?", portal.ID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusOK, whiteLabelToResponse(model.WhiteLabelSetting{PortalID: portal.ID}))
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}
	context.JSON(http.StatusOK, whiteLabelToResponse(setting))
}

// PutSettings replaces a portal's white label settings, creating the row on
// first write.
func (handlers *WhiteLabelHandlers) PutSettings(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request upsertWhiteLabelRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	replacement, replacementErr := model.NewWhiteLabelSetting(model.WhiteLabelSettingInput{
		PortalID:           portal.ID,
		EmailFromName:      request.EmailFromName,
		EmailFromAddress:   request.EmailFromAddress,
		SupportURL:         request.SupportURL,
		FooterText:         request.FooterText,
		HideVendorBranding: request.HideVendorBranding,
	})
	if replacementErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: replacementErr.Error()})
		return
	}

	var saved model.WhiteLabelSetting
	transactionErr := handlers.database.Transaction(func(transaction *gorm.DB) error {
		var existing model.WhiteLabelSetting
		lookupErr := transaction.First(&existing, "portal_id = ?", portal.ID).Error
		switch {
		case lookupErr == nil:
			updates := map[string]any{
				"email_from_name":      replacement.EmailFromName,
				"email_from_address":   replacement.EmailFromAddress,
				"support_url":          replacement.SupportURL,
				"footer_text":          replacement.FooterText,
				"hide_vendor_branding": replacement.HideVendorBranding,
			}
			if updateErr := transaction.Model(&model.WhiteLabelSetting{}).
				Where("id = ?", existing.ID).Updates(updates).Error; updateErr != nil {
				return updateErr
			}
			return transaction.First(&saved, "id = ?", existing.ID).Error
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if createErr := transaction.Create(&replacement).Error; createErr != nil {
				return createErr
			}
			saved = replacement
			return nil
		default:
			return lookupErr
		}
	})
	if transactionErr != nil {
		handlers.logger.Error("white_label_save", zap.Error(transactionErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionWhiteLabelUpdated,
		ResourceType: resourceTypeWhiteLabel,
		ResourceID:   saved.ID,
	})

	context.JSON(http.StatusOK, whiteLabelToResponse(saved))
}
