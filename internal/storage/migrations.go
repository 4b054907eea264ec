package storage

import (
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

// backfillPortalIntervalDefaults assigns default refresh and session
// timeout intervals to historical portals created before those columns
// were enforced.
func backfillPortalIntervalDefaults(database *gorm.DB) error {
	refreshAssignments := map[string]any{
		"widget_refresh_minutes": model.DefaultWidgetRefreshMinutes,
	}
	if err := database.Model(&model.ClientPortal{}).
		Where("widget_refresh_minutes IS NULL OR widget_refresh_minutes <= 0").
		Updates(refreshAssignments).Error; err != nil {
		return err
	}

	sessionAssignments := map[string]any{
		"session_timeout_minutes": model.DefaultSessionTimeoutMinutes,
	}
	return database.Model(&model.ClientPortal{}).
		Where("session_timeout_minutes IS NULL OR session_timeout_minutes <= 0").
		Updates(sessionAssignments).Error
}
