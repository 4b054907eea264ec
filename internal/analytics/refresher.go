// Package analytics computes widget data snapshots by aggregating the
// portal activity log.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	aggregationWindow = 30 * 24 * time.Hour
	dailySeriesDays   = 30
)

// ErrWidgetNotEnabled indicates the portal does not have the widget enabled.
var ErrWidgetNotEnabled = errors.New("analytics: widget not enabled")

// Refresher computes and stores PortalWidgetData snapshots.
type Refresher struct {
	database *gorm.DB
	logger   *zap.Logger
	clock    func() time.Time
}

// NewRefresher constructs a Refresher.
func NewRefresher(database *gorm.DB, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		database: database,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the refresher's time source. Test seam.
func (refresher *Refresher) WithClock(clock func() time.Time) *Refresher {
	refresher.clock = clock
	return refresher
}

// Snapshot returns the current widget data for a portal, computing a fresh
// snapshot when none exists, when the stored one is older than the
// portal's refresh interval, or when force is set.
func (refresher *Refresher) Snapshot(portal model.ClientPortal, widgetType string, force bool) (model.PortalWidgetData, error) {
	if !model.IsKnownWidgetType(widgetType) {
		return model.PortalWidgetData{}, fmt.Errorf("%w: %s", model.ErrUnknownWidgetType, widgetType)
	}
	if !portal.WidgetEnabled(widgetType) {
		return model.PortalWidgetData{}, fmt.Errorf("%w: %s", ErrWidgetNotEnabled, widgetType)
	}

	now := refresher.clock()
	refreshInterval := time.Duration(portal.WidgetRefreshMinutes) * time.Minute

	var stored model.PortalWidgetData
	findErr := refresher.database.
		First(&stored, "portal_id = ? AND widget_type = ?", portal.ID, widgetType).Error
	if findErr == nil && !force && !stored.Stale(refreshInterval, now) {
		return stored, nil
	}
	if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return model.PortalWidgetData{}, fmt.Errorf("analytics: load snapshot: %w", findErr)
	}

	payload, computeErr := refresher.compute(portal, widgetType, now)
	if computeErr != nil {
		return model.PortalWidgetData{}, computeErr
	}
	snapshot, snapshotErr := model.NewPortalWidgetData(portal.ID, widgetType, payload, now)
	if snapshotErr != nil {
		return model.PortalWidgetData{}, snapshotErr
	}

	transactionErr := refresher.database.Transaction(func(transaction *gorm.DB) error {
		if deleteErr := transaction.
			Where("portal_id = ? AND widget_type = ?", portal.ID, widgetType).
			Delete(&model.PortalWidgetData{}).Error; deleteErr != nil {
			return deleteErr
		}
		return transaction.Create(&snapshot).Error
	})
	if transactionErr != nil {
		return model.PortalWidgetData{}, fmt.Errorf("analytics: store snapshot: %w", transactionErr)
	}

	metrics.WidgetRefreshesTotal.Inc()
	return snapshot, nil
}

// RefreshAll recomputes stale snapshots for every enabled widget of every
// active portal. Satisfies task.RunnerFunc.
func (refresher *Refresher) RefreshAll(ctx context.Context) {
	var portals []model.ClientPortal
	if queryErr := refresher.database.
		Where("status = ?", model.PortalStatusActive).
		Find(&portals).Error; queryErr != nil {
		refresher.logger.Error("analytics_portal_query", zap.Error(queryErr))
		return
	}
	for _, portal := range portals {
		widgetTypes, decodeErr := model.DecodeEnabledWidgets(portal.EnabledWidgets)
		if decodeErr != nil {
			refresher.logger.Error("analytics_widget_decode", zap.String("portal_id", portal.ID), zap.Error(decodeErr))
			continue
		}
		for _, widgetType := range widgetTypes {
			if ctx.Err() != nil {
				return
			}
			if _, snapshotErr := refresher.Snapshot(portal, widgetType, false); snapshotErr != nil {
				refresher.logger.Error("analytics_widget_refresh",
					zap.String("portal_id", portal.ID),
					zap.String("widget", widgetType),
					zap.Error(snapshotErr),
				)
			}
		}
	}
}

func (refresher *Refresher) compute(portal model.ClientPortal, widgetType string, now time.Time) (any, error) {
	windowStart := now.Add(-aggregationWindow)
	switch widgetType {
	case model.WidgetTypeOverview:
		return refresher.computeOverview(portal, windowStart)
	case model.WidgetTypeTraffic:
		return refresher.computeTraffic(portal, now)
	case model.WidgetTypeEngagement:
		return refresher.computeEngagement(portal, windowStart)
	case model.WidgetTypeCampaigns:
		return refresher.computeCampaigns(portal, windowStart)
	case model.WidgetTypeConversions:
		return refresher.computeConversions(portal)
	case model.WidgetTypeAudience:
		return refresher.computeAudience(portal)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownWidgetType, widgetType)
	}
}

type overviewPayload struct {
	TotalActivities int64 `json:"total_activities"`
	WindowCount     int64 `json:"window_count"`
	ActiveUsers     int64 `json:"active_users"`
	LastActivityAt  int64 `json:"last_activity_at"`
}

func (refresher *Refresher) computeOverview(portal model.ClientPortal, windowStart time.Time) (any, error) {
	var payload overviewPayload
	if countErr := refresher.database.Model(&model.ClientPortalActivity{}).
		Where("portal_id = ?", portal.ID).
		Count(&payload.TotalActivities).Error; countErr != nil {
		return nil, countErr
	}
	if countErr := refresher.database.Model(&model.ClientPortalActivity{}).
		Where("portal_id = ? AND occurred_at >= ?", portal.ID, windowStart).
		Count(&payload.WindowCount).Error; countErr != nil {
		return nil, countErr
	}
	if countErr := refresher.database.Model(&model.ClientPortalActivity{}).
		Where("portal_id = ? AND occurred_at >= ? AND actor <> ''", portal.ID, windowStart).
		Distinct("actor").
		Count(&payload.ActiveUsers).Error; countErr != nil {
		return nil, countErr
	}
	var latest model.ClientPortalActivity
	latestErr := refresher.database.
		Where("portal_id = ?", portal.ID).
		Order("occurred_at desc").
		First(&latest).Error
	if latestErr == nil {
		payload.LastActivityAt = latest.OccurredAt.Unix()
	} else if !errors.Is(latestErr, gorm.ErrRecordNotFound) {
		return nil, latestErr
	}
	return payload, nil
}

type dailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

type trafficPayload struct {
	Days []dailyCount `json:"days"`
}

func (refresher *Refresher) computeTraffic(portal model.ClientPortal, now time.Time) (any, error) {
	payload := trafficPayload{Days: make([]dailyCount, 0, dailySeriesDays)}
	dayStart := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(dailySeriesDays - 1))
	for dayIndex := 0; dayIndex < dailySeriesDays; dayIndex++ {
		nextDay := dayStart.AddDate(0, 0, 1)
		var count int64
		if countErr := refresher.database.Model(&model.ClientPortalActivity{}).
			Where("portal_id = ? AND occurred_at >= ? AND occurred_at < ?", portal.ID, dayStart, nextDay).
			Count(&count).Error; countErr != nil {
			return nil, countErr
		}
		payload.Days = append(payload.Days, dailyCount{Day: dayStart.Format("2006-01-02"), Count: count})
		dayStart = nextDay
	}
	return payload, nil
}

type engagementPayload struct {
	Logins       int64 `json:"logins"`
	FailedLogins int64 `json:"failed_logins"`
	WidgetViews  int64 `json:"widget_views"`
}

func (refresher *Refresher) computeEngagement(portal model.ClientPortal, windowStart time.Time) (any, error) {
	var payload engagementPayload
	counts := map[string]*int64{
		model.ActivityActionUserLogin:       &payload.Logins,
		model.ActivityActionUserLoginFailed: &payload.FailedLogins,
		model.ActivityActionWidgetViewed:    &payload.WidgetViews,
	}
	for action, target := range counts {
		if countErr := refresher.database.Model(&model.ClientPortalActivity{}).
			Where("portal_id = ? AND action = ? AND occurred_at >= ?", portal.ID, action, windowStart).
			Count(target).Error; countErr != nil {
			return nil, countErr
		}
	}
	return payload, nil
}

type actionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

type campaignsPayload struct {
	Actions []actionCount `json:"actions"`
}

func (refresher *Refresher) computeCampaigns(portal model.ClientPortal, windowStart time.Time) (any, error) {
	rows, queryErr := refresher.database.Model(&model.ClientPortalActivity{}).
		Select("action, count(*) as total").
		Where("portal_id = ? AND occurred_at >= ?", portal.ID, windowStart).
		Group("action").
		Order("total desc").
		Rows()
	if queryErr != nil {
		return nil, queryErr
	}
	defer func() {
		_ = rows.Close()
	}()

	payload := campaignsPayload{Actions: []actionCount{}}
	for rows.Next() {
		var row actionCount
		if scanErr := rows.Scan(&row.Action, &row.Count); scanErr != nil {
			return nil, scanErr
		}
		payload.Actions = append(payload.Actions, row)
	}
	return payload, rows.Err()
}

type conversionsPayload struct {
	InvitationsSent     int64   `json:"invitations_sent"`
	InvitationsAccepted int64   `json:"invitations_accepted"`
	AcceptanceRate      float64 `json:"acceptance_rate"`
}

func (refresher *Refresher) computeConversions(portal model.ClientPortal) (any, error) {
	var payload conversionsPayload
	if countErr := refresher.database.Model(&model.UserInvitation{}).
		Where("portal_id = ?", portal.ID).
		Count(&payload.InvitationsSent).Error; countErr != nil {
		return nil, countErr
	}
	if countErr := refresher.database.Model(&model.UserInvitation{}).
		Where("portal_id = ? AND status = ?", portal.ID, model.InvitationStatusAccepted).
		Count(&payload.InvitationsAccepted).Error; countErr != nil {
		return nil, countErr
	}
	if payload.InvitationsSent > 0 {
		payload.AcceptanceRate = float64(payload.InvitationsAccepted) / float64(payload.InvitationsSent)
	}
	return payload, nil
}

type audiencePayload struct {
	TotalUsers    int64 `json:"total_users"`
	ActiveUsers   int64 `json:"active_users"`
	InvitedUsers  int64 `json:"invited_users"`
	DisabledUsers int64 `json:"disabled_users"`
}

func (refresher *Refresher) computeAudience(portal model.ClientPortal) (any, error) {
	var payload audiencePayload
	if countErr := refresher.database.Model(&model.ClientPortalUser{}).
		Where("portal_id = ?", portal.ID).
		Count(&payload.TotalUsers).Error; countErr != nil {
		return nil, countErr
	}
	statusCounts := map[string]*int64{
		model.PortalUserStatusActive:   &payload.ActiveUsers,
		model.PortalUserStatusInvited:  &payload.InvitedUsers,
		model.PortalUserStatusDisabled: &payload.DisabledUsers,
	}
	for status, target := range statusCounts {
		if countErr := refresher.database.Model(&model.ClientPortalUser{}).
			Where("portal_id = ? AND status = ?", portal.ID, status).
			Count(target).Error; countErr != nil {
			return nil, countErr
		}
	}
	return payload, nil
}
