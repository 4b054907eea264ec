package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/compliance"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueScanFailed   = "scan_failed"
	resourceTypeCompliance = "compliance"
)

// ComplianceHandlers exposes compliance scan results and on-demand scans.
type ComplianceHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
	scanner  *compliance.Scanner
}

// NewComplianceHandlers constructs ComplianceHandlers.
func NewComplianceHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder, scanner *compliance.Scanner) *ComplianceHandlers {
	return &ComplianceHandlers{database: database, logger: logger, recorder: recorder, scanner: scanner}
}

type complianceCheckResponse struct {
	Rule      string `json:"rule"`
	Result    string `json:"result"`
	Detail    string `json:"detail"`
	CheckedAt int64  `json:"checked_at"`
}

type complianceReportResponse struct {
	PortalID     string                    `json:"portal_id"`
	Compliant    bool                      `json:"compliant"`
	Checks       []complianceCheckResponse `json:"checks"`
	RuleCatalog  []string                  `json:"rule_catalog"`
	NonCompliant int                       `json:"non_compliant_count"`
}

func complianceReport(portalID string, checks []model.ComplianceCheck) complianceReportResponse {
	report := complianceReportResponse{
		PortalID:    portalID,
		Compliant:   true,
		Checks:      make([]complianceCheckResponse, 0, len(checks)),
		RuleCatalog: compliance.RuleNames(),
	}
	for _, check := range checks {
		if !check.Compliant() {
			report.Compliant = false
			report.NonCompliant++
		}
		report.Checks = append(report.Checks, complianceCheckResponse{
			Rule:      check.Rule,
			Result:    check.Result,
			Detail:    check.Detail,
			CheckedAt: unixOrZero(check.CheckedAt),
		})
	}
	return report
}

// GetReport returns the stored scan results for a portal.
func (handlers *ComplianceHandlers) GetReport(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var checks []model.ComplianceCheck
	if queryErr := handlers.database.Where("portal_id = ?", portal.ID).
		Order("rule asc").Find(&checks).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, complianceReport(portal.ID, checks))
}

// Scan evaluates every rule against a portal now and returns the results.
func (handlers *ComplianceHandlers) Scan(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	checks, scanErr := handlers.scanner.ScanPortal(portal.ID)
	if scanErr != nil {
		handlers.logger.Error("compliance_scan", zap.Error(scanErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueScanFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionComplianceScan,
		ResourceType: resourceTypeCompliance,
		ResourceID:   portal.ID,
		Detail:       gin.H{"rules": len(checks)},
	})

	context.JSON(http.StatusOK, complianceReport(portal.ID, checks))
}
