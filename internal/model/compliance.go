package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ComplianceResultCompliant    = "compliant"
	ComplianceResultNonCompliant = "non_compliant"

	complianceRuleMaxLength   = 64
	complianceDetailMaxLength = 500
)

var (
	ErrInvalidComplianceCheckPortalID = errors.New("invalid_compliance_check_portal_id")
	ErrInvalidComplianceCheckRule     = errors.New("invalid_compliance_check_rule")
)

// ComplianceCheck records one rule evaluation for a portal. Re-scanning a
// portal upserts by portal and rule so the table always holds the latest
// result per rule.
type ComplianceCheck struct {
	ID        string    `gorm:"primaryKey;size:36"`
	PortalID  string    `gorm:"not null;size:36;uniqueIndex:idx_compliance_portal_rule"`
	Rule      string    `gorm:"not null;size:64;uniqueIndex:idx_compliance_portal_rule"`
	Result    string    `gorm:"not null;size:16;index"`
	Detail    string    `gorm:"size:500"`
	CheckedAt time.Time `gorm:"not null"`
}

// NewComplianceCheck constructs a validated ComplianceCheck row.
func NewComplianceCheck(portalID string, rule string, compliant bool, detail string, checkedAt time.Time) (ComplianceCheck, error) {
	trimmedPortalID := strings.TrimSpace(portalID)
	if trimmedPortalID == "" {
		return ComplianceCheck{}, ErrInvalidComplianceCheckPortalID
	}
	trimmedRule := strings.TrimSpace(rule)
	if trimmedRule == "" || len(trimmedRule) > complianceRuleMaxLength {
		return ComplianceCheck{}, ErrInvalidComplianceCheckRule
	}
	result := ComplianceResultCompliant
	if !compliant {
		result = ComplianceResultNonCompliant
	}
	if len(detail) > complianceDetailMaxLength {
		detail = detail[:complianceDetailMaxLength]
	}
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	return ComplianceCheck{
		ID:        uuid.NewString(),
		PortalID:  trimmedPortalID,
		Rule:      trimmedRule,
		Result:    result,
		Detail:    detail,
		CheckedAt: checkedAt,
	}, nil
}

// Compliant reports whether the check passed.
func (check ComplianceCheck) Compliant() bool {
	return check.Result == ComplianceResultCompliant
}
