package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SSOProviderTypeSAML = "saml"
	SSOProviderTypeOIDC = "oidc"

	ssoDisplayNameMaxLength = 200
	ssoIssuerMaxLength      = 500
	ssoSignInURLMaxLength   = 500
	ssoCertificateMaxLength = 8000
	ssoClientIDMaxLength    = 255
)

var (
	ErrInvalidSSOPortalID    = errors.New("invalid_sso_portal_id")
	ErrInvalidSSOType        = errors.New("invalid_sso_provider_type")
	ErrInvalidSSODisplayName = errors.New("invalid_sso_display_name")
	ErrInvalidSSOIssuer      = errors.New("invalid_sso_issuer")
	ErrInvalidSSOSignInURL   = errors.New("invalid_sso_sign_in_url")
	ErrInvalidSSOCredential  = errors.New("invalid_sso_credential")
)

// SSOProvider is a configured external identity provider record for a
// portal. The service does not run SAML/OIDC flows itself; an enabled and
// enforced provider gates which login modes the portal accepts.
type SSOProvider struct {
	ID          string    `gorm:"primaryKey;size:36"`
	PortalID    string    `gorm:"not null;size:36;index"`
	Type        string    `gorm:"not null;size:8"`
	DisplayName string    `gorm:"not null;size:200"`
	Issuer      string    `gorm:"not null;size:500"`
	SignInURL   string    `gorm:"not null;size:500"`
	Certificate string    `gorm:"size:8000"`
	ClientID    string    `gorm:"size:255"`
	Enabled     bool      `gorm:"not null;default:false"`
	Enforced    bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// SSOProviderInput holds the raw values used to construct an SSOProvider.
type SSOProviderInput struct {
	PortalID    string
	Type        string
	DisplayName string
	Issuer      string
	SignInURL   string
	Certificate string
	ClientID    string
	Enabled     bool
	Enforced    bool
}

// NewSSOProvider constructs a validated SSOProvider. SAML providers must
// carry a certificate, OIDC providers a client id.
func NewSSOProvider(input SSOProviderInput) (SSOProvider, error) {
	portalID := strings.TrimSpace(input.PortalID)
	if portalID == "" {
		return SSOProvider{}, ErrInvalidSSOPortalID
	}

	providerType := strings.ToLower(strings.TrimSpace(input.Type))
	if providerType != SSOProviderTypeSAML && providerType != SSOProviderTypeOIDC {
		return SSOProvider{}, fmt.Errorf("%w: %s", ErrInvalidSSOType, input.Type)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" || len(displayName) > ssoDisplayNameMaxLength {
		return SSOProvider{}, ErrInvalidSSODisplayName
	}

	issuer := strings.TrimSpace(input.Issuer)
	if issuer == "" || len(issuer) > ssoIssuerMaxLength {
		return SSOProvider{}, ErrInvalidSSOIssuer
	}

	signInURL := strings.TrimSpace(input.SignInURL)
	if signInURL == "" || len(signInURL) > ssoSignInURLMaxLength {
		return SSOProvider{}, ErrInvalidSSOSignInURL
	}
	parsedSignIn, parseErr := url.Parse(signInURL)
	if parseErr != nil || parsedSignIn.Scheme != "https" || parsedSignIn.Host == "" {
		return SSOProvider{}, fmt.Errorf("%w: %s", ErrInvalidSSOSignInURL, signInURL)
	}

	certificate := strings.TrimSpace(input.Certificate)
	clientID := strings.TrimSpace(input.ClientID)
	switch providerType {
	case SSOProviderTypeSAML:
		if certificate == "" || len(certificate) > ssoCertificateMaxLength {
			return SSOProvider{}, fmt.Errorf("%w: saml provider requires certificate", ErrInvalidSSOCredential)
		}
	case SSOProviderTypeOIDC:
		if clientID == "" || len(clientID) > ssoClientIDMaxLength {
			return SSOProvider{}, fmt.Errorf("%w: oidc provider requires client id", ErrInvalidSSOCredential)
		}
	}

	return SSOProvider{
		ID:          uuid.NewString(),
		PortalID:    portalID,
		Type:        providerType,
		DisplayName: displayName,
		Issuer:      issuer,
		SignInURL:   parsedSignIn.String(),
		Certificate: certificate,
		ClientID:    clientID,
		Enabled:     input.Enabled,
		Enforced:    input.Enforced,
	}, nil
}
