package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueUnknownInvitation = "unknown_invitation"
	errorValueInvitationSpent   = "invitation_spent"
	resourceTypeInvitation      = "invitation"
	routeParameterInvitationID  = "invitation_id"
)

// errInvitationAlreadyClaimed signals that a concurrent accept flipped the
// invitation out of pending before this request could claim it.
var errInvitationAlreadyClaimed = errors.New("invitation_already_claimed")

// InvitationHandlers covers both sides of the invitation flow: the agency
// issues and revokes invitations, the invited person accepts one through
// the public portal API.
type InvitationHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
	clock    func() time.Time
}

// NewInvitationHandlers constructs InvitationHandlers.
func NewInvitationHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder) *InvitationHandlers {
	return &InvitationHandlers{database: database, logger: logger, recorder: recorder, clock: time.Now}
}

// WithClock replaces the time source, for tests.
func (handlers *InvitationHandlers) WithClock(clock func() time.Time) *InvitationHandlers {
	handlers.clock = clock
	return handlers
}

type createInvitationRequest struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	TTLMinutes int    `json:"ttl_minutes"`
}

type invitationResponse struct {
	ID         string `json:"id"`
	PortalID   string `json:"portal_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	InvitedBy  string `json:"invited_by"`
	ExpiresAt  int64  `json:"expires_at"`
	AcceptedAt int64  `json:"accepted_at"`
	CreatedAt  int64  `json:"created_at"`
}

type createInvitationResponse struct {
	Invitation invitationResponse `json:"invitation"`
	Token      string             `json:"token"`
}

type listInvitationsResponse struct {
	Invitations []invitationResponse `json:"invitations"`
}

func invitationToResponse(invitation model.UserInvitation) invitationResponse {
	return invitationResponse{
		ID:         invitation.ID,
		PortalID:   invitation.PortalID,
		Email:      invitation.Email,
		Role:       invitation.Role,
		Status:     invitation.Status,
		InvitedBy:  invitation.InvitedBy,
		ExpiresAt:  unixOrZero(invitation.ExpiresAt),
		AcceptedAt: unixOrZero(invitation.AcceptedAt),
		CreatedAt:  unixOrZero(invitation.CreatedAt),
	}
}

// CreateInvitation issues a new invitation. The plaintext token is part of
// the response and never stored; delivery to the invitee is the caller's
// concern.
func (handlers *InvitationHandlers) CreateInvitation(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request createInvitationRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	token, tokenHash, tokenErr := auth.GenerateLinkToken()
	if tokenErr != nil {
		handlers.logger.Error("invitation_token", zap.Error(tokenErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	invitation, invitationErr := model.NewUserInvitation(model.UserInvitationInput{
		PortalID:  portal.ID,
		Email:     request.Email,
		Role:      request.Role,
		TokenHash: tokenHash,
		TTL:       time.Duration(request.TTLMinutes) * time.Minute,
		InvitedBy: OperatorActor(context),
		Now:       handlers.clock(),
	})
	if invitationErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: invitationErr.Error()})
		return
	}

	if createErr := handlers.database.Create(&invitation).Error; createErr != nil {
		handlers.logger.Error("invitation_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionInvitationCreated,
		ResourceType: resourceTypeInvitation,
		ResourceID:   invitation.ID,
		Detail:       gin.H{"email": invitation.Email, "role": invitation.Role},
	})

	context.JSON(http.StatusCreated, createInvitationResponse{
		Invitation: invitationToResponse(invitation),
		Token:      token,
	})
}

// ListInvitations returns a portal's invitations, optionally filtered by status.
func (handlers *InvitationHandlers) ListInvitations(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	limit, offset := pagination(context)
	query := handlers.database.Where("portal_id = ?", portal.ID)
	if status := strings.TrimSpace(context.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var invitations []model.UserInvitation
	if queryErr := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&invitations).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listInvitationsResponse{Invitations: make([]invitationResponse, 0, len(invitations))}
	for _, invitation := range invitations {
		response.Invitations = append(response.Invitations, invitationToResponse(invitation))
	}
	context.JSON(http.StatusOK, response)
}

// RevokeInvitation marks a pending invitation revoked.
func (handlers *InvitationHandlers) RevokeInvitation(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	invitationID := strings.TrimSpace(context.Param(routeParameterInvitationID))
	var invitation model.UserInvitation
	findErr := handlers.database.First(&invitation, "id = ? AND portal_id = ?", invitationID, portal.ID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownInvitation})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}
	if invitation.Status != model.InvitationStatusPending {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueInvitationSpent})
		return
	}

	if updateErr := handlers.database.Model(&model.UserInvitation{}).
		Where("id = ?", invitation.ID).
		Update("status", model.InvitationStatusRevoked).Error; updateErr != nil {
		handlers.logger.Error("invitation_revoke", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionInvitationRevoked,
		ResourceType: resourceTypeInvitation,
		ResourceID:   invitation.ID,
		Detail:       gin.H{"email": invitation.Email},
	})

	context.Status(http.StatusNoContent)
}

type acceptInvitationRequest struct {
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type acceptInvitationResponse struct {
	User portalUserResponse `json:"user"`
}

// AcceptInvitation redeems an invitation token on the public portal API,
// creating or activating the invited user. Tokens are single-use.
func (handlers *InvitationHandlers) AcceptInvitation(context *gin.Context) {
	portal, found := portalBySlug(context, handlers.database)
	if !found {
		return
	}
	if portal.Status != model.PortalStatusActive {
		context.JSON(http.StatusForbidden, gin.H{jsonKeyError: errorValuePortalInactive})
		return
	}

	var request acceptInvitationRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil || strings.TrimSpace(request.Token) == "" {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	passwordHash, hashErr := auth.HashPassword(request.Password)
	if hashErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: hashErr.Error()})
		return
	}

	tokenHash := auth.HashLinkToken(strings.TrimSpace(request.Token))
	var invitation model.UserInvitation
	findErr := handlers.database.First(&invitation, "token_hash = ? AND portal_id = ?", tokenHash, portal.ID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownInvitation})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return
	}

	now := handlers.clock()
	if !invitation.Redeemable(now) {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueInvitationSpent})
		return
	}

	var acceptedUser model.ClientPortalUser
	transactionErr := handlers.database.Transaction(func(transaction *gorm.DB) error {
		claim := transaction.Model(&model.UserInvitation{}).
			Where("id = ? AND status = ?", invitation.ID, model.InvitationStatusPending).
			Updates(map[string]any{
				"status":      model.InvitationStatusAccepted,
				"accepted_at": now,
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return errInvitationAlreadyClaimed
		}

		var existing model.ClientPortalUser
		lookupErr := transaction.First(&existing, "portal_id = ? AND email = ?", portal.ID, invitation.Email).Error
		switch {
		case lookupErr == nil:
			userUpdates := map[string]any{
				"status":        model.PortalUserStatusActive,
				"role":          invitation.Role,
				"password_hash": passwordHash,
			}
			if displayName := strings.TrimSpace(request.DisplayName); displayName != "" {
				userUpdates["display_name"] = displayName
			}
			if updateErr := transaction.Model(&model.ClientPortalUser{}).
				Where("id = ?", existing.ID).Updates(userUpdates).Error; updateErr != nil {
				return updateErr
			}
			if reloadErr := transaction.First(&acceptedUser, "id = ?", existing.ID).Error; reloadErr != nil {
				return reloadErr
			}
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			created, createErr := model.NewClientPortalUser(model.ClientPortalUserInput{
				PortalID:     portal.ID,
				Email:        invitation.Email,
				DisplayName:  request.DisplayName,
				Role:         invitation.Role,
				Status:       model.PortalUserStatusActive,
				PasswordHash: passwordHash,
			})
			if createErr != nil {
				return createErr
			}
			if saveErr := transaction.Create(&created).Error; saveErr != nil {
				return saveErr
			}
			acceptedUser = created
		default:
			return lookupErr
		}

		return nil
	})
	if transactionErr != nil {
		if errors.Is(transactionErr, errInvitationAlreadyClaimed) {
			context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueInvitationSpent})
			return
		}
		handlers.logger.Error("invitation_accept", zap.Error(transactionErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        acceptedUser.Email,
		Action:       model.ActivityActionInvitationAccept,
		ResourceType: resourceTypeInvitation,
		ResourceID:   invitation.ID,
	})

	context.JSON(http.StatusOK, acceptInvitationResponse{User: portalUserToResponse(acceptedUser)})
}

// ExpireOverdue flips pending invitations whose deadline passed to expired.
// Runs from the background sweeper.
func (handlers *InvitationHandlers) ExpireOverdue() (int64, error) {
	result := handlers.database.Model(&model.UserInvitation{}).
		Where("status = ? AND expires_at < ?", model.InvitationStatusPending, handlers.clock()).
		Update("status", model.InvitationStatusExpired)
	return result.RowsAffected, result.Error
}

// PurgeStaleLoginLinks deletes magic sign-in links past their expiry.
// Consumed links fall out once the expiry passes. Runs from the
// background sweeper.
func (handlers *InvitationHandlers) PurgeStaleLoginLinks() (int64, error) {
	result := handlers.database.
		Where("expires_at < ?", handlers.clock()).
		Delete(&model.LoginLink{})
	return result.RowsAffected, result.Error
}
