package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const (
	errorValueUnknownUser   = "unknown_user"
	errorValueEmailTaken    = "email_taken"
	errorValueLastOwner     = "last_owner"
	resourceTypePortalUser  = "portal_user"
	routeParameterUserID    = "user_id"
	queryParameterUserState = "status"
)

// PortalUserHandlers serves the agency-facing portal user management API.
type PortalUserHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	recorder *ActivityRecorder
}

// NewPortalUserHandlers constructs PortalUserHandlers.
func NewPortalUserHandlers(database *gorm.DB, logger *zap.Logger, recorder *ActivityRecorder) *PortalUserHandlers {
	return &PortalUserHandlers{database: database, logger: logger, recorder: recorder}
}

type createPortalUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

type updatePortalUserRequest struct {
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role"`
	Status      *string `json:"status"`
	Password    *string `json:"password"`
}

type portalUserResponse struct {
	ID          string `json:"id"`
	PortalID    string `json:"portal_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	HasPassword bool   `json:"has_password"`
	LastLoginAt int64  `json:"last_login_at"`
	CreatedAt   int64  `json:"created_at"`
}

type listPortalUsersResponse struct {
	Users []portalUserResponse `json:"users"`
}

func portalUserToResponse(portalUser model.ClientPortalUser) portalUserResponse {
	return portalUserResponse{
		ID:          portalUser.ID,
		PortalID:    portalUser.PortalID,
		Email:       portalUser.Email,
		DisplayName: portalUser.DisplayName,
		Role:        portalUser.Role,
		Status:      portalUser.Status,
		HasPassword: portalUser.PasswordHash != "",
		LastLoginAt: unixOrZero(portalUser.LastLoginAt),
		CreatedAt:   unixOrZero(portalUser.CreatedAt),
	}
}

// CreateUser adds a portal user directly, already active when a password
// is supplied, invited otherwise.
func (handlers *PortalUserHandlers) CreateUser(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	var request createPortalUserRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	status := model.PortalUserStatusInvited
	passwordHash := ""
	if strings.TrimSpace(request.Password) != "" {
		hashed, hashErr := auth.HashPassword(request.Password)
		if hashErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: hashErr.Error()})
			return
		}
		passwordHash = hashed
		status = model.PortalUserStatusActive
	}

	portalUser, userErr := model.NewClientPortalUser(model.ClientPortalUserInput{
		PortalID:     portal.ID,
		Email:        request.Email,
		DisplayName:  request.DisplayName,
		Role:         request.Role,
		Status:       status,
		PasswordHash: passwordHash,
	})
	if userErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: userErr.Error()})
		return
	}

	var existingCount int64
	if countErr := handlers.database.Model(&model.ClientPortalUser{}).
		Where("portal_id = ? AND email = ?", portal.ID, portalUser.Email).
		Count(&existingCount).Error; countErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	if existingCount > 0 {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueEmailTaken})
		return
	}

	if createErr := handlers.database.Create(&portalUser).Error; createErr != nil {
		handlers.logger.Error("portal_user_create", zap.Error(createErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionUserCreated,
		ResourceType: resourceTypePortalUser,
		ResourceID:   portalUser.ID,
		Detail:       gin.H{"email": portalUser.Email, "role": portalUser.Role},
	})

	context.JSON(http.StatusCreated, portalUserToResponse(portalUser))
}

// ListUsers returns a portal's users, optionally filtered by status.
func (handlers *PortalUserHandlers) ListUsers(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}

	limit, offset := pagination(context)
	query := handlers.database.Where("portal_id = ?", portal.ID)
	if status := strings.TrimSpace(context.Query(queryParameterUserState)); status != "" {
		if statusErr := model.ValidatePortalUserStatus(status); statusErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: statusErr.Error()})
			return
		}
		query = query.Where("status = ?", status)
	}

	var portalUsers []model.ClientPortalUser
	if queryErr := query.Order("created_at asc").Limit(limit).Offset(offset).Find(&portalUsers).Error; queryErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	response := listPortalUsersResponse{Users: make([]portalUserResponse, 0, len(portalUsers))}
	for _, portalUser := range portalUsers {
		response.Users = append(response.Users, portalUserToResponse(portalUser))
	}
	context.JSON(http.StatusOK, response)
}

// UpdateUser applies a partial update to a portal user.
func (handlers *PortalUserHandlers) UpdateUser(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	portalUser, userFound := handlers.userByID(context, portal.ID)
	if !userFound {
		return
	}

	var request updatePortalUserRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	updates := map[string]any{}
	if request.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*request.DisplayName)
	}
	if request.Role != nil {
		if roleErr := model.ValidatePortalUserRole(*request.Role); roleErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: roleErr.Error()})
			return
		}
		updates["role"] = *request.Role
	}
	if request.Status != nil {
		if statusErr := model.ValidatePortalUserStatus(*request.Status); statusErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: statusErr.Error()})
			return
		}
		updates["status"] = *request.Status
	}
	if request.Password != nil {
		hashed, hashErr := auth.HashPassword(*request.Password)
		if hashErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: hashErr.Error()})
			return
		}
		updates["password_hash"] = hashed
	}

	if len(updates) == 0 {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueNothingToDo})
		return
	}

	demotesOwner := portalUser.Role == model.PortalUserRoleOwner &&
		((request.Role != nil && *request.Role != model.PortalUserRoleOwner) ||
			(request.Status != nil && *request.Status != model.PortalUserStatusActive))
	if demotesOwner && portalUser.Status == model.PortalUserStatusActive {
		remaining, remainingErr := handlers.activeOwnerCount(portal.ID, portalUser.ID)
		if remainingErr != nil {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
			return
		}
		if remaining == 0 {
			context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueLastOwner})
			return
		}
	}

	if updateErr := handlers.database.Model(&model.ClientPortalUser{}).Where("id = ?", portalUser.ID).Updates(updates).Error; updateErr != nil {
		handlers.logger.Error("portal_user_update", zap.Error(updateErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionUserUpdated,
		ResourceType: resourceTypePortalUser,
		ResourceID:   portalUser.ID,
		Detail:       gin.H{"fields": updateFieldNames(updates)},
	})

	var updated model.ClientPortalUser
	if reloadErr := handlers.database.First(&updated, "id = ?", portalUser.ID).Error; reloadErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}
	context.JSON(http.StatusOK, portalUserToResponse(updated))
}

// DeleteUser removes a portal user. The last active owner cannot be removed.
func (handlers *PortalUserHandlers) DeleteUser(context *gin.Context) {
	portal, found := portalByID(context, handlers.database)
	if !found {
		return
	}
	portalUser, userFound := handlers.userByID(context, portal.ID)
	if !userFound {
		return
	}

	if portalUser.Role == model.PortalUserRoleOwner && portalUser.Status == model.PortalUserStatusActive {
		remaining, remainingErr := handlers.activeOwnerCount(portal.ID, portalUser.ID)
		if remainingErr != nil {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
			return
		}
		if remaining == 0 {
			context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueLastOwner})
			return
		}
	}

	if deleteErr := handlers.database.Delete(&model.ClientPortalUser{}, "id = ?", portalUser.ID).Error; deleteErr != nil {
		handlers.logger.Error("portal_user_delete", zap.Error(deleteErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDeleteFailed})
		return
	}

	handlers.recorder.Record(context, model.ClientPortalActivityInput{
		PortalID:     portal.ID,
		Actor:        OperatorActor(context),
		Action:       model.ActivityActionUserDeleted,
		ResourceType: resourceTypePortalUser,
		ResourceID:   portalUser.ID,
		Detail:       gin.H{"email": portalUser.Email},
	})

	context.Status(http.StatusNoContent)
}

func (handlers *PortalUserHandlers) userByID(context *gin.Context, portalID string) (model.ClientPortalUser, bool) {
	userID := strings.TrimSpace(context.Param(routeParameterUserID))
	var portalUser model.ClientPortalUser
	findErr := handlers.database.First(&portalUser, "id = ? AND portal_id = ?", userID, portalID).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownUser})
		} else {
			context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		}
		return model.ClientPortalUser{}, false
	}
	return portalUser, true
}

func (handlers *PortalUserHandlers) activeOwnerCount(portalID string, excludeUserID string) (int64, error) {
	var count int64
	countErr := handlers.database.Model(&model.ClientPortalUser{}).
		Where("portal_id = ? AND role = ? AND status = ? AND id <> ?",
			portalID, model.PortalUserRoleOwner, model.PortalUserStatusActive, excludeUserID).
		Count(&count).Error
	return count, countErr
}
