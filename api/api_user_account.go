package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/keymail/go-keymail-server/api/interceptors"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

type UserAccountApi struct {
	userService *services.UserService
	validate    *validator.Validate
}

func NewUserAccountApi(userService *services.UserService) *UserAccountApi {
	return &UserAccountApi{
		userService: userService,
		validate:    validator.New(),
	}
}

// Me returns the account of the authenticated caller
// @Summary Get own account
// @Tags User Account
// @Success 200 {object} types.OutputUser
// @Failure 401 {object} api.ApiError "not authenticated"
// @Produce json
// @Router /api/v1/user/me [get]
func (ua *UserAccountApi) Me(c *gin.Context) {
	fingerprint := c.GetString(interceptors.CtxSubjectFingerprint)
	if fingerprint == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return
	}
	user, err := ua.userService.GetUser(fingerprint)
	if err != nil {
		ApiErrorf(c, http.StatusNotFound, "account not found")
		return
	}
	c.JSON(http.StatusOK, &types.OutputUser{
		Email:       user.Email,
		KeyID:       user.KeyID,
		Fingerprint: user.Fingerprint,
		AuthMethod:  user.AuthMethod,
		Status:      user.Status,
		Created:     user.Created,
	})
}

// FindAddress resolves an email to the account's public key, for composing
// encrypted mail to another user of the same server
// @Summary Find the public key for an email
// @Tags User Account
// @Success 200 {object} types.OutputKeyMetadata
// @Failure 404 {object} api.ApiError "no such address"
// @Produce json
// @Router /api/v1/findaddress [get]
func (ua *UserAccountApi) FindAddress(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		ApiErrorf(c, http.StatusBadRequest, "email is required")
		return
	}
	user, err := ua.userService.FindUserByEmail(email)
	if err != nil || user.Status != types.UserStatusActive {
		// a disabled or pending account is not addressable
		ApiErrorf(c, http.StatusNotFound, "no such address")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":     user.Email,
		"keyId":     user.KeyID,
		"publicKey": user.PublicKeyArmor,
	})
}
