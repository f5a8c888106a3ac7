package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/keymail/go-keymail-server/api/interceptors"
	"github.com/keymail/go-keymail-server/pgp"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

type KeysApi struct {
	userService      *services.UserService
	keyBackupService *services.KeyBackupService
	validate         *validator.Validate
}

func NewKeysApi(userService *services.UserService, keyBackupService *services.KeyBackupService) *KeysApi {
	return &KeysApi{
		userService:      userService,
		keyBackupService: keyBackupService,
		validate:         validator.New(),
	}
}

// ParseKey introspects an armored public key without storing anything
// @Summary Parse an armored public key
// @Tags Keys
// @Success 200 {object} types.OutputKeyMetadata
// @Failure 400 {object} api.ApiError "malformed key"
// @Accept json
// @Produce json
// @Router /api/v1/keys/parse [post]
func (ka *KeysApi) ParseKey(c *gin.Context) {
	var input types.InputParseKey
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := ka.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	meta, pErr := pgp.ParsePublicKey(input.PublicKey)
	if pErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "malformed public key")
		return
	}

	out := &types.OutputKeyMetadata{
		KeyID:       meta.KeyID,
		Fingerprint: meta.Fingerprint,
		Algorithm:   meta.Algorithm,
		BitLength:   int(meta.BitLength),
		CreatedAt:   meta.CreatedAt.UnixMilli(),
		Identities:  meta.Identities,
	}
	if meta.ExpiresAt != nil {
		expires := meta.ExpiresAt.UnixMilli()
		out.ExpiresAt = &expires
	}
	c.JSON(http.StatusOK, out)
}

// StoreKeyBackup deposits the caller's passphrase-encrypted private key
// @Summary Store an encrypted key backup
// @Description The blob is encrypted client side; the server stores ciphertext it cannot open
// @Tags Keys
// @Success 200 {object} types.KeyBackup
// @Failure 401 {object} api.ApiError "not authenticated"
// @Accept json
// @Produce json
// @Router /api/v1/keybackup [put]
func (ka *KeysApi) StoreKeyBackup(c *gin.Context) {
	var input types.InputKeyBackup
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := ka.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	user, uErr := ka.callerAccount(c)
	if uErr != nil {
		return
	}
	backup, bErr := ka.keyBackupService.StoreBackup(user, input.CipherPrivateKey)
	if bErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to store key backup")
		return
	}
	c.JSON(http.StatusOK, backup)
}

// GetKeyBackup returns the caller's encrypted key backup
// @Summary Retrieve the encrypted key backup
// @Tags Keys
// @Success 200 {object} types.KeyBackupEnvelope
// @Failure 404 {object} api.ApiError "no backup stored"
// @Produce json
// @Router /api/v1/keybackup [get]
func (ka *KeysApi) GetKeyBackup(c *gin.Context) {
	user, uErr := ka.callerAccount(c)
	if uErr != nil {
		return
	}
	envelope, bErr := ka.keyBackupService.RetrieveBackup(user.Fingerprint)
	if bErr != nil {
		ApiErrorf(c, http.StatusNotFound, "no backup stored")
		return
	}
	c.JSON(http.StatusOK, envelope)
}

// DeleteKeyBackup removes the caller's key backup
// @Summary Delete the encrypted key backup
// @Tags Keys
// @Success 200 {object} types.OutputSuccess
// @Produce json
// @Router /api/v1/keybackup [delete]
func (ka *KeysApi) DeleteKeyBackup(c *gin.Context) {
	user, uErr := ka.callerAccount(c)
	if uErr != nil {
		return
	}
	if dErr := ka.keyBackupService.DeleteBackup(user.Fingerprint); dErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to delete key backup")
		return
	}
	c.JSON(http.StatusOK, &types.OutputSuccess{Success: true})
}

func (ka *KeysApi) callerAccount(c *gin.Context) (*types.User, error) {
	fingerprint := c.GetString(interceptors.CtxSubjectFingerprint)
	if fingerprint == "" {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return nil, types.ErrNotAuthorized
	}
	user, err := ka.userService.GetUser(fingerprint)
	if err != nil {
		ApiErrorf(c, http.StatusUnauthorized, "not authenticated")
		return nil, err
	}
	return user, nil
}
