package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/pgp"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

type WebAuthnApi struct {
	webauthnService *services.WebAuthnService
	userService     *services.UserService
	tokenService    *services.TokenService
	validator       *validator.Validate
	env             *types.Environment
}

func NewWebAuthnApi(webAuthnService *services.WebAuthnService, userService *services.UserService, tokenService *services.TokenService, env *types.Environment) *WebAuthnApi {
	return &WebAuthnApi{
		webauthnService: webAuthnService,
		userService:     userService,
		tokenService:    tokenService,
		validator:       validator.New(),
		env:             env,
	}
}

func webauthnSessionKey(fingerprint string) string {
	return "webauthn_user_sess_" + strings.ToLower(fingerprint)
}

func (a *WebAuthnApi) storeSession(ctx context.Context, key string, session *webauthn.SessionData) error {
	sessionBytes, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return a.env.RedisClient.Set(ctx, key, sessionBytes, time.Minute*5).Err()
}

func (a *WebAuthnApi) loadSession(ctx context.Context, key string) (*webauthn.SessionData, error) {
	sessBytes, err := a.env.RedisClient.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var session webauthn.SessionData
	if uErr := json.Unmarshal([]byte(sessBytes), &session); uErr != nil {
		return nil, uErr
	}
	return &session, nil
}

// RegistrationOptions godoc
// @Summary Registration options for a new hardware key account
// @Description Returns the WebAuthn creation options. The client supplies the fingerprint of the PGP key the account will be bound to.
// @Tags WebAuthn
// @Accept json
// @Produce json
// @Param email query string true "Email address to register"
// @Param fingerprint query string true "PGP key fingerprint of the account"
// @Success 200 {object} protocol.PublicKeyCredentialCreationOptions
// @Failure 400 {object} api.ApiError "invalid email address"
// @Failure 409 {object} api.ApiError "email already exists"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/webauthn/registration_options [get]
func (a *WebAuthnApi) RegistrationOptions(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		ApiErrorf(c, http.StatusBadRequest, "email query parameter is required")
		return
	}
	fingerprint := strings.ToLower(c.Query("fingerprint"))
	if len(fingerprint) != 40 {
		ApiErrorf(c, http.StatusBadRequest, "fingerprint query parameter is required")
		return
	}
	if _, hErr := hex.DecodeString(fingerprint); hErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "fingerprint must be hex")
		return
	}
	pe, err := mail.ParseAddress(email)
	if err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid email address: %s", err)
		return
	}

	// check if email already exists
	_, fuErr := a.userService.FindUserByEmail(pe.Address)
	if fuErr == nil {
		ApiErrorf(c, http.StatusConflict, "email already exists")
		return
	} else if !errors.Is(fuErr, types.ErrNotFound) && !errors.Is(fuErr, types.ErrBadRequest) {
		ApiErrorf(c, http.StatusInternalServerError, "failed to search for email")
		return
	}

	user := &types.WebAuthnUser{
		ID:          []byte(fingerprint),
		Name:        strings.ToLower(pe.Address),
		DisplayName: strings.Split(pe.Address, "@")[0],
	}
	options, session, err := a.env.WebAuthn.BeginRegistration(user)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to begin registration: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sErr := a.storeSession(ctx, webauthnSessionKey(fingerprint), session); sErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to save session: %s", sErr))
		ApiErrorf(c, http.StatusInternalServerError, "failed to store session")
		return
	}

	c.JSON(http.StatusOK, options.Response)
}

// VerifyRegistration godoc
// @Summary Verify a WebAuthn registration and create the account
// @Description Validates the attestation, stores the credential and registers the account with its PGP public key
// @Tags WebAuthn
// @Accept json
// @Produce json
// @Param body body types.InputWebAuthnRegister true "Attestation response + account payload"
// @Success 200 {object} types.OutputToken
// @Failure 400 {object} api.ApiError "invalid input parameters"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/webauthn/registration_verify [post]
func (a *WebAuthnApi) VerifyRegistration(c *gin.Context) {
	var req types.InputWebAuthnRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(req); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	meta, pErr := pgp.ParsePublicKey(req.PublicKey)
	if pErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "malformed public key")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessKey := webauthnSessionKey(meta.Fingerprint)
	session, sErr := a.loadSession(ctx, sessKey)
	if sErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to get session: %s", sErr))
		ApiErrorf(c, http.StatusForbidden, "session not found")
		return
	}

	user := &types.WebAuthnUser{
		ID:          []byte(meta.Fingerprint),
		Name:        strings.ToLower(req.Email),
		DisplayName: strings.Split(req.Email, "@")[0],
	}

	// the library's FinishRegistration wants the raw http request, so parse
	// the attestation body ourselves
	attRespMrsh, mrshErr := json.Marshal(req.AttestationResponse)
	if mrshErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal attestation response: %s", mrshErr)
		return
	}
	reader := io.NopCloser(bytes.NewReader(attRespMrsh))
	pcc, pccErr := protocol.ParseCredentialCreationResponseBody(reader)
	if pccErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to parse credential creation response: %s", pccErr))
		ApiErrorf(c, http.StatusForbidden, "failed to finish registration")
		return
	}
	credential, cErr := a.env.WebAuthn.CreateCredential(user, *session, pcc)
	if cErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to create credential: %s", cErr))
		ApiErrorf(c, http.StatusInternalServerError, "Failed to finish registration. Please contact support.")
		return
	}
	user.Credentials = append(user.Credentials, *credential)

	if suErr := a.webauthnService.SaveUser(user); suErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to save user: %s", suErr))
		ApiErrorf(c, http.StatusInternalServerError, "failed to save user")
		return
	}
	if _, delErr := a.env.RedisClient.Del(ctx, sessKey).Result(); delErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to delete session: %s", delErr))
	}

	account := &types.User{
		Email:          req.Email,
		PublicKeyArmor: req.PublicKey,
		AuthMethod:     types.AuthMethodHardwareKey,
	}
	created, cuErr := a.userService.CreateUser(account)
	if cuErr != nil {
		if errors.Is(cuErr, types.ErrUserExists) || errors.Is(cuErr, types.ErrConflict) {
			ApiErrorf(c, http.StatusConflict, "user already exists")
			return
		}
		ApiErrorf(c, http.StatusBadRequest, "failed to register user")
		return
	}

	issueSession(c, a.tokenService, created)
}

// LoginOptions godoc
// @Summary Login options for a hardware key account
// @Tags WebAuthn
// @Produce json
// @Param email query string true "Email address of the account"
// @Success 200 {object} protocol.PublicKeyCredentialRequestOptions
// @Failure 404 {object} api.ApiError "account not found"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/webauthn/login_options [get]
func (a *WebAuthnApi) LoginOptions(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		ApiErrorf(c, http.StatusBadRequest, "email query parameter is required")
		return
	}
	userDB, uErr := a.webauthnService.GetUserByEmail(email)
	if uErr != nil {
		ApiErrorf(c, http.StatusNotFound, "account not found")
		return
	}
	user := types.MapWebAuthnUserFromDB(*userDB)

	options, session, err := a.env.WebAuthn.BeginLogin(user)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to begin login: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sErr := a.storeSession(ctx, webauthnSessionKey(string(user.ID)), session); sErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to store session")
		return
	}

	c.JSON(http.StatusOK, options.Response)
}

// VerifyLogin godoc
// @Summary Verify a WebAuthn assertion and open a session
// @Tags WebAuthn
// @Accept json
// @Produce json
// @Param body body types.InputWebAuthnLogin true "Assertion response"
// @Success 200 {object} types.OutputToken
// @Failure 401 {object} api.ApiError "authentication failed"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Router /api/v1/webauthn/login_verify [post]
func (a *WebAuthnApi) VerifyLogin(c *gin.Context) {
	var req types.InputWebAuthnLogin
	if err := c.ShouldBindJSON(&req); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request: %s", err)
		return
	}
	if vErr := a.validator.Struct(req); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	userDB, uErr := a.webauthnService.GetUserByEmail(req.Email)
	if uErr != nil {
		authFailed(c)
		return
	}
	user := types.MapWebAuthnUserFromDB(*userDB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessKey := webauthnSessionKey(string(user.ID))
	session, sErr := a.loadSession(ctx, sessKey)
	if sErr != nil {
		authFailed(c)
		return
	}

	assertMrsh, mrshErr := json.Marshal(req.AssertionResponse)
	if mrshErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to marshal assertion response: %s", mrshErr)
		return
	}
	reader := io.NopCloser(bytes.NewReader(assertMrsh))
	pca, pcaErr := protocol.ParseCredentialRequestResponseBody(reader)
	if pcaErr != nil {
		authFailed(c)
		return
	}
	if _, vErr := a.env.WebAuthn.ValidateLogin(user, *session, pca); vErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to validate login: %s", vErr))
		authFailed(c)
		return
	}
	if _, delErr := a.env.RedisClient.Del(ctx, sessKey).Result(); delErr != nil {
		global.Logger.Log("error", fmt.Sprintf("failed to delete session: %s", delErr))
	}

	account, aErr := a.userService.GetUser(string(user.ID))
	if aErr != nil {
		authFailed(c)
		return
	}
	if account.Status == types.UserStatusDisabled {
		authFailed(c)
		return
	}
	if account.Status == types.UserStatusPending {
		activated, actErr := a.userService.ActivateUser(account.Fingerprint)
		if actErr != nil {
			ApiErrorf(c, http.StatusInternalServerError, "Failed to activate account")
			return
		}
		account = activated
	}

	issueSession(c, a.tokenService, account)
}
