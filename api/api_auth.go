package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/keymail/go-keymail-server/api/interceptors"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/metrics"
	"github.com/keymail/go-keymail-server/pgp"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

// authFailedMessage is the single message for every verification failure.
// Which step failed (unknown email, stale challenge, bad signature) is
// deliberately not distinguishable from the response.
const authFailedMessage = "Authentication failed"

type AuthApi struct {
	userService      *services.UserService
	challengeService *services.ChallengeService
	tokenService     *services.TokenService
	env              *types.Environment
	validate         *validator.Validate
}

func NewAuthApi(userService *services.UserService, challengeService *services.ChallengeService, tokenService *services.TokenService, env *types.Environment) *AuthApi {
	return &AuthApi{
		userService:      userService,
		challengeService: challengeService,
		tokenService:     tokenService,
		env:              env,
		validate:         validator.New(),
	}
}

func authFailed(c *gin.Context) {
	metrics.LoginFailedMetricsCount.Inc()
	ApiErrorf(c, http.StatusUnauthorized, authFailedMessage)
}

// Challenge issues a login challenge for an email
// @Summary Issue a login challenge
// @Description Returns a challenge which the client signs with their private key. The response shape is identical whether or not the email maps to an account.
// @Tags Auth
// @Success 200 {object} types.ChallengeResponse
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Failure 500 {object} api.ApiError "Internal server error"
// @Accept json
// @Produce json
// @Router /api/v1/auth/challenge [post]
func (aa *AuthApi) Challenge(c *gin.Context) {
	var input types.InputChallenge
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := aa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	// an unknown or disabled account gets a decoy challenge bound to the
	// zero fingerprint, indistinguishable from a real one
	var challenge *types.Challenge
	var cErr error
	user, uErr := aa.userService.FindUserByEmail(input.Email)
	if uErr != nil || user.Status == types.UserStatusDisabled {
		challenge, cErr = aa.challengeService.CreateDecoyChallenge()
	} else {
		challenge, cErr = aa.challengeService.CreateChallenge(user.Fingerprint)
	}
	if cErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to generate challenge")
		return
	}
	metrics.ChallengesIssuedMetricsCount.Inc()
	c.JSON(http.StatusOK, &types.ChallengeResponse{Challenge: challenge.Value, Expires: challenge.Expires})
}

// Verify logs a user in with a signed challenge
// @Summary Verify a signed challenge
// @Description Consumes the challenge and, when the signature checks out against the account's stored key, returns a session token pair
// @Tags Auth
// @Success 200 {object} types.OutputToken
// @Failure 401 {object} api.ApiError "authentication failed"
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Accept json
// @Produce json
// @Router /api/v1/auth/verify [post]
func (aa *AuthApi) Verify(c *gin.Context) {
	var input types.InputVerify
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := aa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	challenge, chErr := aa.challengeService.GetChallenge(input.Challenge)
	if chErr != nil {
		authFailed(c)
		return
	}

	user, uErr := aa.userService.FindUserByEmail(input.Email)
	if uErr != nil {
		// consume anyway so the challenge cannot be retried against a
		// registration that lands a moment later
		aa.challengeService.ConsumeChallenge(challenge)
		authFailed(c)
		return
	}

	// a decoy challenge carries the zero fingerprint and can never match
	if challenge.Fingerprint != user.Fingerprint {
		aa.challengeService.ConsumeChallenge(challenge)
		authFailed(c)
		return
	}

	// consumption is the commit point: of two racing logins with the same
	// challenge exactly one passes this line
	if conErr := aa.challengeService.ConsumeChallenge(challenge); conErr != nil {
		authFailed(c)
		return
	}

	verifyStart := time.Now()
	valid, sErr := pgp.Verify(challenge.Value, input.Signature, user.PublicKeyArmor)
	metrics.SignatureVerifyProcessingLatency.Observe(float64(time.Since(verifyStart).Milliseconds()))
	if sErr != nil || !valid {
		// issuer key id is informational only, logged for diagnostics
		global.Logger.Log("msg", "signature verification failed", "fingerprint", user.Fingerprint, "issuerKeyId", pgp.IssuerKeyID(input.Signature))
		authFailed(c)
		return
	}

	if user.Status == types.UserStatusDisabled {
		authFailed(c)
		return
	}
	if user.Status == types.UserStatusPending {
		activated, aErr := aa.userService.ActivateUser(user.Fingerprint)
		if aErr != nil {
			ApiErrorf(c, http.StatusInternalServerError, "Failed to activate account")
			return
		}
		user = activated
	}

	metrics.LoginSuccessMetricsCount.Inc()
	issueSession(c, aa.tokenService, user)
}

// issueSession mints the token pair, records the refresh token in the ledger
// and hands everything to the client both as JSON and as httpOnly cookies
func issueSession(c *gin.Context, tokenService *services.TokenService, user *types.User) {
	accessToken, atErr := interceptors.GenerateAccessToken(global.PrivateKey, user)
	if atErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to issue session")
		return
	}
	refreshToken, refreshClaims, rtErr := interceptors.GenerateRefreshToken(global.PrivateKey, user)
	if rtErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to issue session")
		return
	}

	record := &types.RefreshTokenRecord{
		TokenID:     refreshClaims.TokenID,
		Fingerprint: user.Fingerprint,
		Email:       user.Email,
		Created:     time.Now().UTC().UnixMilli(),
		Expires:     refreshClaims.Expires * 1000,
	}
	if lErr := tokenService.SaveRefreshToken(record); lErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to issue session")
		return
	}

	setSessionCookies(c, accessToken, refreshToken)
	c.JSON(http.StatusOK, &types.OutputToken{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User: &types.OutputUser{
			Email:       user.Email,
			KeyID:       user.KeyID,
			Fingerprint: user.Fingerprint,
			AuthMethod:  user.AuthMethod,
			Status:      user.Status,
			Created:     user.Created,
		},
	})
}

// Register creates an account from an armored public key
// @Summary Register a new account
// @Description The client proves possession of the private key by signing a previously issued challenge with it
// @Tags Auth
// @Success 201 {object} types.OutputUser
// @Failure 400 {object} api.ApiError "malformed key or input"
// @Failure 401 {object} api.ApiError "authentication failed"
// @Failure 409 {object} api.ApiError "email or key already registered"
// @Accept json
// @Produce json
// @Router /api/v1/auth/register [post]
func (aa *AuthApi) Register(c *gin.Context) {
	var input types.InputRegister
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := aa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}
	if !input.AuthMethod.Valid() {
		ApiErrorf(c, http.StatusBadRequest, "unsupported auth method")
		return
	}

	if _, pErr := pgp.ParsePublicKey(input.PublicKey); pErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "malformed public key")
		return
	}

	challenge, chErr := aa.challengeService.GetChallenge(input.Challenge)
	if chErr != nil {
		authFailed(c)
		return
	}
	// a registration challenge was issued for an email with no account, so
	// it must carry the zero fingerprint
	if challenge.Fingerprint != types.ZeroFingerprint {
		aa.challengeService.ConsumeChallenge(challenge)
		authFailed(c)
		return
	}
	if conErr := aa.challengeService.ConsumeChallenge(challenge); conErr != nil {
		authFailed(c)
		return
	}

	valid, sErr := pgp.Verify(challenge.Value, input.Signature, input.PublicKey)
	if sErr != nil || !valid {
		authFailed(c)
		return
	}

	user := &types.User{
		Email:          input.Email,
		PublicKeyArmor: input.PublicKey,
		AuthMethod:     input.AuthMethod,
	}
	created, cErr := aa.userService.CreateUser(user)
	if cErr != nil {
		if errors.Is(cErr, types.ErrUserExists) {
			ApiErrorf(c, http.StatusConflict, "email or key already registered")
			return
		}
		if errors.Is(cErr, types.ErrBadRequest) || errors.Is(cErr, types.ErrKeyParse) {
			ApiErrorf(c, http.StatusBadRequest, "invalid registration input")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "Failed to register account")
		return
	}

	aa.enqueueProvisioning(created)
	metrics.RegistrationsMetricsCount.Inc()

	c.JSON(http.StatusCreated, &types.OutputUser{
		Email:       created.Email,
		KeyID:       created.KeyID,
		Fingerprint: created.Fingerprint,
		AuthMethod:  created.AuthMethod,
		Status:      created.Status,
		Created:     created.Created,
	})
}

// enqueueProvisioning schedules the mailbox creation for a new account.
// Registration succeeds even when the queue is down; the sweep rediscovers
// pending accounts.
func (aa *AuthApi) enqueueProvisioning(user *types.User) {
	if aa.env == nil || aa.env.TaskClient == nil {
		return
	}
	task, tErr := types.NewMailboxProvisionTask(&types.MailboxProvisionTask{
		Fingerprint: user.Fingerprint,
		Email:       user.Email,
	})
	if tErr != nil {
		global.Logger.Log("msg", "failed to create provisioning task", "err", tErr)
		return
	}
	if _, qErr := aa.env.TaskClient.Enqueue(task, asynq.MaxRetry(5), asynq.Timeout(60*time.Second)); qErr != nil {
		global.Logger.Log("msg", "failed to enqueue provisioning task", "err", qErr)
	}
}

// Refresh exchanges a refresh token for a new session pair
// @Summary Refresh a session
// @Description Rotates the refresh token: the presented token is revoked and a new pair is issued
// @Tags Auth
// @Success 200 {object} types.OutputToken
// @Failure 401 {object} api.ApiError "invalid or revoked refresh token"
// @Failure 403 {object} api.ApiError "access token presented instead of refresh token"
// @Accept json
// @Produce json
// @Router /api/v1/auth/refresh [post]
func (aa *AuthApi) Refresh(c *gin.Context) {
	token, cErr := c.Cookie(refreshTokenCookie)
	if cErr != nil || token == "" {
		token = interceptors.ExtractToken(c)
	}
	if token == "" {
		ApiErrorf(c, http.StatusUnauthorized, "refresh token required")
		return
	}

	claims, vErr := interceptors.VerifyToken(token)
	if vErr != nil {
		ApiErrorf(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	// an access token never mints new sessions, regardless of validity
	if claims.TokenType != types.TokenTypeRefresh || claims.TokenID == "" {
		ApiErrorf(c, http.StatusForbidden, "refresh token required")
		return
	}

	record, rErr := aa.tokenService.GetRefreshToken(claims.TokenID)
	if rErr != nil || record.Fingerprint != claims.Subject {
		ApiErrorf(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, uErr := aa.userService.GetUser(claims.Subject)
	if uErr != nil {
		ApiErrorf(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if user.Status == types.UserStatusDisabled {
		clearSessionCookies(c)
		ApiErrorf(c, http.StatusUnauthorized, "account disabled")
		return
	}

	// rotation: the old token dies with its ledger row
	if dErr := aa.tokenService.DeleteRefreshToken(claims.TokenID); dErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	metrics.TokenRefreshMetricsCount.Inc()
	issueSession(c, aa.tokenService, user)
}

// Logout revokes the current refresh token and clears the session cookies
// @Summary Log out
// @Tags Auth
// @Success 200 {object} types.OutputSuccess
// @Produce json
// @Router /api/v1/auth/logout [post]
func (aa *AuthApi) Logout(c *gin.Context) {
	if token, err := c.Cookie(refreshTokenCookie); err == nil && token != "" {
		if claims, vErr := interceptors.VerifyToken(token); vErr == nil && claims.TokenID != "" {
			aa.tokenService.DeleteRefreshToken(claims.TokenID)
		}
	}
	clearSessionCookies(c)
	c.JSON(http.StatusOK, &types.OutputSuccess{Success: true})
}
