package interceptors

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
)

// context keys set by JWSMiddleware for downstream handlers
const (
	CtxSubjectFingerprint = "subjectFingerprint"
	CtxSubjectEmail       = "subjectEmail"
)

// GenerateAccessToken mints a short-lived access token for an authenticated
// account, signed with the server's ed25519 key
func GenerateAccessToken(serverPrivateKey ed25519.PrivateKey, user *types.User) (string, error) {
	now := time.Now().UTC()
	claims := &types.TokenClaims{
		Subject:   user.Fingerprint,
		Email:     user.Email,
		KeyID:     user.KeyID,
		TokenType: types.TokenTypeAccess,
		IssuedAt:  now.Unix(),
		Expires:   now.Add(time.Duration(global.Conf.Auth.AccessTokenTTLMinutes) * time.Minute).Unix(),
		Issuer:    global.Conf.ServerDomain,
		Audience:  "keymail",
	}
	return signClaims(serverPrivateKey, claims)
}

// GenerateRefreshToken mints a refresh token carrying a fresh jti. The jti is
// returned alongside the token so the caller can record it in the ledger.
func GenerateRefreshToken(serverPrivateKey ed25519.PrivateKey, user *types.User) (string, *types.TokenClaims, error) {
	now := time.Now().UTC()
	claims := &types.TokenClaims{
		Subject:   user.Fingerprint,
		Email:     user.Email,
		KeyID:     user.KeyID,
		TokenType: types.TokenTypeRefresh,
		IssuedAt:  now.Unix(),
		Expires:   now.Add(time.Duration(global.Conf.Auth.RefreshTokenTTLHours) * time.Hour).Unix(),
		TokenID:   uuid.NewString(),
		Issuer:    global.Conf.ServerDomain,
		Audience:  "keymail",
	}
	token, err := signClaims(serverPrivateKey, claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func signClaims(serverPrivateKey ed25519.PrivateKey, claims *types.TokenClaims) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: serverPrivateKey}, nil)
	if err != nil {
		return "", err
	}
	payload, plErr := json.Marshal(claims)
	if plErr != nil {
		return "", plErr
	}
	object, sErr := signer.Sign(payload)
	if sErr != nil {
		return "", sErr
	}
	return object.CompactSerialize()
}

// VerifyToken checks the signature and expiry of a session token and returns
// its claims. ErrTokenExpired is distinguished so the client knows a refresh
// may still succeed.
func VerifyToken(token string) (*types.TokenClaims, error) {
	object, err := jose.ParseSigned(token)
	if err != nil {
		return nil, types.ErrTokenInvalid
	}
	payload, vErr := object.Verify(global.PublicKey)
	if vErr != nil {
		return nil, types.ErrTokenInvalid
	}
	var claims types.TokenClaims
	if uErr := json.Unmarshal(payload, &claims); uErr != nil {
		return nil, types.ErrTokenInvalid
	}
	if claims.Expires == 0 || claims.Subject == "" || claims.TokenType == "" {
		return nil, types.ErrTokenInvalid
	}
	if claims.Expires < time.Now().UTC().Unix() {
		return nil, types.ErrTokenExpired
	}
	return &claims, nil
}

// ExtractToken pulls the session token from the Authorization bearer header
// or the auth_token cookie, header taking precedence. Empty string when
// neither is present.
func ExtractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie("auth_token"); err == nil {
		return cookie
	}
	return ""
}

// JWSMiddleware guards authenticated routes. Only access tokens pass; a
// refresh token presented here is rejected even though its signature is good.
func JWSMiddleware(userService *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		claims, err := VerifyToken(token)
		if err != nil {
			if errors.Is(err, types.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.TokenType != types.TokenTypeAccess {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access token required"})
			return
		}

		user, uErr := userService.GetUser(claims.Subject)
		if uErr != nil {
			if !errors.Is(uErr, types.ErrNotFound) {
				global.Logger.Log("msg", "failed to load token subject", "err", uErr)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if user.Status == types.UserStatusDisabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account disabled"})
			return
		}

		c.Set(CtxSubjectFingerprint, claims.Subject)
		c.Set(CtxSubjectEmail, claims.Email)
		c.Next()
	}
}
