package interceptors

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/types"
	"github.com/tj/assert"
)

func initTokenTest(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)
	global.PublicKey = pub
	global.PrivateKey = priv
	global.Conf.ServerDomain = "test.keymail.io"
	global.Conf.Auth.AccessTokenTTLMinutes = 15
	global.Conf.Auth.RefreshTokenTTLHours = 24
	return priv
}

func testUser() *types.User {
	return &types.User{
		Fingerprint: "c04a76ba5e9e90cfbebfc5b2d1a9f3e0142ad501",
		Email:       "alice@keymail.io",
		KeyID:       "D1A9F3E0142AD501",
		Status:      types.UserStatusActive,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	priv := initTokenTest(t)
	user := testUser()

	token, err := GenerateAccessToken(priv, user)
	assert.NoError(t, err)

	claims, err := VerifyToken(token)
	assert.NoError(t, err)
	assert.Equal(t, user.Fingerprint, claims.Subject)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, user.KeyID, claims.KeyID)
	assert.Equal(t, types.TokenTypeAccess, claims.TokenType)
	assert.Equal(t, "test.keymail.io", claims.Issuer)
	assert.Equal(t, "keymail", claims.Audience)
	assert.Empty(t, claims.TokenID)
	assert.True(t, claims.Expires > claims.IssuedAt)
}

func TestRefreshTokenCarriesTokenID(t *testing.T) {
	priv := initTokenTest(t)

	token, issued, err := GenerateRefreshToken(priv, testUser())
	assert.NoError(t, err)
	assert.NotEmpty(t, issued.TokenID)

	claims, err := VerifyToken(token)
	assert.NoError(t, err)
	assert.Equal(t, types.TokenTypeRefresh, claims.TokenType)
	assert.Equal(t, issued.TokenID, claims.TokenID)

	// a second token must never reuse the ledger id
	_, second, err := GenerateRefreshToken(priv, testUser())
	assert.NoError(t, err)
	assert.NotEqual(t, issued.TokenID, second.TokenID)
}

func TestExpiredTokenDistinguished(t *testing.T) {
	priv := initTokenTest(t)
	global.Conf.Auth.AccessTokenTTLMinutes = -1

	token, err := GenerateAccessToken(priv, testUser())
	assert.NoError(t, err)

	_, err = VerifyToken(token)
	assert.True(t, errors.Is(err, types.ErrTokenExpired))
}

func TestForeignSignatureRejected(t *testing.T) {
	initTokenTest(t)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(t, err)

	token, err := GenerateAccessToken(otherPriv, testUser())
	assert.NoError(t, err)

	_, err = VerifyToken(token)
	assert.True(t, errors.Is(err, types.ErrTokenInvalid))
}

func TestMalformedTokenRejected(t *testing.T) {
	initTokenTest(t)
	_, err := VerifyToken("not.a.token")
	assert.True(t, errors.Is(err, types.ErrTokenInvalid))
}

func TestExtractToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/user/me", nil)
	assert.Empty(t, ExtractToken(c))

	c.Request.AddCookie(&http.Cookie{Name: "auth_token", Value: "from-cookie"})
	assert.Equal(t, "from-cookie", ExtractToken(c))

	// header wins over the cookie
	c.Request.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", ExtractToken(c))

	c.Request.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "from-cookie", ExtractToken(c))
}
