package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keymail/go-keymail-server/global"
)

const (
	authTokenCookie    = "auth_token"
	refreshTokenCookie = "refresh_token"
)

// setSessionCookies stores the freshly minted token pair in httpOnly cookies.
// The refresh cookie is scoped to the auth endpoints so it never rides along
// on resource requests.
func setSessionCookies(c *gin.Context, accessToken string, refreshToken string) {
	secure := global.Conf.Mode == "release"

	access := http.Cookie{
		Name:     authTokenCookie,
		Value:    accessToken,
		Expires:  time.Now().Add(time.Duration(global.Conf.Auth.AccessTokenTTLMinutes) * time.Minute),
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	http.SetCookie(c.Writer, &access)

	if refreshToken != "" {
		refresh := http.Cookie{
			Name:     refreshTokenCookie,
			Value:    refreshToken,
			Expires:  time.Now().Add(time.Duration(global.Conf.Auth.RefreshTokenTTLHours) * time.Hour),
			Path:     "/api/v1/auth",
			Secure:   secure,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		}
		http.SetCookie(c.Writer, &refresh)
	}
}

// clearSessionCookies expires both session cookies
func clearSessionCookies(c *gin.Context) {
	expired := time.Unix(0, 0)
	http.SetCookie(c.Writer, &http.Cookie{Name: authTokenCookie, Value: "", Expires: expired, Path: "/", HttpOnly: true, SameSite: http.SameSiteStrictMode})
	http.SetCookie(c.Writer, &http.Cookie{Name: refreshTokenCookie, Value: "", Expires: expired, Path: "/api/v1/auth", HttpOnly: true, SameSite: http.SameSiteStrictMode})
}
