package apiroutes

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/keymail/go-keymail-server/api"
	"github.com/keymail/go-keymail-server/api/interceptors"
	"github.com/keymail/go-keymail-server/global"
	"github.com/keymail/go-keymail-server/metrics"
	"github.com/keymail/go-keymail-server/repository"
	"github.com/keymail/go-keymail-server/services"
	"github.com/keymail/go-keymail-server/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// REST API routes
func ConfigRoutes(router *gin.Engine, dbSelector repository.DBSelector, env *types.Environment) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {
		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	// SERVICE definitions
	userService := services.NewUserService(dbSelector)
	challengeService := services.NewChallengeService(dbSelector)
	tokenService := services.NewTokenService(dbSelector)
	webauthnService := services.NewWebAuthnService(dbSelector, env)
	keyBackupService := services.NewKeyBackupService(dbSelector, env)

	// API definitions
	authApi := api.NewAuthApi(userService, challengeService, tokenService, env)
	accountApi := api.NewUserAccountApi(userService)
	keysApi := api.NewKeysApi(userService, keyBackupService)
	webauthnApi := api.NewWebAuthnApi(webauthnService, userService, tokenService, env)
	wellKnownApi := api.NewWellKnownApi()
	healthApi := api.NewHealthCheckAPI()

	// PUBLIC ROOT API
	rootPublicApi := router.Group("/")
	{
		rootPublicApi.GET(".well-known/keymail.json", wellKnownApi.ServerIdentity)
		rootPublicApi.GET("health", healthApi.HealthCheck)
	}

	// PUBLIC API
	publicApi := router.Group("/api", metrics.MetricsMiddleware(), interceptors.RateLimitMiddleware())
	{
		publicApi.POST("/v1/auth/challenge", authApi.Challenge)
		publicApi.POST("/v1/auth/verify", authApi.Verify)
		publicApi.POST("/v1/auth/register", authApi.Register)
		publicApi.POST("/v1/auth/refresh", authApi.Refresh)
		publicApi.POST("/v1/auth/logout", authApi.Logout)
		publicApi.POST("/v1/keys/parse", keysApi.ParseKey)

		publicApi.GET("/v1/webauthn/registration_options", webauthnApi.RegistrationOptions)
		publicApi.POST("/v1/webauthn/registration_verify", webauthnApi.VerifyRegistration)
		publicApi.GET("/v1/webauthn/login_options", webauthnApi.LoginOptions)
		publicApi.POST("/v1/webauthn/login_verify", webauthnApi.VerifyLogin)
	}

	// AUTHENTICATED API
	rootApi := router.Group("/api", metrics.MetricsMiddleware(), interceptors.RateLimitMiddleware(), interceptors.JWSMiddleware(userService))
	{
		rootApi.GET("/v1/user/me", accountApi.Me)
		rootApi.GET("/v1/findaddress", accountApi.FindAddress)
		rootApi.PUT("/v1/keybackup", keysApi.StoreKeyBackup)
		rootApi.GET("/v1/keybackup", keysApi.GetKeyBackup)
		rootApi.DELETE("/v1/keybackup", keysApi.DeleteKeyBackup)
	}

	return router
}
