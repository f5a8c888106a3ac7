package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keymail/go-keymail-server/global"
)

type HealthCheckAPI struct {
}

func NewHealthCheckAPI() *HealthCheckAPI {
	return &HealthCheckAPI{}
}

func (ha *HealthCheckAPI) HealthCheck(c *gin.Context) {
	mode := global.Conf.Mode
	domain := global.Conf.ServerDomain
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode, "domain": domain})
}
