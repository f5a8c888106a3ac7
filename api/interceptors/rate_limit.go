package interceptors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	apiutil "github.com/keymail/go-keymail-server/api/util"
	"github.com/keymail/go-keymail-server/global"
)

const (
	LimitRequestsPerSecond         = 5
	LimitRequestChallengePerSecond = 1
)

var challengePathRe = regexp.MustCompile("^/api/v.*/auth/challenge$")

// RateLimitMiddleware throttles per client, keyed by a hash over the client
// IP and identifying headers. Challenge issuance gets a stricter limit since
// it writes a database row per request.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip, _ := apiutil.GetIPFromContext(c)
		if ip == nil {
			unkn := "unknown"
			ip = &unkn
		}
		userAgent := c.GetHeader("User-Agent")
		acceptLanguage := c.GetHeader("Accept-Language")
		referer := c.GetHeader("Referer")
		all := fmt.Sprintf("%s%s%s%s", *ip, userAgent, acceptLanguage, referer)
		for _, cookie := range c.Request.Cookies() {
			all = fmt.Sprintf("%s%s%s", all, cookie.Name, cookie.Value)
		}

		limit := LimitRequestsPerSecond
		if challengePathRe.MatchString(c.Request.URL.Path) {
			limit = LimitRequestChallengePerSecond
			all = fmt.Sprintf("%s%s", all, "_challenge")
		}

		hash := xxhash.Sum64String(all)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		result, err := global.RateLimiter.Allow(ctx, strconv.FormatUint(hash, 10), redis_rate.PerSecond(limit))
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, errors.New("failed to perform rate limit check"))
			return
		}
		if result.Allowed <= 0 {
			c.AbortWithError(http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit.Rate))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(result.ResetAfter.Milliseconds())))
		c.Next()
	}
}
