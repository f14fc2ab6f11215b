package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/lavsmart/cyclebridge/internal/models"
)

const idempotencyTTL = 24 * time.Hour

// IdempotencyMiddleware replays the cached initiation response when a
// kiosk retries with the same Idempotency-Key, so one button press never
// creates two gateway payments. The header is optional; requests without
// it pass straight through.
func IdempotencyMiddleware(redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		cached, err := redisClient.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
		if err == nil {
			var resp models.CreatePaymentResponse
			if err := json.Unmarshal([]byte(cached), &resp); err == nil {
				c.JSON(http.StatusOK, resp)
				c.Abort()
				return
			}
		}

		c.Set("idempotency_key", key)
		c.Next()
	}
}

// CacheResponse stores an initiation response under its idempotency key.
func CacheResponse(c *gin.Context, redisClient *redis.Client, resp models.CreatePaymentResponse) {
	key := c.GetString("idempotency_key")
	if key == "" {
		return
	}
	if data, err := json.Marshal(resp); err == nil {
		redisClient.Set(c.Request.Context(), fmt.Sprintf("idempotency:%s", key), data, idempotencyTTL)
	}
}
