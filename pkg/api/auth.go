package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/service"
)

const authContextKey = "quant.auth"

// TokenVerifier 校验登录接口签发的 token，返回管理员ID
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// RedisTokenVerifier token 由登录服务写入 redis: <prefix><token> -> 管理员ID
type RedisTokenVerifier struct {
	client redis.Cmdable
	prefix string
}

func NewRedisTokenVerifier(client redis.Cmdable, prefix string) *RedisTokenVerifier {
	return &RedisTokenVerifier{client: client, prefix: prefix}
}

func (v *RedisTokenVerifier) Verify(ctx context.Context, token string) (string, error) {
	adminID, err := v.client.Get(ctx, v.prefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errs.New(errs.CodeUnauthorized, "token无效或已过期")
		}
		return "", errs.Wrap(errs.CodeStoreTransient, "校验token失败", err)
	}
	return adminID, nil
}

// AuthRequired 校验 X-API-Key 与 Bearer token，构建 AuthContext；apiKey 为空时只校验 token
func AuthRequired(apiKey string, verifier TokenVerifier) gin.HandlerFunc {
	if apiKey == "" {
		logger.WithComponent("api").Warn("未配置 api.api_key，管理接口仅依赖 token 鉴权")
	}
	return func(c *gin.Context) {
		if apiKey != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader("X-API-Key")), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "API Key无效",
			})
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "缺少登录凭证",
			})
			return
		}

		adminID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, errs.ErrUnauthorized) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}

		c.Set(authContextKey, service.AuthContext{
			AdminID: adminID,
			Token:   token,
			Source:  "api",
		})
		c.Next()
	}
}

// authFrom 读取中间件构建的 AuthContext
func authFrom(c *gin.Context) service.AuthContext {
	if v, ok := c.Get(authContextKey); ok {
		if auth, ok := v.(service.AuthContext); ok {
			return auth
		}
	}
	return service.AuthContext{Source: "api"}
}
