package middleware

import (
	"net/http"
	"strings"

	apperrors "github.com/Shi-Yueyang/TrueSwiftie/internal/errors"
	"github.com/Shi-Yueyang/TrueSwiftie/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	ctxUserID   = "userID"
	ctxUsername = "username"
	ctxToken    = "token"
)

// TokenValidator 访问令牌校验
type TokenValidator interface {
	ValidateAccessToken(token string) (*utils.JWTClaims, error)
}

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortUnauthorized(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		claims, err := m.validator.ValidateAccessToken(token)
		if err != nil {
			code := apperrors.ErrTokenInvalid
			if err == utils.ErrExpiredToken {
				code = apperrors.ErrTokenExpired
			}
			abortUnauthorized(c, apperrors.Wrap(err, code))
			return
		}

		setIdentity(c, claims, token)
		c.Next()
	}
}

// OptionalAuth 可选认证，websocket 的匿名连接作为观众
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if claims, err := m.validator.ValidateAccessToken(token); err == nil {
				setIdentity(c, claims, token)
			}
		}
		c.Next()
	}
}

func setIdentity(c *gin.Context, claims *utils.JWTClaims, token string) {
	c.Set(ctxUserID, claims.UserID)
	c.Set(ctxUsername, claims.Username)
	c.Set(ctxToken, token)
}

func abortUnauthorized(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.NewErrorResponse(err, c.GetHeader("X-Request-ID")))
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer xxx
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. Cookie
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	// 3. Query参数，浏览器的 websocket 无法设置请求头
	return c.Query("token")
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) (uint, bool) {
	if userID, exists := c.Get(ctxUserID); exists {
		if id, ok := userID.(uint); ok {
			return id, true
		}
	}
	return 0, false
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	if username, exists := c.Get(ctxUsername); exists {
		if name, ok := username.(string); ok {
			return name, true
		}
	}
	return "", false
}

// IsAuthenticated 检查是否已认证
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ctxUserID)
	return exists
}
