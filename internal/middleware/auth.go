package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/word-duel/internal/errors"
	"github.com/wfunc/word-duel/internal/utils"
)

const userIDKey = "userID"

// AuthMiddleware 身份中间件，把令牌中的玩家ID放进上下文
type AuthMiddleware struct {
	jwt            *utils.JWTManager
	allowQueryUser bool
}

// NewAuthMiddleware 创建认证中间件。allowQueryUser 为 true 时允许 ?user_id= 直接指定身份，仅用于开发调试
func NewAuthMiddleware(jwt *utils.JWTManager, allowQueryUser bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:            jwt,
		allowQueryUser: allowQueryUser,
	}
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := m.identify(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalAuth 可选认证的中间件（不强制要求登录）
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, err := m.identify(c); err == nil {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

func (m *AuthMiddleware) identify(c *gin.Context) (string, error) {
	if token := extractToken(c); token != "" && m.jwt != nil {
		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}
	if m.allowQueryUser {
		if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
			return userID, nil
		}
	}
	return "", errors.New(errors.ErrAuthentication, "缺少认证令牌")
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. 从Authorization Header获取 (Bearer Token)
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. 从Query参数获取，浏览器的 WebSocket 无法设置 Header
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusUnauthorized
	resp := gin.H{"code": errors.GetCode(err), "message": err.Error()}
	if appErr, ok := errors.As(err); ok {
		status = appErr.HTTPStatus()
		resp["message"] = appErr.Message
		resp["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(status, resp)
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) (string, bool) {
	if userID, exists := c.Get(userIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// IsAuthenticated 检查是否已认证
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetUserID(c)
	return ok
}
