package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/streamcast/live-rules/internal/config"
)

// tokenDuration 令牌有效期，直播会话通常几小时内结束
const tokenDuration = 12 * time.Hour

// AuthHandler 认证处理器
type AuthHandler struct {
	cfg config.AuthConfig
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Login 面板登录：校验bcrypt口令后签发JWT
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求体")
		return
	}

	if req.Username != h.cfg.Username {
		errorResponse(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)); err != nil {
		errorResponse(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	expiresAt := time.Now().Add(tokenDuration)
	claims := jwt.MapClaims{
		"username": req.Username,
		"exp":      expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "签发令牌失败")
		return
	}

	successResponse(c, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}
