package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamcast/live-rules/internal/rules"
)

// APIResponse 统一API响应格式
type APIResponse struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code,omitempty"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// successResponse 成功响应
func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Message: "Success",
		Data:    data,
	})
}

func successResponseWithCode(c *gin.Context, code int, data any) {
	c.JSON(code, APIResponse{
		Success: true,
		Message: "Success",
		Data:    data,
	})
}

// errorResponse 错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Success:   false,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// ruleErrorResponse 按错误类型映射HTTP状态码
func ruleErrorResponse(c *gin.Context, err error) {
	switch {
	case rules.IsNotFound(err):
		errorResponse(c, http.StatusNotFound, err.Error())
	case rules.IsValidation(err):
		errorResponse(c, http.StatusBadRequest, err.Error())
	default:
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
