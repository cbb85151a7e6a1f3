package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/errs"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// FromError 按领域错误类型映射 HTTP 状态码。
// 未识别的错误一律按 500 处理，不向客户端透出内部细节。
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, errs.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, errs.ErrGeneration):
		Internal(c, "cv generation failed")
	case errors.Is(err, errs.ErrTemplateRender):
		Internal(c, "template rendering failed")
	default:
		Internal(c, "internal error")
	}
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}
