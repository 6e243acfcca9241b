package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/xerr"
)

// 定义http返回格式 (中间件拒绝 / 内部错误统一走这个信封)
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailLogged 对外只回 code + message，日志里记完整错误
func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c, "http error",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailFromErr 按 xerr 错误码映射 http 状态，不透出内部错误信息
func FailFromErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	FailLogged(c, httpStatusOf(code), code, xerr.MapErrMsg(code), err)
}

func httpStatusOf(code int) int {
	switch code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.ChainError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
