package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码
// 【重要】客户端依赖这些码区分"可恢复的业务拒绝"与"基础设施故障"：
// 余额不足/非主持人等业务拒绝不应重试，500 类错误可以重试
const (
	CodePartyNotFound    = 1001
	CodePartyEnded       = 1002
	CodeBalanceNotEnough = 1003
	CodeDuplicateRequest = 1004
	CodeAccountNotFound  = 1005
	CodeBidFailed        = 1006
	CodeInvalidBid       = 1008
	CodeNotHost          = 1009
	CodeMediaNotFound    = 1010
	CodeSystemBusy       = 1012
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
