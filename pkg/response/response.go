package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// Business error codes surfaced by the ledger.
const (
	CodeVoucherNotFound       = 1001
	CodeVoucherNotRedeemable  = 1002
	CodeApplicationNotFound   = 1003
	CodePreconditionFailed    = 1004
	CodeVoucherAlreadyIssued  = 1005
	CodeInvoiceNotFound       = 1006
	CodeInvoiceStatusInvalid  = 1007
	CodeInvoiceRangeOverlap   = 1008
	CodePolicyValueOutOfRange = 1009
	CodeVendorNotAuthorized   = 1010
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
