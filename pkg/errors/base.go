package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:      0,
	HTTP:      http.StatusOK,
	GRPCCode:  codes.OK,
	MessageEN: "Success",
	MessageZH: "成功",
})

// 通用错误，FromError 对未知错误统一包装为 ErrInternal。
var (
	ErrInternal = NewInternalErr(ServiceCommon, 0, "Internal server error", "服务器内部错误")

	// ErrInvalidConfig 配置校验失败。
	ErrInvalidConfig = NewConfigErr(ServiceCommon, 0, "Invalid configuration", "配置无效")
)
