package services

import (
	"net/http"

	"github.com/pkg/errors"
)

// 业务错误
var (
	ErrAuthInvalid        = errors.New("登录已过期，请重新登录")
	ErrValidation         = errors.New("参数校验失败")
	ErrNotFound           = errors.New("记录不存在")
	ErrAlreadyFriends     = errors.New("已经是好友关系")
	ErrDuplicatePending   = errors.New("好友申请已存在")
	ErrNotFriends         = errors.New("不存在的好友关系不能发送消息")
	ErrTooManyConnections = errors.New("服务器已达到最大连接数")
	ErrUserExists         = errors.New("用户名已存在")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
)

// ValidationError 带具体原因的参数错误
func ValidationError(msg string) error {
	return errors.WithMessage(ErrValidation, msg)
}

// ErrorCode 错误映射为 commonError 的 code
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrAuthInvalid), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAlreadyFriends),
		errors.Is(err, ErrDuplicatePending),
		errors.Is(err, ErrNotFriends),
		errors.Is(err, ErrUserExists):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooManyConnections):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage 返回给客户端的错误描述，内部错误不暴露细节
func ErrorMessage(err error) string {
	if ErrorCode(err) == http.StatusInternalServerError {
		return "服务器内部错误"
	}
	return err.Error()
}
