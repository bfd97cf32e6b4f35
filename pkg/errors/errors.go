// Package errors 定义应用内统一的错误形态。
//
// 哨兵错误表达可编程判断的失败类别 (errors.Is), AppError 在其上
// 附加操作名与上下文消息, 供日志与 API 层呈现。
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 目标资源不存在 (session、tab、偏好键等)。
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 调用方传入的参数不合法。
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed 组件已关闭, 不再接受操作。
	ErrClosed = errors.New("closed")
)

// AppError 携带操作上下文的错误。Op 标识出错的操作
// (如 "SessionOutputStore.AppendLine"), Err 保留底层原因供 Unwrap。
type AppError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 让 errors.Is / errors.As 能穿透到底层原因。
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 构造不带底层原因的 AppError。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 同 New, 消息支持格式化。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 为 err 附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 同 Wrap, 消息支持格式化。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}
