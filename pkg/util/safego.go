// safego.go — 带 panic 保护的 goroutine 启动器。
package util

import (
	"fmt"
	"runtime/debug"

	"github.com/sea922/codestudio/pkg/logger"
)

// SafeGo 在新 goroutine 中执行 fn, panic 被捕获并带堆栈记录,
// 不会拖垮整个进程。后台桥接 (bus 订阅循环、transport 读循环、
// 持久化写入) 一律经由 SafeGo 启动。
func SafeGo(fn func()) {
	go func() {
		defer recoverToLog()
		fn()
	}()
}

func recoverToLog() {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("goroutine panicked",
		logger.FieldError, fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
}
