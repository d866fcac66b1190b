package gopool

import (
	"context"
	"runtime/debug"

	"github.com/Senhnn/GoroutinePool"
	"github.com/Senhnn/shlhttp/tools/logger"
)

// Go 在协程池中执行后台任务，name用于日志定位
func Go(name string, f func()) {
	GoroutinePool.Go(guard(name, f))
}

// CtxGo 与Go相同，额外携带ctx
func CtxGo(ctx context.Context, name string, f func()) {
	GoroutinePool.CtxGo(ctx, guard(name, f))
}

// 后台任务panic时只记录日志，不影响协程池
func guard(name string, f func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorF("background task %s panic: %v\n%s", name, r, debug.Stack())
			}
		}()
		f()
	}
}
