package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"depositgate.com/pkg/logger"
)

// Go 安全启动协程，panic 只记日志不让进程退出
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留请求链路信息。
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer Recover(ctx, "goroutine")
		fn(ctx)
	}()
}

// Recover 用在 defer 里：吞掉 panic 并打印堆栈
func Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "panic recovered",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
