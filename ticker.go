package shlhttp

import (
	"context"
	"time"

	"github.com/Senhnn/shlhttp/tools/gopool"
)

// startTicker 后台按interval驱动时间轮，interval为0时不启动
func (s *Server) startTicker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopTicker = cancel
	s.tickerExited = make(chan struct{})
	gopool.CtxGo(ctx, "timewheel-ticker", func() {
		defer close(s.tickerExited)
		driveTicks(ctx, interval, time.Now, func() { s.Tick() })
	})
}

// driveTicks 每经过一个interval调用一次tick。
// goroutine被延迟时补齐错过的tick，不跳过也不重复
func driveTicks(ctx context.Context, interval time.Duration, now func() time.Time, tick func()) {
	t := time.NewTicker(interval)
	defer t.Stop()

	next := now().Add(interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		var n int
		n, next = dueTicks(next, now(), interval)
		for i := 0; i < n; i++ {
			tick()
		}
	}
}

// dueTicks 计算到now为止应该执行的tick数和下一次的时间点
func dueTicks(next, now time.Time, interval time.Duration) (int, time.Time) {
	n := 0
	for !now.Before(next) {
		n++
		next = next.Add(interval)
	}
	return n, next
}
