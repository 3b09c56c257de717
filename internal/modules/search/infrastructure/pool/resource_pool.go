package pool

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"OmniSearch/pkg/zlog"
)

// Handle 池中的单个句柄，持有编号便于排障
type Handle struct {
	ID int
}

// Pool 有界句柄池：容量固定，Acquire 在池空时阻塞直到有句柄归还或 ctx 取消
// 归还通过返回的 release 闭包完成，重复调用 release 是安全的
type Pool struct {
	size    int
	handles chan *Handle
	inUse   int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	p := &Pool{
		size:    size,
		handles: make(chan *Handle, size),
	}
	for i := 0; i < size; i++ {
		p.handles <- &Handle{ID: i}
	}
	return p
}

// Acquire 获取句柄；池空时阻塞，ctx 超时或取消返回错误
func (p *Pool) Acquire(ctx context.Context) (*Handle, func(), error) {
	select {
	case h := <-p.handles:
		atomic.AddInt64(&p.inUse, 1)
		var released atomic.Bool
		release := func() {
			if released.CompareAndSwap(false, true) {
				atomic.AddInt64(&p.inUse, -1)
				p.handles <- h
			}
		}
		return h, release, nil
	case <-ctx.Done():
		zlog.Warn("acquire pool handle timed out", zap.Int("size", p.size), zap.Error(ctx.Err()))
		return nil, nil, fmt.Errorf("资源池获取句柄超时: %w", ctx.Err())
	}
}

// Status 池状态快照
func (p *Pool) Status() (size int, inUse int, available int) {
	used := int(atomic.LoadInt64(&p.inUse))
	return p.size, used, p.size - used
}
