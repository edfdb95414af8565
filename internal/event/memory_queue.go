package event

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 模拟事件通道，主要用于测试与单机运行。
type MemoryQueue struct {
	ch     chan Envelope
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存事件通道。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Envelope, size)}
}

// Publish 将事件投递到通道。通道满时丢弃旁路事件而不是阻塞引擎。
func (q *MemoryQueue) Publish(ctx context.Context, envelope Envelope) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("事件通道已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- envelope:
		return nil
	default:
		return errors.New("事件通道已满")
	}
}

// Consume 启动指定数量的工作协程消费通道中的事件。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case envelope, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, envelope)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存通道。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}

// ensure interface compliance at compile time
var _ Queue = (*MemoryQueue)(nil)
