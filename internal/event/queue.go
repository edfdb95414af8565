package event

import (
	"context"
)

// Handler 处理来自事件通道的信封。
type Handler func(ctx context.Context, envelope Envelope) error

// Producer 负责向通道投递事件。
type Producer interface {
	Publish(ctx context.Context, envelope Envelope) error
	Close() error
}

// Consumer 负责从通道中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
