package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VictoryV20/SecureChain/internal/ledger"
	"github.com/VictoryV20/SecureChain/pkg/logger"
)

// Envelope 是事件通道上的统一消息格式。编号由 uuid 生成，
// Height 保留引擎赋予的逻辑高度，Payload 为转换产物的 JSON 编码。
type Envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Height    uint64          `json:"height"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt int64           `json:"emitted_at"`
}

// Encode 将信封序列化为队列消息体。
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 从队列消息体还原信封。
func Decode(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("解析事件信封失败: %w", err)
	}
	return envelope, nil
}

// Feed 把账本引擎的转换事件包装成信封并投递到队列。
// 投递失败只记录日志：存储才是权威记录，事件通道是旁路。
type Feed struct {
	producer Producer
}

// NewFeed 构造事件通道桥接器。
func NewFeed(producer Producer) *Feed {
	return &Feed{producer: producer}
}

// Emit 实现 ledger.EventSink 接口。
func (f *Feed) Emit(ctx context.Context, evt ledger.Event) {
	if f == nil || f.producer == nil {
		return
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		logger.L().Error("事件负载序列化失败", slog.Any("error", err), slog.String("kind", string(evt.Kind)))
		return
	}
	envelope := Envelope{
		ID:        uuid.NewString(),
		Kind:      string(evt.Kind),
		Height:    evt.Height,
		Payload:   payload,
		EmittedAt: time.Now().Unix(),
	}
	if err := f.producer.Publish(ctx, envelope); err != nil {
		logger.L().Error("事件投递失败",
			slog.Any("error", err),
			slog.String("kind", string(evt.Kind)),
			slog.String("event_id", envelope.ID),
		)
	}
}

// Close 关闭底层队列。
func (f *Feed) Close() error {
	if f == nil || f.producer == nil {
		return nil
	}
	return f.producer.Close()
}

// ensure interface compliance at compile time
var _ ledger.EventSink = (*Feed)(nil)
