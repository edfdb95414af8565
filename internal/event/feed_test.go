package event

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/VictoryV20/SecureChain/internal/ledger"
)

func TestFeedEmitPublishesEnvelope(t *testing.T) {
	queue := NewMemoryQueue(4)
	feed := NewFeed(queue)
	defer feed.Close()

	feed.Emit(context.Background(), ledger.Event{
		Kind:    ledger.EventShipmentCreated,
		Height:  9,
		Payload: map[string]uint64{"id": 1},
	})

	select {
	case envelope := <-queue.ch:
		if envelope.Kind != string(ledger.EventShipmentCreated) || envelope.Height != 9 {
			t.Fatalf("unexpected envelope: %+v", envelope)
		}
		if envelope.ID == "" {
			t.Fatalf("envelope must carry a generated id")
		}
		var payload map[string]uint64
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["id"] != 1 {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	default:
		t.Fatalf("expected a published envelope")
	}
}

func TestFeedEmitDoesNotBlockWhenFull(t *testing.T) {
	queue := NewMemoryQueue(1)
	feed := NewFeed(queue)
	defer feed.Close()

	ctx := context.Background()
	feed.Emit(ctx, ledger.Event{Kind: ledger.EventShipmentCreated, Height: 1})

	done := make(chan struct{})
	go func() {
		// The second emit hits a full channel and must return immediately.
		feed.Emit(ctx, ledger.Event{Kind: ledger.EventShipmentCreated, Height: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("emit must not block on a full queue")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	original := Envelope{
		ID:        "evt-1",
		Kind:      string(ledger.EventFraudReported),
		Height:    12,
		Payload:   json.RawMessage(`{"alert":1}`),
		EmittedAt: 1700000000,
	}

	body, err := original.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != original.ID || decoded.Kind != original.Kind || decoded.Height != original.Height {
		t.Fatalf("unexpected envelope after round trip: %+v", decoded)
	}

	if _, err := Decode([]byte("{broken")); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestMemoryQueueConsume(t *testing.T) {
	queue := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		seen []string
	)
	consumed := make(chan struct{}, 8)
	go func() {
		_ = queue.Consume(ctx, 2, func(_ context.Context, envelope Envelope) error {
			mu.Lock()
			seen = append(seen, envelope.ID)
			mu.Unlock()
			consumed <- struct{}{}
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		envelope := Envelope{ID: string(rune('a' + i)), Kind: "test"}
		if err := queue.Publish(ctx, envelope); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-consumed:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 consumed events, got %d", len(seen))
	}
}

func TestMemoryQueueClosedPublish(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), Envelope{ID: "x"}); err == nil {
		t.Fatalf("publish on a closed queue must fail")
	}
}
