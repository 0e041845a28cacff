package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// RoomEvent 房間生命週期事件
//
// Subject 命名：rooms.{room_id}.{event}
// 同一房間的事件因此保持順序一致。
type RoomEvent struct {
	RoomID    int64          `json:"room_id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventPublisher 房間事件發佈器（NATS JetStream）
//
// 下游系統（對戰紀錄、營運報表）訂閱房間的建立 / 開始 /
// 解散 / 刪除事件。發佈是 best-effort：在交易提交之後進行，
// 失敗只記錄日誌，絕不讓請求失敗——事件流是旁路，
// 不是正確性的一部分。
type EventPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewEventPublisher 連接 NATS 並確保 Stream 存在
func NewEventPublisher(natsURL string) (*EventPublisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	// Stream 已存在時 AddStream 會回報錯誤，改查再建
	if _, err := js.StreamInfo("ROOMS"); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     "ROOMS",
			Subjects: []string{"rooms.>"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream: %w", err)
		}
	}

	return &EventPublisher{conn: conn, js: js}, nil
}

// Publish 發佈一筆房間事件
func (p *EventPublisher) Publish(ctx context.Context, roomID int64, event string, data map[string]any) error {
	payload, err := json.Marshal(RoomEvent{
		RoomID:    roomID,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("rooms.%d.%s", roomID, event)
	if _, err := p.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close 關閉 NATS 連接
func (p *EventPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
