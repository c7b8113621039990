package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// AnalysisEvent is published whenever an analysis run changes stage or status.
type AnalysisEvent struct {
	AnalysisID string    `json:"analysis_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

type EventBus struct {
	log     *logger.Logger
	rdb     publisher
	client  *goredis.Client
	channel string
}

func NewEventBus(log *logger.Logger, rdb *goredis.Client, cfg Config) *EventBus {
	return &EventBus{log: log.With("service", "AnalysisEventBus"), rdb: rdb, client: rdb, channel: cfg.Channel}
}

func (b *EventBus) Publish(ctx context.Context, ev AnalysisEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("event bus not initialized")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe calls onEvent for every event until ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, onEvent func(AnalysisEvent)) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("event bus not initialized")
	}
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev AnalysisEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn("bad analysis event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}
