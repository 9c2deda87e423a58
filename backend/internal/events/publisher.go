// Package events publishes committed fills and order updates to Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Abulk79/Virt/backend/internal/matching"
	"github.com/Abulk79/Virt/backend/internal/models"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "exchange:events"

// RedisPublisher publishes committed results on one pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// OrderUpdate is the payload of an "order" event.
type OrderUpdate struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Ticker  string `json:"ticker"`
	Status  string `json:"status"`
	Filled  int64  `json:"filled"`
}

// Publish sends one "trade" event per fill, then one "order" event per changed order.
func (p *RedisPublisher) Publish(ctx context.Context, res *matching.Result) error {
	if res == nil {
		return nil
	}
	for _, tr := range res.Trades {
		if err := p.publish(ctx, "trade", tr); err != nil {
			return err
		}
	}
	for _, o := range res.Updated {
		if err := p.publish(ctx, "order", orderUpdate(o, res.Ticker)); err != nil {
			return err
		}
	}
	return nil
}

func orderUpdate(o *models.Order, ticker string) OrderUpdate {
	return OrderUpdate{
		OrderID: o.ID.String(),
		UserID:  o.UserID.String(),
		Ticker:  ticker,
		Status:  string(o.Status),
		Filled:  o.Filled,
	}
}

func (p *RedisPublisher) publish(ctx context.Context, event string, data interface{}) error {
	payload := map[string]interface{}{
		"channel": "exchange",
		"event":   event,
		"data":    data,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	return nil
}
