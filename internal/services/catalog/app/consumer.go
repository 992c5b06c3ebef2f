package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/louisbranch/cartstream/internal/platform/topic"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/catalog/domain"
)

// CartTopic is the topic carrying checked-out carts.
const CartTopic = "shopping-cart"

// ConsumeCarts applies every checked-out cart on broker to inv until ctx
// ends. Offsets are committed after each cart is applied.
func ConsumeCarts(ctx context.Context, broker topic.Broker, group string, pollInterval time.Duration, inv *domain.Inventory) error {
	return topic.Consume(ctx, broker, topic.ConsumerConfig{
		Group:        group,
		Topic:        CartTopic,
		PollInterval: pollInterval,
	}, cartHandler(inv))
}

func cartHandler(inv *domain.Inventory) topic.Handler {
	return func(_ context.Context, msg topic.Message) error {
		var view cart.View
		if err := json.Unmarshal(msg.Payload, &view); err != nil {
			// Undecodable payloads are acknowledged and dropped.
			log.Printf("catalog: drop malformed cart message %s at %d/%d: %v", msg.ID, msg.Partition, msg.Offset, err)
			return nil
		}
		inv.ApplyCart(view)
		return nil
	}
}
