package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/cartstream/internal/platform/topic"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/publisher"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/memory"
)

type healthRecorder struct {
	mu     sync.Mutex
	status map[string]bool
}

func (h *healthRecorder) set(component string, serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[component] = serving
}

func (h *healthRecorder) get(component string) (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	serving, ok := h.status[component]
	return serving, ok
}

func startNode(t *testing.T, store *memory.Store, broker *topic.MemoryBroker, health *healthRecorder) *Node {
	t.Helper()
	node, err := Assemble(context.Background(), Components{
		Config: RuntimeConfig{
			NodeID:             "node-test",
			Shards:             4,
			EventTags:          2,
			TopicPartitions:    1,
			LeaseTTL:           time.Second,
			LeaseRenewInterval: 100 * time.Millisecond,
			PollInterval:       5 * time.Millisecond,
		},
		Journal:   store,
		Offsets:   store,
		Reports:   store,
		Cluster:   store,
		Broker:    broker,
		SetHealth: health.set,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("node run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("node did not stop")
		}
	})
	return node
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAssembleRequiresBackends(t *testing.T) {
	if _, err := Assemble(context.Background(), Components{}); err == nil {
		t.Fatal("expected missing backend error")
	}
}

func TestCheckoutFlowsToReportAndTopic(t *testing.T) {
	store := memory.NewStore()
	broker := topic.NewMemoryBroker(1)
	health := &healthRecorder{status: map[string]bool{}}
	node := startNode(t, store, broker, health)
	ctx := context.Background()

	// Shards are served once the coordinator's first pass completes.
	eventually(t, "shard ownership", func() bool {
		_, err := node.Service.Get(ctx, "cart-1")
		return err == nil
	})
	if _, err := node.Service.AddItem(ctx, "cart-1", "a", 2); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := node.Service.Checkout(ctx, "cart-1"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	eventually(t, "report checkout date", func() bool {
		report, err := node.Service.GetReport(ctx, "cart-1")
		return err == nil && report.CheckoutDate != nil
	})
	eventually(t, "topic message", func() bool {
		return len(broker.Messages(publisher.Topic)) == 1
	})

	msg := broker.Messages(publisher.Topic)[0]
	if msg.Key != "cart-1" {
		t.Fatalf("key = %q, want %q", msg.Key, "cart-1")
	}
	var view cart.View
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if !view.CheckedOut || len(view.Items) != 1 || view.Items[0].Quantity != 2 {
		t.Fatalf("view = %+v, want checked out a:2", view)
	}
}

func TestProjectionInconsistencyFlipsHealth(t *testing.T) {
	store := memory.NewStore()
	broker := topic.NewMemoryBroker(1)
	health := &healthRecorder{status: map[string]bool{}}

	// A checkout without any prior ItemAdded leaves the projector no row to update.
	stored, err := cart.Encode("ghost", 1, event.TagFor("ghost", 2), cart.CheckedOut{CartID: "ghost", Time: time.Now().UTC()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := store.AppendEvent(context.Background(), stored); err != nil {
		t.Fatalf("append: %v", err)
	}

	node := startNode(t, store, broker, health)
	eventually(t, "projector halt", func() bool {
		serving, ok := health.get(HealthProjector)
		return ok && !serving
	})
	halted := node.Projector.Halted()
	if len(halted) != 1 {
		t.Fatalf("halted = %v, want one tag", halted)
	}
	for _, err := range halted {
		if errors.Is(err, context.Canceled) {
			t.Fatalf("halted by cancellation: %v", err)
		}
	}
}
