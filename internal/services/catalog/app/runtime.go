// Package app wires the catalog service: the cart topic consumer, the stock
// REST API, and the health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/cartstream/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/cartstream/internal/platform/grpc"
	"github.com/louisbranch/cartstream/internal/platform/timeouts"
	topicsqlite "github.com/louisbranch/cartstream/internal/platform/topic/sqlite"
	"github.com/louisbranch/cartstream/internal/services/catalog/api/httpapi"
	"github.com/louisbranch/cartstream/internal/services/catalog/domain"
)

// HealthConsumer names the cart topic consumer status.
const HealthConsumer = "catalog.consumer"

const (
	defaultBrokerDB        = "data/broker.db"
	defaultConsumerGroup   = "catalog"
	defaultTopicPartitions = 8
	defaultPollInterval    = 500 * time.Millisecond
)

// RuntimeConfig controls catalog startup.
type RuntimeConfig struct {
	HTTPAddr        string
	HealthAddr      string
	BrokerDBPath    string
	TopicPartitions int
	ConsumerGroup   string
	PollInterval    time.Duration
	// CartHealthAddr, when set, delays consumption until the cart
	// publisher reports SERVING.
	CartHealthAddr string
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = discovery.HTTPListenAddr(0, discovery.ServiceCatalog)
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = discovery.GRPCListenAddr(0, discovery.ServiceCatalog)
	}
	if strings.TrimSpace(cfg.BrokerDBPath) == "" {
		cfg.BrokerDBPath = defaultBrokerDB
	}
	if cfg.TopicPartitions <= 0 {
		cfg.TopicPartitions = defaultTopicPartitions
	}
	if strings.TrimSpace(cfg.ConsumerGroup) == "" {
		cfg.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return cfg
}

// Run starts the catalog runtime and blocks until ctx ends or a component
// fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	if addr := strings.TrimSpace(cfg.CartHealthAddr); addr != "" {
		if err := platformgrpc.WaitForHealth(ctx, addr, "cart.publisher", log.Printf); err != nil {
			return fmt.Errorf("wait for cart: %w", err)
		}
	}

	broker, err := topicsqlite.Open(ctx, cfg.BrokerDBPath, cfg.TopicPartitions)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			log.Printf("close broker: %v", closeErr)
		}
	}()

	healthServer, err := platformgrpc.NewHealthServer(cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("start health server: %w", err)
	}
	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = healthServer.Close()
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	inventory := domain.NewInventory()
	httpServer := &http.Server{
		Handler:           httpapi.NewHandler(inventory),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return healthServer.Serve(groupCtx)
	})
	group.Go(func() error {
		err := ConsumeCarts(groupCtx, broker, cfg.ConsumerGroup, cfg.PollInterval, inventory)
		healthServer.SetServing(HealthConsumer, false)
		return err
	})
	group.Go(func() error {
		log.Printf("catalog http listening at %v", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	healthServer.SetServing(HealthConsumer, true)
	healthServer.SetServing("", true)
	return group.Wait()
}
