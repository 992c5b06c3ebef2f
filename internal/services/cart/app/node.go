package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/louisbranch/cartstream/internal/platform/timeouts"
	"github.com/louisbranch/cartstream/internal/platform/topic"
	"github.com/louisbranch/cartstream/internal/services/cart/api/grpcapi"
	"github.com/louisbranch/cartstream/internal/services/cart/cluster"
	"github.com/louisbranch/cartstream/internal/services/cart/entity"
	"github.com/louisbranch/cartstream/internal/services/cart/projection"
	"github.com/louisbranch/cartstream/internal/services/cart/publisher"
	"github.com/louisbranch/cartstream/internal/services/cart/sharding"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
	"github.com/louisbranch/cartstream/internal/services/cart/stream"
)

// Components are the backends a cart node runs on.
type Components struct {
	Config  RuntimeConfig
	Journal storage.EventStore
	Offsets storage.OffsetStore
	Reports storage.ReportStore
	Cluster storage.ClusterStore
	Broker  topic.Publisher
	// SetHealth receives component status changes. Nil discards them.
	SetHealth func(component string, serving bool)
	// Now overrides the clock of entities and leases.
	Now func() time.Time
}

// Node is one assembled cart process without its network listeners.
type Node struct {
	Service     *Service
	Router      *sharding.Router
	Coordinator *cluster.Coordinator
	Projector   *stream.Runner
	Publisher   *stream.Runner
	// RouterServer answers commands forwarded by peers. Register it with
	// grpcapi.ServiceDesc on the node's gRPC server.
	RouterServer *grpcapi.Server

	projection *projection.Projector
	forwarder  *grpcapi.Forwarder
	setHealth  func(component string, serving bool)
}

// Assemble builds the router, consumers, and lease bindings for c.
func Assemble(ctx context.Context, c Components) (*Node, error) {
	if c.Journal == nil || c.Offsets == nil || c.Reports == nil || c.Cluster == nil || c.Broker == nil {
		return nil, errors.New("journal, offsets, reports, cluster and broker are required")
	}
	cfg := c.Config.normalized()
	setHealth := c.SetHealth
	if setHealth == nil {
		setHealth = func(string, bool) {}
	}

	forwarder, err := grpcapi.NewForwarder(grpcapi.ForwarderConfig{
		NodeID:   cfg.NodeID,
		Store:    c.Cluster,
		LeaseTTL: cfg.LeaseTTL,
		Now:      c.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build forwarder: %w", err)
	}
	router, err := sharding.New(sharding.Config{
		Shards:         cfg.Shards,
		AskTimeout:     cfg.AskTimeout,
		PassivateAfter: cfg.PassivateAfter,
		NewHandler: func(cartID string) (sharding.Handler, error) {
			return entity.New(entity.Config{CartID: cartID, Tags: cfg.EventTags, Journal: c.Journal, Now: c.Now})
		},
		Forward: forwarder,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	routerServer, err := grpcapi.NewServer(router)
	if err != nil {
		return nil, err
	}

	service, err := NewService(router, c.Reports)
	if err != nil {
		return nil, err
	}

	projector, err := projection.New(c.Reports)
	if err != nil {
		return nil, err
	}
	projectorRunner, err := stream.NewRunner(stream.Config{
		Consumer:     projection.Consumer,
		Events:       c.Journal,
		Offsets:      c.Offsets,
		Handler:      projector,
		PollInterval: cfg.PollInterval,
		OnHalt:       func(int, error) { setHealth(HealthProjector, false) },
	})
	if err != nil {
		return nil, fmt.Errorf("build projector: %w", err)
	}

	topicPublisher, err := publisher.New(publisher.Config{
		Lookup:      publisher.RouterLookup{Router: router},
		Publisher:   c.Broker,
		Parallelism: cfg.PublishParallelism,
	})
	if err != nil {
		return nil, err
	}
	publisherRunner, err := stream.NewRunner(stream.Config{
		Consumer:     publisher.Consumer,
		Events:       c.Journal,
		Offsets:      c.Offsets,
		Handler:      topicPublisher,
		PollInterval: cfg.PollInterval,
		OnHalt:       func(int, error) { setHealth(HealthPublisher, false) },
	})
	if err != nil {
		return nil, fmt.Errorf("build publisher: %w", err)
	}

	bindings := make([]cluster.Binding, 0, cfg.Shards+2*cfg.EventTags)
	for n := range cfg.Shards {
		bindings = append(bindings, cluster.Binding{
			Resource: cluster.ResourceName(cluster.KindShard, n),
			Assign:   func(context.Context) error { return router.Acquire(n) },
			Revoke:   func(ctx context.Context) error { return router.Quiesce(ctx, n) },
		})
	}
	for tag := range cfg.EventTags {
		bindings = append(bindings,
			tagBinding(cluster.KindProjector, tag, projectorRunner),
			tagBinding(cluster.KindPublisher, tag, publisherRunner),
		)
	}
	coordinator, err := cluster.New(cluster.Config{
		NodeID:        cfg.NodeID,
		Addr:          cfg.AdvertiseAddr,
		Store:         c.Cluster,
		LeaseTTL:      cfg.LeaseTTL,
		RenewInterval: cfg.LeaseRenewInterval,
		Bindings:      bindings,
		Now:           c.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build coordinator: %w", err)
	}

	return &Node{
		Service:     service,
		Router:      router,
		Coordinator: coordinator,
		Projector:   projectorRunner,
		Publisher:   publisherRunner,

		RouterServer: routerServer,
		projection:   projector,
		forwarder:    forwarder,
		setHealth:    setHealth,
	}, nil
}

func tagBinding(kind string, tag int, runner *stream.Runner) cluster.Binding {
	return cluster.Binding{
		Resource: cluster.ResourceName(kind, tag),
		Assign: func(ctx context.Context) error {
			runner.Start(ctx, tag)
			return nil
		},
		Revoke: func(ctx context.Context) error {
			return runner.Stop(ctx, tag)
		},
	}
}

// Run prepares the report schema, then serves leased resources until ctx
// ends. On return every shard is quiesced and every consumer stopped.
func (n *Node) Run(ctx context.Context) error {
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := n.projection.Prepare(ctx)
		if err != nil {
			log.Printf("cart report prepare failed, retrying: %v", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff())); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	log.Printf("cart node %s starting", n.Coordinator.NodeID())
	runErr := n.Coordinator.Run(ctx)
	n.setHealth(HealthRouter, false)

	closeCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	return errors.Join(runErr, n.Router.Close(closeCtx), n.forwarder.Close())
}
