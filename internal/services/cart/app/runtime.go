// Package app wires the cart service: event journal, router, lease
// coordinator, read-side consumers, the REST API, and the health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/cartstream/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/cartstream/internal/platform/grpc"
	"github.com/louisbranch/cartstream/internal/platform/timeouts"
	topicsqlite "github.com/louisbranch/cartstream/internal/platform/topic/sqlite"
	"github.com/louisbranch/cartstream/internal/services/cart/api/grpcapi"
	"github.com/louisbranch/cartstream/internal/services/cart/api/httpapi"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/memory"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/postgres"
	cartsqlite "github.com/louisbranch/cartstream/internal/services/cart/storage/sqlite"
)

// Cluster modes.
const (
	ClusterStandalone = "standalone"
	ClusterSQLite     = "sqlite"
)

// Health component names.
const (
	HealthRouter    = "cart.router"
	HealthProjector = "cart.projector"
	HealthPublisher = "cart.publisher"
)

const (
	defaultEventsDB        = "data/cart-events.db"
	defaultProjectionsDB   = "data/cart-projections.db"
	defaultBrokerDB        = "data/broker.db"
	defaultShards          = 32
	defaultEventTags       = 10
	defaultTopicPartitions = 8
	defaultPassivateAfter  = 2 * time.Minute
	defaultLeaseTTL        = 15 * time.Second
	defaultLeaseRenew      = 5 * time.Second
	defaultPostgresConns   = 4
)

// RuntimeConfig controls cart startup.
type RuntimeConfig struct {
	HTTPAddr           string
	HealthAddr         string
	EventsDBPath       string
	ProjectionsDBPath  string
	ReportPostgresURL  string
	BrokerDBPath       string
	NodeID             string
	AdvertiseAddr      string
	ClusterMode        string
	Shards             int
	EventTags          int
	TopicPartitions    int
	AskTimeout         time.Duration
	PassivateAfter     time.Duration
	LeaseTTL           time.Duration
	LeaseRenewInterval time.Duration
	PollInterval       time.Duration
	PublishParallelism int
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = discovery.HTTPListenAddr(0, discovery.ServiceCart)
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = discovery.GRPCListenAddr(0, discovery.ServiceCart)
	}
	if strings.TrimSpace(cfg.EventsDBPath) == "" {
		cfg.EventsDBPath = defaultEventsDB
	}
	if strings.TrimSpace(cfg.ProjectionsDBPath) == "" {
		cfg.ProjectionsDBPath = defaultProjectionsDB
	}
	if strings.TrimSpace(cfg.BrokerDBPath) == "" {
		cfg.BrokerDBPath = defaultBrokerDB
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = uuid.NewString()
	}
	if strings.TrimSpace(cfg.ClusterMode) == "" {
		cfg.ClusterMode = ClusterStandalone
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.EventTags <= 0 {
		cfg.EventTags = defaultEventTags
	}
	if cfg.TopicPartitions <= 0 {
		cfg.TopicPartitions = defaultTopicPartitions
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = timeouts.CommandAsk
	}
	if cfg.PassivateAfter <= 0 {
		cfg.PassivateAfter = defaultPassivateAfter
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.LeaseRenewInterval <= 0 {
		cfg.LeaseRenewInterval = defaultLeaseRenew
	}
	return cfg
}

// Run starts the cart runtime and blocks until ctx ends or a component
// fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	if cfg.ClusterMode != ClusterStandalone && cfg.ClusterMode != ClusterSQLite {
		return fmt.Errorf("unknown cluster mode %q", cfg.ClusterMode)
	}

	events, err := cartsqlite.OpenEvents(ctx, cfg.EventsDBPath)
	if err != nil {
		return fmt.Errorf("open cart event store: %w", err)
	}
	defer closeLogged("cart event store", events.Close)

	reports, closeReports, err := openReportStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLogged("cart report store", closeReports)

	broker, err := topicsqlite.Open(ctx, cfg.BrokerDBPath, cfg.TopicPartitions)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	defer closeLogged("broker", broker.Close)

	var clusterStore storage.ClusterStore = memory.NewStore()
	if cfg.ClusterMode == ClusterSQLite {
		clusterStore = events
	}

	healthServer, err := platformgrpc.NewHealthServer(cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("start health server: %w", err)
	}
	cfg.AdvertiseAddr = advertiseAddr(cfg.AdvertiseAddr, healthServer.Addr())

	node, err := Assemble(ctx, Components{
		Config:    cfg,
		Journal:   events,
		Offsets:   events,
		Reports:   reports,
		Cluster:   clusterStore,
		Broker:    broker,
		SetHealth: healthServer.SetServing,
	})
	if err != nil {
		closeLogged("health server", healthServer.Close)
		return err
	}
	healthServer.RegisterService(&grpcapi.ServiceDesc, node.RouterServer)

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		closeLogged("health server", healthServer.Close)
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	httpServer := &http.Server{
		Handler:           httpapi.NewHandler(node.Service),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	healthServer.SetServing(HealthRouter, true)
	healthServer.SetServing(HealthProjector, true)
	healthServer.SetServing(HealthPublisher, true)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return healthServer.Serve(groupCtx)
	})
	group.Go(func() error {
		return node.Run(groupCtx)
	})
	group.Go(func() error {
		log.Printf("cart http listening at %v", listener.Addr())
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

	healthServer.SetServing("", true)
	return group.Wait()
}

// advertiseAddr returns configured, or the bound gRPC address with an
// unspecified host replaced by the hostname.
func advertiseAddr(configured string, bound net.Addr) string {
	if addr := strings.TrimSpace(configured); addr != "" {
		return addr
	}
	host, port, err := net.SplitHostPort(bound.String())
	if err != nil {
		return bound.String()
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		if name, err := os.Hostname(); err == nil && name != "" {
			host = name
		}
	}
	return net.JoinHostPort(host, port)
}

func openReportStore(ctx context.Context, cfg RuntimeConfig) (storage.ReportStore, func() error, error) {
	if url := strings.TrimSpace(cfg.ReportPostgresURL); url != "" {
		store, err := postgres.Open(ctx, url, defaultPostgresConns)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres report store: %w", err)
		}
		return store, store.Close, nil
	}
	store, err := cartsqlite.OpenProjections(ctx, cfg.ProjectionsDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite report store: %w", err)
	}
	return store, store.Close, nil
}

func closeLogged(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Printf("close %s: %v", name, err)
	}
}
