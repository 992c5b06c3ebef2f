// Package cart parses cart command flags and launches the cart runtime.
package cart

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/cartstream/internal/platform/cmd"
	"github.com/louisbranch/cartstream/internal/platform/discovery"
	cartapp "github.com/louisbranch/cartstream/internal/services/cart/app"
)

// Config holds cart command configuration. Environment names are scoped
// under CARTSTREAM_CART_.
type Config struct {
	HTTPPort           int           `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort         int           `env:"HEALTH_PORT" envDefault:"8081"`
	EventsDBPath       string        `env:"EVENTS_DB_PATH" envDefault:"data/cart-events.db"`
	ProjectionsDBPath  string        `env:"PROJECTIONS_DB_PATH" envDefault:"data/cart-projections.db"`
	ReportPostgresURL  string        `env:"REPORT_POSTGRES_URL"`
	BrokerDBPath       string        `env:"BROKER_DB_PATH" envDefault:"data/broker.db"`
	NodeID             string        `env:"NODE_ID"`
	AdvertiseAddr      string        `env:"ADVERTISE_ADDR"`
	ClusterMode        string        `env:"CLUSTER_MODE" envDefault:"standalone"`
	Shards             int           `env:"SHARDS" envDefault:"32"`
	EventTags          int           `env:"EVENT_TAGS" envDefault:"10"`
	TopicPartitions    int           `env:"TOPIC_PARTITIONS" envDefault:"8"`
	AskTimeout         time.Duration `env:"ASK_TIMEOUT" envDefault:"5s"`
	PassivateAfter     time.Duration `env:"PASSIVATE_AFTER" envDefault:"2m"`
	LeaseTTL           time.Duration `env:"LEASE_TTL" envDefault:"15s"`
	LeaseRenewInterval time.Duration `env:"LEASE_RENEW_INTERVAL" envDefault:"5s"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	PublishParallelism int           `env:"PUBLISH_PARALLELISM" envDefault:"4"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(entrypoint.ServiceCart, &cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The cart REST server port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The cart health gRPC server port")
	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "The cart event journal SQLite path")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db-path", cfg.ProjectionsDBPath, "The cart report SQLite path")
	fs.StringVar(&cfg.ReportPostgresURL, "report-postgres-url", cfg.ReportPostgresURL, "Postgres URL for the cart report store (overrides SQLite)")
	fs.StringVar(&cfg.BrokerDBPath, "broker-db-path", cfg.BrokerDBPath, "The topic broker SQLite path")
	fs.StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "Cluster member id (random when empty)")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise-addr", cfg.AdvertiseAddr, "Address peers use to forward commands (host and health port when empty)")
	fs.StringVar(&cfg.ClusterMode, "cluster-mode", cfg.ClusterMode, "Shard ownership mode: standalone or sqlite")
	fs.IntVar(&cfg.Shards, "shards", cfg.Shards, "Number of cart shards")
	fs.IntVar(&cfg.EventTags, "event-tags", cfg.EventTags, "Number of event stream tags")
	fs.IntVar(&cfg.TopicPartitions, "topic-partitions", cfg.TopicPartitions, "Number of topic partitions")
	fs.DurationVar(&cfg.AskTimeout, "ask-timeout", cfg.AskTimeout, "Cart command reply deadline")
	fs.DurationVar(&cfg.PassivateAfter, "passivate-after", cfg.PassivateAfter, "Idle time before a cart is unloaded")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Shard and consumer lease duration")
	fs.DurationVar(&cfg.LeaseRenewInterval, "lease-renew-interval", cfg.LeaseRenewInterval, "Lease renewal interval")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Event stream poll interval")
	fs.IntVar(&cfg.PublishParallelism, "publish-parallelism", cfg.PublishParallelism, "Concurrent cart lookups per publish page")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the cart runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCart, func(ctx context.Context) error {
		return cartapp.Run(ctx, cartapp.RuntimeConfig{
			HTTPAddr:           discovery.HTTPListenAddr(cfg.HTTPPort, discovery.ServiceCart),
			HealthAddr:         discovery.GRPCListenAddr(cfg.HealthPort, discovery.ServiceCart),
			EventsDBPath:       cfg.EventsDBPath,
			ProjectionsDBPath:  cfg.ProjectionsDBPath,
			ReportPostgresURL:  cfg.ReportPostgresURL,
			BrokerDBPath:       cfg.BrokerDBPath,
			NodeID:             cfg.NodeID,
			AdvertiseAddr:      cfg.AdvertiseAddr,
			ClusterMode:        cfg.ClusterMode,
			Shards:             cfg.Shards,
			EventTags:          cfg.EventTags,
			TopicPartitions:    cfg.TopicPartitions,
			AskTimeout:         cfg.AskTimeout,
			PassivateAfter:     cfg.PassivateAfter,
			LeaseTTL:           cfg.LeaseTTL,
			LeaseRenewInterval: cfg.LeaseRenewInterval,
			PollInterval:       cfg.PollInterval,
			PublishParallelism: cfg.PublishParallelism,
		})
	})
}
