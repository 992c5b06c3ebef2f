// Package catalog parses catalog command flags and launches the catalog
// runtime.
package catalog

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/cartstream/internal/platform/cmd"
	"github.com/louisbranch/cartstream/internal/platform/discovery"
	catalogapp "github.com/louisbranch/cartstream/internal/services/catalog/app"
)

// Config holds catalog command configuration. Environment names are scoped
// under CARTSTREAM_CATALOG_.
type Config struct {
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8090"`
	HealthPort      int           `env:"HEALTH_PORT" envDefault:"8091"`
	BrokerDBPath    string        `env:"BROKER_DB_PATH" envDefault:"data/broker.db"`
	TopicPartitions int           `env:"TOPIC_PARTITIONS" envDefault:"8"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	ConsumerGroup   string        `env:"CONSUMER_GROUP" envDefault:"catalog"`
	CartHealthAddr  string        `env:"CART_HEALTH_ADDR"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(entrypoint.ServiceCatalog, &cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The catalog REST server port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The catalog health gRPC server port")
	fs.StringVar(&cfg.BrokerDBPath, "broker-db-path", cfg.BrokerDBPath, "The topic broker SQLite path")
	fs.IntVar(&cfg.TopicPartitions, "topic-partitions", cfg.TopicPartitions, "Number of topic partitions")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Topic poll interval")
	fs.StringVar(&cfg.ConsumerGroup, "consumer-group", cfg.ConsumerGroup, "Topic consumer group")
	fs.StringVar(&cfg.CartHealthAddr, "cart-health-addr", cfg.CartHealthAddr, "Cart health address to wait for before consuming, e.g. "+discovery.DefaultGRPCAddr(discovery.ServiceCart))
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the catalog runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCatalog, func(ctx context.Context) error {
		return catalogapp.Run(ctx, catalogapp.RuntimeConfig{
			HTTPAddr:        discovery.HTTPListenAddr(cfg.HTTPPort, discovery.ServiceCatalog),
			HealthAddr:      discovery.GRPCListenAddr(cfg.HealthPort, discovery.ServiceCatalog),
			BrokerDBPath:    cfg.BrokerDBPath,
			TopicPartitions: cfg.TopicPartitions,
			ConsumerGroup:   cfg.ConsumerGroup,
			PollInterval:    cfg.PollInterval,
			CartHealthAddr:  cfg.CartHealthAddr,
		})
	})
}
