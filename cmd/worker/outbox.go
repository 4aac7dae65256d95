package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imobflow/messaging-engine/internal/config"
	"github.com/imobflow/messaging-engine/internal/db"
	"github.com/imobflow/messaging-engine/internal/kafka"
	"github.com/imobflow/messaging-engine/internal/logger"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/scheduler"
	"github.com/imobflow/messaging-engine/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Run the outbox relay (MySQL -> Kafka)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel)
		log := logger.L().Named("outbox")

		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("no kafka brokers configured")
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.BatchTimeout)
		defer func() { _ = producer.Close() }()

		relay := worker.NewOutboxRelay(
			repository.NewOutboxRepository(dbx),
			producer,
			cfg.Outbox.BatchSize,
			log,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("outbox relay started",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.EventsTopic),
		)

		scheduler.New(relay, cfg.Outbox.PollInterval, log).Start(ctx)
		return nil
	},
}
