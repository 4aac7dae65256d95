package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/imobflow/messaging-engine/internal/config"
	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/db"
	"github.com/imobflow/messaging-engine/internal/dispatcher"
	"github.com/imobflow/messaging-engine/internal/logger"
	"github.com/imobflow/messaging-engine/internal/metrics"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/optout"
	"github.com/imobflow/messaging-engine/internal/provider"
	"github.com/imobflow/messaging-engine/internal/queue"
	"github.com/imobflow/messaging-engine/internal/ratelimit"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/scheduler"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Start a channel dispatcher (whatsapp | sms)",
}

var dispatcherWhatsAppCmd = &cobra.Command{
	Use:   "whatsapp",
	Short: "Run the WhatsApp queue dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDispatcher(cmd, model.ChannelWhatsApp)
	},
}

var dispatcherSMSCmd = &cobra.Command{
	Use:   "sms",
	Short: "Run the SMS queue dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDispatcher(cmd, model.ChannelSMS)
	},
}

func init() {
	dispatcherCmd.AddCommand(dispatcherWhatsAppCmd)
	dispatcherCmd.AddCommand(dispatcherSMSCmd)
}

func buildClient(channel model.Channel, cc config.ChannelConfig) (provider.Client, error) {
	pc := cc.Provider
	if strings.TrimSpace(pc.BaseURL) == "" {
		return nil, fmt.Errorf("no provider base_url configured for %s", channel)
	}
	br := provider.NewMicroBreaker(pc.Breaker.FailThreshold, pc.Breaker.OpenFor)
	base := strings.TrimRight(pc.BaseURL, "/")

	if channel == model.ChannelWhatsApp {
		return provider.NewWhatsAppClient(pc.Name, base, pc.PhoneNumberID, pc.Token, cc.SendTimeout, br), nil
	}
	return provider.NewSMSCarrierClient(pc.Name, base, pc.Token, cc.SendTimeout, br), nil
}

func runDispatcher(cmd *cobra.Command, channel model.Channel) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	log := logger.L().Named("dispatcher").With(zap.String("channel", channel.String()))

	cc := cfg.Channel(channel.String())
	if !cc.Enabled {
		return fmt.Errorf("channel %s is disabled in config", channel)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

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

	redisClient, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	queueRepo := repository.NewQueueRepository(dbx)
	deliveriesRepo := repository.NewDeliveryRepository(dbx)
	threadsRepo := repository.NewThreadRepository(dbx)
	conversationsRepo := repository.NewConversationRepository(dbx)
	optOutsRepo := repository.NewOptOutRepository(dbx)
	templatesRepo := repository.NewTemplatesRepository(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx)

	client, err := buildClient(channel, cc)
	if err != nil {
		return err
	}

	convs := conversation.NewManager(conversationsRepo, log)
	registry := optout.NewRegistry(optOutsRepo, redisClient, log)
	renderer := template.NewRenderer(templatesRepo)
	limiter := ratelimit.NewTokenBucket(cc.RatePerWindow, cc.RateWindow)

	disp := dispatcher.New(
		dispatcher.Config{
			Channel:     channel,
			BatchSize:   cc.BatchSize,
			BaseDelay:   cc.BaseRetryDelay,
			StuckAfter:  cc.StuckAfter,
			SendTimeout: cc.SendTimeout,
		},
		queueRepo,
		deliveriesRepo,
		threadsRepo,
		convs,
		registry,
		renderer,
		templatesRepo,
		client,
		limiter,
		outboxRepo,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drain := scheduler.New(scheduler.JobFunc{
		JobName: "drain-" + channel.String(),
		Fn:      func(ctx context.Context) { disp.RunCycle(ctx) },
	}, cc.DrainInterval, log)

	// retention sweep shares the process with the drain loop
	queueSvc := queue.New(dbx, queueRepo, outboxRepo, renderer, map[model.Channel]int{
		model.ChannelWhatsApp: cfg.WhatsApp.MaxRetries,
		model.ChannelSMS:      cfg.SMS.MaxRetries,
	})
	sweep := scheduler.New(scheduler.JobFunc{
		JobName: "retention-sweep",
		Fn: func(ctx context.Context) {
			n, err := queueSvc.SweepRetention(ctx, cfg.Retention.MaxAge)
			if err != nil {
				log.Error("retention sweep", zap.Error(err))
				return
			}
			if n > 0 {
				log.Info("retention sweep", zap.Int64("deleted", n))
			}
		},
	}, cfg.Retention.SweepInterval, log)

	go sweep.Start(ctx)

	log.Info("dispatcher started",
		zap.Int("batch_size", cc.BatchSize),
		zap.Int("rate_per_window", cc.RatePerWindow),
		zap.Duration("rate_window", cc.RateWindow),
	)

	drain.Start(ctx)
	return nil
}
