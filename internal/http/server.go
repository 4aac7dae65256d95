package http

import (
	"context"
	"net/http"
	"time"

	"github.com/imobflow/messaging-engine/internal/autoresponder"
	"github.com/imobflow/messaging-engine/internal/config"
	"github.com/imobflow/messaging-engine/internal/conversation"
	"github.com/imobflow/messaging-engine/internal/http/middleware"
	"github.com/imobflow/messaging-engine/internal/logger"
	"github.com/imobflow/messaging-engine/internal/metrics"
	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/optout"
	"github.com/imobflow/messaging-engine/internal/queue"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/imobflow/messaging-engine/internal/template"
	"github.com/imobflow/messaging-engine/internal/webhook"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	tenantsRepo := repository.NewTenantsRepository(mysqlDB)
	queueRepo := repository.NewQueueRepository(mysqlDB)
	deliveriesRepo := repository.NewDeliveryRepository(mysqlDB)
	conversationsRepo := repository.NewConversationRepository(mysqlDB)
	threadsRepo := repository.NewThreadRepository(mysqlDB)
	rulesRepo := repository.NewRulesRepository(mysqlDB)
	optOutsRepo := repository.NewOptOutRepository(mysqlDB)
	templatesRepo := repository.NewTemplatesRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// services
	renderer := template.NewRenderer(templatesRepo)
	queueSvc := queue.New(mysqlDB, queueRepo, outboxRepo, renderer, map[model.Channel]int{
		model.ChannelWhatsApp: cfg.WhatsApp.MaxRetries,
		model.ChannelSMS:      cfg.SMS.MaxRetries,
	})
	convs := conversation.NewManager(conversationsRepo, logger.L())
	registry := optout.NewRegistry(optOutsRepo, rds, logger.L())
	responder := autoresponder.New(rulesRepo, queueSvc, logger.L())
	ingestor := webhook.NewIngestor(
		convs,
		threadsRepo,
		deliveriesRepo,
		registry,
		responder,
		outboxRepo,
		cfg.BusinessHours,
		cfg.AutoResponder.FirstContactWindow,
		logger.L().Named("webhook"),
	)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// provider callbacks carry no tenant API key; the channel adapter in
	// front of this service verifies the provider's signature
	e.POST("/webhooks/:channel", webhookHandler(ingestor))

	// middlewares
	authMW := middleware.APIKeyMiddleware(tenantsRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/messages", sendMessageHandler(queueSvc))
	v1.POST("/messages/bulk", sendBulkHandler(queueSvc))
	v1.DELETE("/messages/:id", cancelMessageHandler(queueSvc))

	v1.GET("/conversations/stats", conversationStatsHandler(convs))
	v1.GET("/conversations/:id", getConversationHandler(convs))
	v1.GET("/conversations/:id/messages", listThreadHandler(convs, threadsRepo))
	v1.POST("/conversations/:id/read", markReadHandler(convs))
	v1.POST("/conversations/:id/assign", assignHandler(convs))
	v1.POST("/conversations/:id/close", closeConversationHandler(convs))
	v1.POST("/conversations/:id/reopen", reopenConversationHandler(convs))

	v1.POST("/optouts", setOptOutHandler(registry))
	v1.GET("/optouts/:phone", getOptOutHandler(registry))

	v1.GET("/reports/deliveries", listDeliveriesHandler(chDeliveriesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	logger.L().Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
