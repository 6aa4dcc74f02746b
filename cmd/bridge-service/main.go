package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avitobridge-backend/internal/avito"
	"avitobridge-backend/internal/config"
	"avitobridge-backend/internal/database"
	"avitobridge-backend/internal/domain"
	relayHandler "avitobridge-backend/internal/handler/http/relay"
	"avitobridge-backend/internal/middleware"
	postgresRepo "avitobridge-backend/internal/repository/postgres"
	redisRepo "avitobridge-backend/internal/repository/redis"
	"avitobridge-backend/internal/service/autoreply"
	"avitobridge-backend/internal/service/forwarding"
	"avitobridge-backend/internal/service/interaction"
	"avitobridge-backend/internal/service/view"
	"avitobridge-backend/internal/service/wallet"
	"avitobridge-backend/internal/stream"
	"avitobridge-backend/internal/telegram"
	"avitobridge-backend/internal/worker"
	"avitobridge-backend/pkg/crypto"
	"avitobridge-backend/pkg/logger"
)

const consumerGroup = "bridge-core"

func main() {
	// 1. Configuration and logging
	cfg := config.Load()
	logger.InitDefault()
	zlog := logger.Log
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Stores
	db, err := database.NewPostgresDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	cipher, err := crypto.NewTokenCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}

	// 3. Repositories
	userRepo := postgresRepo.NewUserRepository(db.Pool)
	accountRepo := postgresRepo.NewAccountRepository(db.Pool)
	ruleRepo := postgresRepo.NewRuleRepository(db.Pool)
	noteRepo := postgresRepo.NewNoteRepository(db.Pool)
	messageLogRepo := postgresRepo.NewMessageLogRepository(db.Pool)
	transactionRepo := postgresRepo.NewTransactionRepository(db.Pool)
	forwardingRepo := postgresRepo.NewForwardingRepository(db.Pool)
	viewRepo := redisRepo.NewViewRepository(redisClient.Client, cfg.ViewTTL)
	replyContextRepo := redisRepo.NewReplyContextRepository(redisClient.Client, cfg.ReplyContextTTL)
	cooldownRepo := redisRepo.NewCooldownRepository(redisClient.Client)
	chargeRepo := redisRepo.NewChargeRepository(redisClient.Client)
	interactionRepo := redisRepo.NewInteractionRepository(redisClient.Client)

	// 4. Stream bus and external gateways
	bus := stream.NewBus(redisClient.Client, cfg.StreamBlock)
	clientFactory := avito.NewClientFactory(
		cfg.AvitoBaseURL,
		cfg.AvitoClientID,
		cfg.AvitoClientSecret,
		cipher,
		accountRepo,
		bus,
		zlog,
	)
	bot, err := telegram.NewBot(cfg.TelegramBotToken, zlog)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot: %v", err)
	}

	// 5. Services
	viewProvider := view.NewProvider(viewRepo, noteRepo, zlog)
	renderer := view.NewRenderer(bot, userRepo, viewProvider, zlog)
	replyEngine := autoreply.NewEngine(ruleRepo, cooldownRepo, zlog)
	forwardingSvc := forwarding.NewService(userRepo, forwardingRepo, zlog)
	walletSvc := wallet.NewService(chargeRepo, transactionRepo, zlog)
	dialogSvc := interaction.NewService(interactionRepo, noteRepo, forwardingRepo, zlog)

	// 6. Pipeline workers
	scheduler := worker.NewScheduler(zlog)
	defer scheduler.Stop()

	gateway := worker.GatewayFactory(func(account *domain.AvitoAccount) worker.Gateway {
		return clientFactory.For(account)
	})

	normalizer := worker.NewNormalizer(bus, zlog)
	replyStage := worker.NewAutoReplyStage(accountRepo, replyEngine, scheduler, bus, zlog)
	forwarder := worker.NewForwarder(accountRepo, forwardingSvc, messageLogRepo, bus, zlog)
	eventProcessor := worker.NewEventProcessor(
		userRepo,
		accountRepo,
		gateway,
		viewProvider,
		renderer,
		viewRepo,
		bot,
		replyContextRepo,
		zlog,
	)
	outbound := worker.NewOutboundDispatcher(accountRepo, gateway, messageLogRepo, viewRepo, renderer, zlog)
	chatActions := worker.NewChatActionStage(accountRepo, gateway, viewRepo, renderer, zlog)
	telegramSender := worker.NewTelegramSender(bot, bus, zlog)
	telegramActions := worker.NewTelegramActionWorker(bot, zlog)
	notifications := worker.NewNotificationWorker(accountRepo, userRepo, bus, zlog)

	stages := []struct {
		stream   string
		consumer string
		handler  stream.Handler
	}{
		{domain.StreamIncomingRaw, "normalizer-1", normalizer.Handle},
		{domain.StreamIncomingMessages, "autoreply-1", replyStage.Handle},
		{domain.StreamProcessedMessages, "forwarder-1", forwarder.Handle},
		{domain.StreamNewMessageEvents, "event-processor-1", eventProcessor.Handle},
		{domain.StreamOutgoingMessages, "outbound-1", outbound.Handle},
		{domain.StreamChatActions, "chat-actions-1", chatActions.Handle},
		{domain.StreamTelegramOutgoing, "tg-sender-1", telegramSender.Handle},
		{domain.StreamTelegramActions, "tg-actions-1", telegramActions.Handle},
		{domain.StreamNotifications, "notifications-1", notifications.Handle},
	}
	for _, stage := range stages {
		consumer := stream.NewConsumer(bus, stage.stream, consumerGroup, stage.consumer, stage.handler, cfg.WorkerBackoff, zlog)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Fatalf("Consumer failed: %v", err)
			}
		}()
	}

	// 7. Telegram update loop (replies, inline buttons, dialogs)
	updateRouter := telegram.NewUpdateRouter(userRepo, replyContextRepo, dialogSvc, bus, bot, zlog)
	go updateRouter.Run(ctx, bot.Updates())

	// 8. HTTP surface: marketplace webhook, payments, stats
	webhook := avito.NewWebhookHandler(cfg.AvitoWebhookSecret, bus, zlog)
	relayHdlr := relayHandler.NewHandler(userRepo, accountRepo, walletSvc, messageLogRepo, bus)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(zlog))
	router.Use(middleware.RequestLogger(zlog))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "bridge-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/avito/webhook", webhook.Handle)
		v1.POST("/payments/notify", relayHdlr.HandlePayment)
		v1.GET("/accounts/:id/stats", relayHdlr.GetAccountStats)
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	go func() {
		log.Printf("🚀 Bridge service listening on %s\n", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 9. Graceful shutdown
	<-ctx.Done()
	log.Println("Shutting down...")

	bot.StopUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("✅ Bridge service stopped")
}
