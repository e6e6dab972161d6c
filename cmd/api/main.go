package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ecorder/internal/config"
	"ecorder/internal/domain/ordernumber"
	"ecorder/internal/handler"
	"ecorder/internal/infra/db"
	infraRepo "ecorder/internal/infra/repository"
	"ecorder/internal/messaging/kafka"
	"ecorder/internal/metrics"
	"ecorder/internal/payment"
	"ecorder/internal/server"
	"ecorder/internal/usecase"
	"ecorder/internal/validator"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.IsProd() {
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// "8080" -> ":8080"。":8080"や"127.0.0.1:8080"はそのまま
func listenAddr(port string) string {
	if port == "" || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func main() {
	//.envは無くてもよい（本番は環境変数のみ）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}
	logger := newLogger(cfg)
	log := logger.WithField("service", "ecorder")

	//DB接続
	gormDB, err := db.Connect(cfg, log.WithField("component", "gorm"))
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}
	if err := db.Migrate(gormDB); err != nil {
		log.WithError(err).Fatal("db migrate failed")
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	addressRepo := infraRepo.NewAddressGormRepository(gormDB)
	deliveryRepo := infraRepo.NewDeliveryMethodGormRepository(gormDB)
	txm := infraRepo.NewTxManagerGorm(gormDB)

	//決済（キーが無ければローカル用）
	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		sg, err := payment.NewStripeGateway(payment.StripeGatewayConfig{
			APIKey: cfg.StripeSecretKey,
			Logger: log.WithField("component", "stripe"),
		})
		if err != nil {
			log.WithError(err).Fatal("stripe gateway init failed")
		}
		gateway = sg
	} else {
		log.Warn("STRIPE_SECRET_KEY not set; using in-memory payment gateway")
		gateway = payment.NewFakeGateway()
	}

	//注文イベント（ブローカー未設定なら送らない）
	var publisher usecase.OrderEventPublisher = kafka.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaOrderTopic, log.WithField("component", "kafka-producer"))
		if err != nil {
			log.WithError(err).Fatal("kafka producer init failed")
		}
		defer func() {
			if err := producer.Close(); err != nil {
				log.WithError(err).Warn("kafka producer close failed")
			}
		}()
		publisher = producer
	}

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)

	//Usecase生成
	orderUC := usecase.NewOrderUsecase(usecase.OrderUsecaseDeps{
		Tx:              txm,
		Addresses:       addressRepo,
		DeliveryMethods: deliveryRepo,
		Payments:        gateway,
		Events:          publisher,
		Validator:       validator.NewOrderValidator(),
		Numbers:         ordernumber.New(),
		Metrics:         orderMetrics,
		Logger:          log.WithField("component", "order"),
		Currency:        cfg.SettlementCurrency,
		PaymentTimeout:  cfg.PaymentTimeout,
	})
	adminOrderUC := usecase.NewAdminOrderUsecase(txm, publisher, orderMetrics, log.WithField("component", "admin_order"))

	//Handler生成
	handlers := server.Handlers{
		Orders:      handler.NewOrderHandler(orderUC),
		AdminOrders: handler.NewAdminOrderHandler(adminOrderUC, orderUC),
		Webhooks:    handler.NewWebhookHandler(orderUC, cfg.StripeWebhookSecret),
	}

	e := server.New(log.WithField("component", "http"))
	server.RegisterRoutes(e, cfg, userRepo, prometheus.DefaultGatherer, handlers)

	//Server起動
	addr := listenAddr(cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, e, addr, log); err != nil {
		log.WithError(err).Error("http server stopped")
	}
}
