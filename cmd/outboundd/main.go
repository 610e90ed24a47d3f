package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-pg/pg"
	"github.com/joho/godotenv"
	"github.com/mailgun/mailgun-go/v3"
	"github.com/sirupsen/logrus"

	"github.com/parkside-crm/outbound"
	redisnotify "github.com/parkside-crm/outbound/notification/redis"
	mailguntransport "github.com/parkside-crm/outbound/provider/mailgun"
	sestransport "github.com/parkside-crm/outbound/provider/ses"
	"github.com/parkside-crm/outbound/provider/whatsapp"
	gopg "github.com/parkside-crm/outbound/storage/go-pg"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("no .env file loaded")
	}

	db := pg.Connect(&pg.Options{
		Addr:     envOr("DATABASE_ADDR", "localhost:5432"),
		User:     envOr("DATABASE_USER", "outbound"),
		Password: os.Getenv("DATABASE_PASSWORD"),
		Database: envOr("DATABASE_NAME", "outbound"),
	})
	defer db.Close()

	queue := gopg.NewPgQueue(db, gopg.SetLeaseDuration(envDurationOr("QUEUE_LEASE", 30*time.Second)))
	campaigns := gopg.NewCampaignRepository(db)
	credentials := outbound.NewCredentialManager(gopg.NewCredentialRepository(db), logger)

	options := []outbound.Option{
		outbound.SetLogger(logger),
		outbound.SetQueue(queue),
		outbound.SetCampaignRepo(campaigns),
		outbound.SetCredentialManager(credentials),
		outbound.SetWorkerCount(envIntOr("WORKER_COUNT", 5)),
		outbound.SetRateLimit(float64(envIntOr("RATE_LIMIT_PER_SECOND", 100)), envIntOr("RATE_LIMIT_BURST", 100)),
		outbound.SetBatchSize(envIntOr("BATCH_SIZE", 5)),
		outbound.SetBatchPause(envDurationOr("BATCH_PAUSE", time.Second)),
	}

	switch envOr("EMAIL_PROVIDER", "ses") {
	case "mailgun":
		mg := mailgun.NewMailgun(os.Getenv("MAILGUN_DOMAIN"), os.Getenv("MAILGUN_API_KEY"))
		options = append(options, outbound.SetTransport(
			mailguntransport.NewMailgunTransport(mg, mailguntransport.SetFrom(os.Getenv("EMAIL_FROM"))),
		))

	default:
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(envOr("AWS_REGION", "eu-west-1")),
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to create aws session")
		}

		options = append(options, outbound.SetTransport(
			sestransport.NewSesTransport(sess, os.Getenv("EMAIL_FROM")),
		))
	}

	if phoneNumberID := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); phoneNumberID != "" {
		options = append(options, outbound.SetTransport(whatsapp.NewWhatsAppTransport(phoneNumberID)))

		credentials.RegisterExchanger(outbound.ProviderWhatsApp, whatsapp.NewTokenSource(
			os.Getenv("META_CLIENT_ID"),
			os.Getenv("META_CLIENT_SECRET"),
		))
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		notifier, err := redisnotify.NewNotifier(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect notification store")
		}
		defer notifier.Close()

		options = append(options, outbound.SetNotifier(notifier))
	}

	service, err := outbound.NewService(options...)
	if err != nil {
		logger.WithError(err).Fatal("failed to create outbound service")
	}

	service.Start()

	server := &http.Server{
		Addr:    ":" + envOr("PORT", "8080"),
		Handler: service.HttpHandler().Router(),
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("http server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("http shutdown failed")
	}

	if err := service.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("worker shutdown failed")
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func envIntOr(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return parsed
}
