package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/dal/rabbitmq"
	entryrepo "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/entry/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/otel"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/ledgersvc"
	"github.com/corray333/backend-labs/orderflow/internal/transport/consumer"
	"github.com/spf13/viper"
)

// LedgerApp serves the inventory and financial ledger queues.
type LedgerApp struct {
	consumerTransp *consumer.Consumer
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewLedgerApp creates the ledger application.
func MustNewLedgerApp() *LedgerApp {
	otelController := otel.MustInitOtel()
	rabbitMqClient := rabbitmq.MustNewClient()
	postgresClient := postgres.MustNewClient()

	prefetch := viper.GetInt("ledger.consumer.prefetch")
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := rabbitMqClient.Qos(prefetch); err != nil {
		panic(err)
	}

	ledgerSvc := ledgersvc.MustNewLedgerService(
		ledgersvc.WithEntryRepository(entryrepo.NewEntryRepository(postgresClient)),
	)

	return &LedgerApp{
		consumerTransp: consumer.NewConsumer(rabbitMqClient, ledgerSvc),
		rabbitMqClient: rabbitMqClient,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

// Run consumes until an interrupt signal, then shuts down gracefully.
func (a *LedgerApp) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting ledger consumer")
		if err := a.consumerTransp.Run(ctx); err != nil {
			slog.Error("Consumer error", "error", err)
		}
		stop()
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	a.gracefulShutdown()
}

func (a *LedgerApp) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.consumerTransp.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	}

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	a.postgresClient.Close()

	if err := a.otelController.Shutdown(ctx); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	slog.Info("Ledger shutdown complete")
}
