package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/iledger"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/inotificationrepo"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/isideeffectrepo"
	"github.com/corray333/backend-labs/orderflow/internal/dal/memory"
	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/dal/rabbitmq"
	memoryledger "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/ledger/memory"
	rabbitmqledger "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/ledger/rabbitmq"
	notificationrepo "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/notification/postgres"
	orderrepo "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/order/postgres"
	outboxrepo "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/outbox/postgres"
	sideeffectrepo "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/sideeffect/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/otel"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/notificationsvc"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/ordersvc"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/sideeffectsvc"
	grpctransport "github.com/corray333/backend-labs/orderflow/internal/transport/grpc"
	httptransport "github.com/corray333/backend-labs/orderflow/internal/transport/http"
	"github.com/corray333/backend-labs/orderflow/internal/transport/ws"
	outboxworker "github.com/corray333/backend-labs/orderflow/internal/worker/outbox"
	"github.com/corray333/backend-labs/orderflow/internal/worker/relay"
	sideeffectworker "github.com/corray333/backend-labs/orderflow/internal/worker/sideeffect"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// App represents the application.
type App struct {
	otel             *otel.OtelController
	events           *bus.EventBus
	notificationSvc  *notificationsvc.NotificationService
	httpTransport    *httptransport.HTTPTransport
	grpcTransport    *grpctransport.GRPCTransport
	sideEffectWorker *sideeffectworker.Worker
	relay            *relay.Relay
	outboxWorker     *outboxworker.Worker
	postgresClient   *postgres.Client
	rabbitClient     *rabbitmq.Client
}

// stores groups the repositories of one store driver.
type stores struct {
	orders        iorderrepo.IOrderRepository
	markers       isideeffectrepo.ISideEffectRepository
	notifications inotificationrepo.INotificationRepository
	outbox        ioutboxrepo.IOutboxRepository
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	a := &App{
		otel: otel.MustInitOtel(),
	}

	st := a.mustNewStores()
	inventory, financial := a.mustNewLedgers()

	a.events = bus.NewEventBus(
		viper.GetInt("bus.buffer_size"),
		time.Duration(viper.GetInt("bus.gap_timeout_ms"))*time.Millisecond,
	)

	sideEffectSvc := sideeffectsvc.MustNewSideEffectService(
		sideeffectsvc.WithMarkerRepository(st.markers),
		sideeffectsvc.WithInventoryLedger(inventory),
		sideeffectsvc.WithFinancialLedger(financial),
		sideeffectsvc.WithTimeout(time.Duration(viper.GetInt("sideeffects.timeout_seconds"))*time.Second),
		sideeffectsvc.WithStaleAfter(time.Duration(viper.GetInt("sideeffects.stale_after_seconds"))*time.Second),
	)

	orderSvc := ordersvc.MustNewOrderService(
		ordersvc.WithOrderRepository(st.orders),
		ordersvc.WithSideEffects(sideEffectSvc),
		ordersvc.WithEventPublisher(a.events),
	)

	a.notificationSvc = notificationsvc.MustNewNotificationService(
		notificationsvc.WithNotificationRepository(st.notifications),
		notificationsvc.WithOrderReader(orderSvc),
		notificationsvc.WithHub(bus.NewHub[notification.Envelope]("notifications", viper.GetInt("bus.buffer_size"))),
	)

	a.sideEffectWorker = sideeffectworker.NewWorker(sideEffectSvc)

	if a.rabbitClient != nil && viper.GetBool("relay.enabled") {
		a.relay = relay.NewRelay(a.events, a.rabbitClient, st.outbox)
		if err := a.rabbitClient.DeclareExchange(rabbitmq.DeclareExchangeConfig{
			Name:    a.relay.Exchange(),
			Kind:    "topic",
			Durable: true,
		}); err != nil {
			panic(err)
		}
		if st.outbox != nil {
			a.outboxWorker = outboxworker.NewWorker(st.outbox, a.rabbitClient)
		}
	}

	streams := ws.NewHandler(orderSvc, a.events, a.notificationSvc)
	a.httpTransport = httptransport.NewHTTPTransport(orderSvc, a.notificationSvc, sideEffectSvc, streams)
	a.httpTransport.RegisterRoutes()

	var probe func(ctx context.Context) error
	if a.postgresClient != nil {
		probe = a.postgresClient.Pool().Ping
	}
	a.grpcTransport = grpctransport.NewGRPCTransport(probe)

	return a
}

func (a *App) mustNewStores() stores {
	viper.SetDefault("store.driver", "postgres")

	switch driver := viper.GetString("store.driver"); driver {
	case "memory":
		slog.Warn("Using the in-memory store, nothing survives a restart")
		store := memory.NewStore()

		return stores{
			orders:        store,
			markers:       store.Markers(),
			notifications: store.Notifications(),
		}
	case "postgres":
		a.postgresClient = postgres.MustNewClient()

		return stores{
			orders:        orderrepo.NewPostgresOrderRepository(a.postgresClient),
			markers:       sideeffectrepo.NewSideEffectRepository(a.postgresClient),
			notifications: notificationrepo.NewNotificationRepository(a.postgresClient),
			outbox:        outboxrepo.NewOutboxRepository(a.postgresClient),
		}
	default:
		panic("unknown store.driver " + driver)
	}
}

func (a *App) mustNewLedgers() (iledger.InventoryLedger, iledger.FinancialLedger) {
	viper.SetDefault("ledger.driver", "rabbitmq")
	viper.SetDefault("relay.enabled", true)

	switch driver := viper.GetString("ledger.driver"); driver {
	case "memory":
		if viper.GetBool("relay.enabled") {
			a.rabbitClient = rabbitmq.MustNewClient()
		}
		l := memoryledger.NewLedger()

		return l, l
	case "rabbitmq":
		a.rabbitClient = rabbitmq.MustNewClient()
		l := rabbitmqledger.MustNewLedger(a.rabbitClient)

		return l, l
	default:
		panic("unknown ledger.driver " + driver)
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.events.Run(gctx)

		return nil
	})
	g.Go(func() error {
		a.sideEffectWorker.Start(gctx)

		return nil
	})
	if a.relay != nil {
		g.Go(func() error {
			a.relay.Start(gctx)

			return nil
		})
	}
	if a.outboxWorker != nil {
		g.Go(func() error {
			a.outboxWorker.Start(gctx)

			return nil
		})
	}
	g.Go(func() error {
		if err := a.httpTransport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)

			return err
		}

		return nil
	})
	g.Go(func() error {
		if err := a.grpcTransport.Run(); err != nil {
			slog.Error("gRPC server error", "error", err)

			return err
		}

		return nil
	})
	g.Go(func() error {
		a.grpcTransport.Monitor(gctx)

		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received")
		a.shutdown()

		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Application stopped with error", "error", err)
	}

	a.closeClients()
	slog.Info("Application shutdown complete")
}

// shutdown stops accepting work and ends every stream.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpTransport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.grpcTransport.Shutdown(ctx); err != nil {
		slog.Error("gRPC server shutdown error", "error", err)
	} else {
		slog.Info("gRPC server stopped gracefully")
	}

	a.events.Close()
	a.notificationSvc.Close()

	if err := a.otel.Shutdown(ctx); err != nil {
		slog.Error("Tracer provider shutdown error", "error", err)
	}
}

func (a *App) closeClients() {
	if a.rabbitClient != nil {
		if err := a.rabbitClient.Close(); err != nil {
			slog.Error("RabbitMQ connection close error", "error", err)
		} else {
			slog.Info("RabbitMQ connection closed gracefully")
		}
	}

	if a.postgresClient != nil {
		a.postgresClient.Close()
		slog.Info("Database connection closed gracefully")
	}
}
