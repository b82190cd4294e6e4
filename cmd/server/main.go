package main // Entry point package

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/metrics"
	"github.com/iliyamo/table-reservation/internal/middleware"
	"github.com/iliyamo/table-reservation/internal/notify"
	"github.com/iliyamo/table-reservation/internal/payment"
	"github.com/iliyamo/table-reservation/internal/queue"
	"github.com/iliyamo/table-reservation/internal/realtime"
	"github.com/iliyamo/table-reservation/internal/router"
	"github.com/iliyamo/table-reservation/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real environment variables always win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)
	}

	st, err := openStorage(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.close()

	rdb := config.NewRedisClient() // nil when Redis is unreachable
	if rdb != nil {
		defer rdb.Close()
	}

	hub := realtime.NewHub(m)
	go hub.Run(ctx)

	publishers := notify.Multi{relay(ctx, rdb, cfg.EventsChannel, hub)}

	cacheCfg := config.LoadCacheConfig()
	if inv := middleware.NewCacheInvalidator(cacheCfg, rdb); inv != nil {
		publishers = append(publishers, inv)
	}

	if cfg.EventQueueEnabled {
		qp := queue.NewPublisher(cfg.RabbitURL, 0)
		go qp.Run(ctx)
		publishers = append(publishers, qp)
		go func() {
			if err := queue.StartEventConsumer(ctx, cfg.RabbitURL, cfg.EventLogDir); err != nil && ctx.Err() == nil {
				log.Printf("event consumer stopped: %v", err)
			}
		}()
	}

	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		log.Printf("payments: STRIPE_SECRET_KEY not set, payment intents disabled")
	}

	svc := service.NewReservationService(st.slots, st.ledger, st.users, publishers, gateway, service.Settings{
		FeeAmount:      cfg.ReservationFee,
		Currency:       cfg.Currency,
		VerifyPayments: cfg.VerifyPayments && gateway != nil,
		Metrics:        m,
	})

	if _, err := service.EnsureAdmin(ctx, st.users, cfg.AdminEmail, cfg.AdminPassword, cfg.BcryptCost); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	checks := map[string]handler.Check{"storage": st.ping}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	ops := router.Ops{Metrics: m, MetricsPath: cfg.MetricsPath, Checks: checks}
	if cfg.MetricsEnabled {
		ops.Gatherer = reg
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, ops, hub, cfg.JWTSecret, cfg.WSAllowedOrigins)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, st.users, st.tokens), cfg.JWTSecret)
	router.RegisterSlots(e, handler.NewSlotHandler(svc), cfg.JWTSecret,
		middleware.NewRedisCache(cacheCfg, rdb),
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, storage=%s)", addr, cfg.Env, cfg.StorageDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}

// relay picks the real-time publisher.  With Redis every instance
// publishes to the shared channel and the bridge feeds the local hub;
// without it the hub is published to directly.
func relay(ctx context.Context, rdb *redis.Client, channel string, hub *realtime.Hub) notify.Publisher {
	if rdb == nil {
		return hub
	}
	bridge := realtime.NewRedisBridge(rdb, channel, hub)
	go func() {
		for ctx.Err() == nil {
			err := bridge.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Printf("event bridge stopped: %v; restarting", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}()
	return bridge
}
