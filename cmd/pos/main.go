package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/tablepos/internal/catalog"
	"github.com/joao-fontenele/tablepos/internal/config"
	"github.com/joao-fontenele/tablepos/internal/messaging"
	"github.com/joao-fontenele/tablepos/internal/mw"
	"github.com/joao-fontenele/tablepos/internal/orders"
	"github.com/joao-fontenele/tablepos/internal/realtime"
	"github.com/joao-fontenele/tablepos/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Money goes over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, "pos", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("pos", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	catalogRepo := catalog.NewRepository(db)
	service := orders.NewService(orders.NewOrderRepository(db), catalogRepo, orders.ServiceConfig{
		DefaultTaxRate:    cfg.DefaultTaxRate,
		StrictTransitions: cfg.StrictTransitions,
		Location:          cfg.Location,
		Restaurant:        orders.Restaurant(cfg.Restaurant),
	}, logger)

	hub := realtime.NewHub(logger)
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	// Without Kafka events go straight to the local hub. With Kafka every
	// instance publishes to the topic and only the relay feeds its hub, so a
	// display sees each event once whichever instance handled the request.
	var publisher realtime.Publisher = hub
	if len(cfg.KafkaBrokers) > 0 {
		eventPublisher := messaging.NewEventPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
		defer func() { _ = eventPublisher.Close() }()
		publisher = eventPublisher

		relay := messaging.NewRelay(cfg.KafkaBrokers, cfg.EventsTopic, hub, logger)
		defer func() { _ = relay.Close() }()
		go func() {
			if err := relay.Run(relayCtx); err != nil {
				logger.Error("realtime relay stopped", "error", err)
			}
		}()
		logger.Info("realtime fan-out through kafka", "topic", cfg.EventsTopic, "brokers", cfg.KafkaBrokers)
	}
	dispatcher := realtime.NewDispatcher(publisher, logger)
	// Deferred after the publisher so queued events drain before it closes.
	defer dispatcher.Close()

	api := apiRoutes(
		orders.NewHandler(service, dispatcher, logger),
		catalog.NewHandler(catalogRepo, logger),
		realtime.NewHandler(hub, cfg.CORSAllowedOrigins, logger),
	)

	var protected http.Handler = api
	if cfg.JWTSecret != "" {
		protected = mw.AuthMiddleware(cfg.JWTSecret)(api)
	} else {
		logger.Warn("JWT_SECRET not set, staff authentication disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", healthz(db))
	mux.Handle("/", protected)

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(corsHandler(mux), "pos",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout: 10 * time.Second,
		// Websocket connections outlive any write timeout; they manage their
		// own deadlines.
		WriteTimeout: 0,
	}

	go func() {
		logger.Info("starting pos service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopRelay()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func healthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
