package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	// Instrumentation
	"github.com/exaring/otelpgx"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/cenackle/services/activity-service/config"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/adapters/primary/events"
	http_adapter "github.com/jupiterclapton/cenackle/services/activity-service/internal/adapters/primary/http"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/adapters/secondary/security"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/services"
)

func main() {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)
	slog.Info("🚀 Starting Activity Service", "env", cfg.Env, "fanout_mode", cfg.FanOutMode, "max_feed_size", cfg.MaxFeedSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure: Redis (feeds + caches)
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		slog.Error("Failed to instrument Redis", "error", err)
		os.Exit(1)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Unable to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("✅ Connected to Redis")

	// 4. Infrastructure: Postgres (users, channels, blocks)
	dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Unable to parse DB config", "error", err)
		os.Exit(1)
	}
	// Instrumentation SQL (Pour voir les requêtes dans Jaeger)
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	slog.Info("✅ Connected to Postgres")

	// 5. Infrastructure: Neo4j (graphe follow)
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		slog.Error("Failed to create neo4j driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close(context.Background())

	verifyCtx, verifyCancel := context.WithTimeout(ctx, 5*time.Second)
	err = driver.VerifyConnectivity(verifyCtx)
	verifyCancel()
	if err != nil {
		slog.Error("Failed to connect to Neo4j", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Neo4j")

	relations := repository.NewNeo4jRepo(driver)
	if err := relations.EnsureSchema(ctx); err != nil {
		slog.Warn("Schema init failed (might be fine if already exists)", "error", err)
	}

	// 6. Sécurité : vérification des tokens émis par identity-service
	pubPEM, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		slog.Error("Unable to read JWT public key", "path", cfg.JWTPublicKeyPath, "error", err)
		os.Exit(1)
	}
	verifier, err := security.NewJWTVerifier(pubPEM, cfg.JWTIssuer)
	if err != nil {
		slog.Error("Invalid JWT public key", "error", err)
		os.Exit(1)
	}

	// 7. Initialisation du Core
	kv := repository.NewRedisKV(rdb)
	feedRepo := repository.NewRedisFeedRepo(rdb)
	entities := services.Entities{
		Cache:    kv,
		Users:    repository.NewUserRepo(dbPool),
		Channels: repository.NewChannelRepo(dbPool),
		Blocks:   repository.NewBlockRepo(dbPool),
	}

	followers := services.NewFollowerCache(kv, relations, services.ParseTTL(cfg.FollowingCacheTTL))
	fanout := services.NewFanOutWriter(feedRepo, followers, int64(cfg.MaxFeedSize), cfg.FanOutBatchSize)
	hydrator := services.NewHydrator(entities)
	defaultFeed := services.NewDefaultFeed(entities, services.ParseTTL(cfg.DefaultFeedTTL))
	feedService := services.NewFeedService(feedRepo, hydrator, defaultFeed)

	// 8. Fan-out : inline ou via JetStream
	var dispatcher ports.ActivityDispatcher = services.DispatchFunc(fanout.Publish)
	if cfg.FanOutMode == "queue" {
		nc, err := nats.Connect(cfg.NatsUrl)
		if err != nil {
			slog.Error("Unable to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			slog.Error("JetStream init failed", "error", err)
			os.Exit(1)
		}
		stream, err := eventbroker.EnsureStream(ctx, js)
		if err != nil {
			slog.Error("Unable to create stream", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Connected to NATS JetStream", "stream", eventbroker.StreamName)

		dispatcher = eventbroker.NewJetStreamDispatcher(js)

		consumer := events.NewFanOutConsumer(fanout)
		go func() {
			if err := consumer.Start(ctx, stream, eventbroker.FanOutSubject); err != nil {
				slog.Error("Fan-out worker stopped", "error", err)
				os.Exit(1)
			}
		}()
	}

	activityService := services.NewActivityService(relations, followers, entities, dispatcher, services.ParseTTL(cfg.EntityCacheTTL))

	// 9. Serveur HTTP (Driving Adapter)
	mux := http.NewServeMux()
	http_adapter.NewServer(feedService, activityService).Register(mux)

	var h http.Handler = mux

	// A. Auth (Injecte UserID)
	h = http_adapter.Auth(verifier)(h)

	// B. CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "traceparent"},
		AllowCredentials: true,
	})
	h = c.Handler(h)

	// C. OTEL HTTP (Racine)
	h = otelhttp.NewHandler(h, "activity-http", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))

	root := http.NewServeMux()
	root.Handle("/", h)
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	srvHTTP := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("📡 Activity Service HTTP listening", "port", cfg.HTTPPort)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// 10. Serveur gRPC : Health Check & Reflection
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		slog.Info("📡 Activity Service gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	cancel() // Arrête le worker JetStream

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	slog.Info("👋 Server exited")
}

// --- Helpers ---

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("activity-service"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
