package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/cache"
	"github.com/mediconnect/backend/config"
	"github.com/mediconnect/backend/events"
	"github.com/mediconnect/backend/handlers"
	"github.com/mediconnect/backend/media"
	"github.com/mediconnect/backend/middleware"
	"github.com/mediconnect/backend/services"
	"github.com/mediconnect/backend/store"
	"github.com/mediconnect/backend/store/memstore"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends holds the storage and messaging dependencies behind the
// services. Directory and Limiter are nil without redis.
type Backends struct {
	Users         services.UserRepository
	Profiles      services.ProfileRepository
	Appointments  services.AppointmentRepository
	HealthRecords services.HealthRecordRepository

	Revocations auth.RevocationList
	Directory   services.DirectoryCache
	Limiter     middleware.Counter
	Media       media.Store
	Publisher   events.Publisher
	Audit       events.Reader

	Mongo    *store.Mongo
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	closers  []io.Closer
}

type App struct {
	Fiber    *fiber.App
	Backends *Backends
	Tokens   *auth.TokenManager
	Config   *config.Config
	Logger   *zap.Logger
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// connectRedis pings until redis answers, backing off linearly.
func connectRedis(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "redis URL parsing failed")
	}
	client := redis.NewClient(opt)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		if _, err = client.Ping(ctx).Result(); err == nil {
			return client, nil
		}
		logger.Warn("failed to connect to redis, retrying...",
			zap.Error(err),
			zap.Int("attempt", i+1))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	client.Close()
	return nil, errors.Wrapf(err, "redis connection failed after %d attempts", maxRetries)
}

func connectPostgres(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse pool config")
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	var pool *pgxpool.Pool
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn("failed to connect to postgres, retrying...",
			zap.Error(err),
			zap.Int("attempt", i+1))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, errors.Wrapf(err, "postgres connection failed after %d attempts", maxRetries)
}

// InMemoryBackends keeps everything in process.
func InMemoryBackends() *Backends {
	db := memstore.New()
	audit := events.NewMemory()
	return &Backends{
		Users:         db.Users(),
		Profiles:      db.Profiles(),
		Appointments:  db.Appointments(),
		HealthRecords: db.HealthRecords(),
		Revocations:   auth.NewMemoryRevocationList(),
		Media:         media.NewMemoryStore(),
		Publisher:     audit,
		Audit:         audit,
	}
}

// ConnectBackends dials MongoDB and redis, plus Postgres, Kafka and MinIO
// when they are configured.
func ConnectBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close(context.Background(), logger)
		}
	}()

	mongoDB, err := store.Connect(ctx, cfg.MongoDBURL, cfg.MongoDBName, logger)
	if err != nil {
		return nil, err
	}
	b.Mongo = mongoDB
	b.Users = mongoDB.Users()
	b.Profiles = mongoDB.Profiles()
	b.Appointments = mongoDB.Appointments()
	b.HealthRecords = mongoDB.HealthRecords()

	b.Redis, err = connectRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	b.Revocations = auth.NewCacheRevocationList(cache.NewCache(b.Redis, "revoked:"))
	b.Directory = cache.NewCache(b.Redis, "directory:")
	b.Limiter = middleware.NewRedisCounter(b.Redis)

	var sinks events.Multi
	b.Audit = events.Nop{}
	if cfg.PostgresURL != "" {
		b.Postgres, err = connectPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		pg := events.NewPostgresSink(b.Postgres)
		sinks = append(sinks, pg)
		b.Audit = pg
	} else {
		logger.Warn("POSTGRES_URL not set, appointment audit trail disabled")
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sinks = append(sinks, k)
		b.closers = append(b.closers, k)
		logger.Info("publishing appointment events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}
	b.Publisher = sinks

	if cfg.MinioEndpoint != "" {
		m, err := media.NewMinioStore(media.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.MinioBucket,
		}, logger)
		if err != nil {
			return nil, err
		}
		b.Media = m
	} else {
		logger.Warn("MINIO_ENDPOINT not set, profile pictures are kept in memory")
		b.Media = media.NewMemoryStore()
	}

	ok = true
	return b, nil
}

// Migrate creates the Mongo indexes, the audit table and the picture
// bucket for whichever of them are connected.
func (b *Backends) Migrate(ctx context.Context) error {
	if b.Mongo != nil {
		if err := b.Mongo.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	if b.Postgres != nil {
		if err := events.NewPostgresSink(b.Postgres).EnsureSchema(ctx); err != nil {
			return err
		}
	}
	if m, ok := b.Media.(*media.MinioStore); ok {
		if err := m.EnsureBucket(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backends) Close(ctx context.Context, logger *zap.Logger) {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			logger.Error("error closing event sink", zap.Error(err))
		}
	}
	if b.Postgres != nil {
		b.Postgres.Close()
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Error("error closing redis connection", zap.Error(err))
		}
	}
	if b.Mongo != nil {
		if err := b.Mongo.Disconnect(ctx); err != nil {
			logger.Error("error closing mongodb connection", zap.Error(err))
		}
	}
}

// Services wires the domain services over b.
func (b *Backends) Services(logger *zap.Logger) (*services.UserService, *services.AppointmentService, *services.HealthService) {
	users := services.NewUserService(b.Users, b.Profiles, b.Appointments, b.Directory, logger)
	appointments := services.NewAppointmentService(b.Users, b.Appointments, b.Publisher, logger)
	health := services.NewHealthService(b.Users, b.HealthRecords, logger)
	return users, appointments, health
}

func NewApp(cfg *config.Config, b *Backends, logger *zap.Logger) (*App, error) {
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:  cfg.JWTSecret,
		Issuer:  cfg.JWTIssuer,
		Expiry:  cfg.JWTExpiry,
		JWKSURL: cfg.JWKSURL,
	}, b.Revocations, logger)
	if err != nil {
		return nil, err
	}

	fiberApp := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(logger),
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
		BodyLimit:    media.MaxUploadSize + 1024*1024,
	})

	fiberApp.Use(middleware.Recovery(logger))
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, x-auth-token",
		AllowCredentials: true,
		ExposeHeaders:    middleware.HeaderRequestID,
		MaxAge:           300,
	}))
	fiberApp.Use(middleware.SecurityHeaders(cfg.AllowedOrigins))
	fiberApp.Use(middleware.RequestLogger(logger))

	fiberApp.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})

	users, appointments, health := b.Services(logger)
	handlers.Mount(fiberApp.Group("/api"), handlers.Deps{
		Tokens:       tokens,
		Users:        users,
		Appointments: appointments,
		Health:       health,
		Media:        b.Media,
		Audit:        b.Audit,
		Limiter:      b.Limiter,
		RateLimit: middleware.RateLimitConfig{
			Limit:  cfg.RateLimitRequests,
			Window: cfg.RateLimitWindow,
		},
		Logger: logger,
	})

	return &App{
		Fiber:    fiberApp,
		Backends: b,
		Tokens:   tokens,
		Config:   cfg,
		Logger:   logger,
	}, nil
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (a *App) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.Fiber.Listen(":" + a.Config.ServerPort)
	}()

	a.Logger.Info("server started",
		zap.String("port", a.Config.ServerPort),
		zap.String("environment", a.Config.Environment))

	select {
	case err := <-errChan:
		a.close()
		return errors.Wrap(err, "failed to start server")
	case <-sigChan:
	}
	a.Logger.Info("shutting down server...")

	if err := a.Fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		a.Logger.Error("error during server shutdown", zap.Error(err))
	}
	a.close()
	return nil
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Tokens.Close()
	a.Backends.Close(ctx, a.Logger)
}
