package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hostel-permit-api/api/swagger"
	"github.com/noah-isme/hostel-permit-api/internal/handler"
	"github.com/noah-isme/hostel-permit-api/internal/middleware"
	"github.com/noah-isme/hostel-permit-api/internal/models"
	"github.com/noah-isme/hostel-permit-api/internal/repository"
	"github.com/noah-isme/hostel-permit-api/internal/service"
	"github.com/noah-isme/hostel-permit-api/internal/workflow"
	"github.com/noah-isme/hostel-permit-api/migrations"
	"github.com/noah-isme/hostel-permit-api/pkg/cache"
	"github.com/noah-isme/hostel-permit-api/pkg/config"
	"github.com/noah-isme/hostel-permit-api/pkg/database"
	"github.com/noah-isme/hostel-permit-api/pkg/jobs"
	"github.com/noah-isme/hostel-permit-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hostel-permit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hostel-permit-api/pkg/middleware/requestid"
	"github.com/noah-isme/hostel-permit-api/pkg/passrender"
	"github.com/noah-isme/hostel-permit-api/pkg/passtoken"
	"github.com/noah-isme/hostel-permit-api/pkg/realtime"
	"github.com/noah-isme/hostel-permit-api/pkg/sms"
	"github.com/noah-isme/hostel-permit-api/pkg/storage"
)

// @title Hostel Permit API
// @version 1.0.0
// @description Outing and home permission workflow for hostel residents
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database unavailable", "error", err)
	}
	defer db.Close() //nolint:errcheck
	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db, migrations.Files)
		if err != nil {
			logr.Sugar().Fatalw("migration failed", "error", err)
		}
		logr.Sugar().Infow("schema up to date", "applied", applied)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without locks, queue cache and cross-instance events", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	permissions := repository.NewPermissionRepository(db)
	students := repository.NewStudentRepository(db)
	users := repository.NewUserRepository(db)
	notices := repository.NewNoticeRepository(db)

	hub := realtime.NewHub(logr)
	if err := metrics.TrackConnections(hub.Len); err != nil {
		logr.Warn("connection metric not registered", zap.Error(err))
	}
	publisher := realtimePublisher(ctx, cfg, redisClient, hub, logr)

	var notifications *service.NotificationService
	mux := jobs.NewMux()
	queue := jobs.NewQueue("side-effects", mux.Process, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
		OnDrop: func(job jobs.Job, err error) {
			if strings.HasPrefix(job.Type, "notify.") {
				notifications.Dropped(job, err)
				return
			}
			metrics.RecordDependencyFailure(job.Type)
			logr.Error("background job dropped", zap.String("type", job.Type), zap.String("job_id", job.ID), zap.Error(err))
		},
	})

	provider, err := sms.NewProvider(cfg.SMS, nil, logr)
	if err != nil {
		logr.Sugar().Fatalw("invalid sms configuration", "error", err)
	}
	notifications = service.NewNotificationService(notices, publisher, sms.NewGateway(provider, cfg.SMS.DefaultRegion, logr), logr,
		service.WithNotificationQueue(queue),
		service.WithNotificationMetrics(metrics),
		service.WithForwardedSMS(cfg.SMS.NotifyForwards),
	)
	notifications.RegisterJobs(mux)
	if err := metrics.TrackQueue("side-effects", queue.Len); err != nil {
		logr.Warn("queue depth metric not registered", zap.Error(err))
	}

	signer, err := passtoken.NewSigner(cfg.Credential.SigningSecret, "")
	if err != nil {
		logr.Sugar().Fatalw("invalid credential configuration", "error", err)
	}
	credentialOpts := []service.CredentialOption{
		service.WithCredentialQueue(queue),
		service.WithCredentialMetrics(metrics),
	}
	if cfg.Credential.RenderEnabled {
		files, err := storage.NewLocalStorage(cfg.Credential.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("pass storage unavailable", "error", err)
		}
		credentialOpts = append(credentialOpts,
			service.WithPassRendering(passrender.NewRenderer(nil), files),
			service.WithPassLinks(storage.NewLinkSigner(cfg.Credential.LinkSecret)),
		)
	}
	credentials := service.NewCredentialService(permissions, students, signer, logr, service.CredentialConfig{
		OutgoingWindow: cfg.Credential.OutgoingWindow,
		ReturnWindow:   cfg.Credential.ReturnWindow,
	}, credentialOpts...)
	credentials.RegisterJobs(mux)

	permissionOpts := []service.PermissionServiceOption{service.WithPermissionMetrics(metrics)}
	if redisClient != nil && cfg.Lock.Enabled {
		permissionOpts = append(permissionOpts, service.WithRequestLocker(cache.NewLocker(redisClient, cfg.Lock, logr)))
	}
	if redisClient != nil && cfg.Cache.Enabled {
		queueCache := service.NewCacheService(repository.NewCacheRepository(redisClient, "permits", logr), metrics, cfg.Cache.QueueTTL, logr, true)
		permissionOpts = append(permissionOpts, service.WithQueueCache(queueCache, cfg.Cache.QueueTTL))
	}
	resolver := workflow.NewResolver(workflow.NewAcademicMapper(cfg.Routing.EmailDomain))
	permissionSvc := service.NewPermissionService(permissions, students, users, resolver, credentials, notifications, validate, logr, permissionOpts...)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})

	queue.Start(ctx)
	defer queue.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, middleware.CallerFields))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:        authSvc,
		authHandler: handler.NewAuthHandler(authSvc),
		permissions: handler.NewPermissionHandler(permissionSvc, credentials),
		notices:     handler.NewNoticeHandler(notifications),
		realtime:    handler.NewRealtimeHandler(hub, users, cfg.CORS.AllowedOrigins, logr),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// realtimePublisher picks the cross-instance transport and starts the relay
// feeding the local hub. Without a broker events go straight to the hub.
func realtimePublisher(ctx context.Context, cfg *config.Config, client *redis.Client, hub *realtime.Hub, logr *zap.Logger) realtime.Publisher {
	switch cfg.Realtime.Driver {
	case config.RealtimeDriverKafka:
		publisher, err := realtime.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			logr.Warn("kafka realtime disabled", zap.Error(err))
			return hub
		}
		go func() {
			<-ctx.Done()
			_ = publisher.Close()
		}()
		relay := realtime.NewKafkaRelay(cfg.Kafka, "permits-"+uuid.NewString(), hub, logr)
		go runRelay(ctx, "kafka", relay.Run, logr)
		return publisher
	case config.RealtimeDriverRedis:
		if client == nil {
			return hub
		}
		relay := realtime.NewRedisRelay(client, cfg.Realtime.ChannelPrefix, hub, logr)
		go runRelay(ctx, "redis", relay.Run, logr)
		return realtime.NewRedisPublisher(client, cfg.Realtime.ChannelPrefix)
	default:
		return hub
	}
}

func runRelay(ctx context.Context, name string, run func(context.Context) error, logr *zap.Logger) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		logr.Error("realtime relay stopped", zap.String("driver", name), zap.Error(err))
	}
}

type routeDeps struct {
	auth        middleware.TokenValidator
	authHandler *handler.AuthHandler
	permissions *handler.PermissionHandler
	notices     *handler.NoticeHandler
	realtime    *handler.RealtimeHandler
}

func registerRoutes(api *gin.RouterGroup, d routeDeps) {
	api.POST("/auth/login", d.authHandler.Login)
	api.GET("/passes/:token", d.permissions.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(d.auth))
	secured.GET("/auth/me", d.authHandler.Me)
	secured.GET("/realtime/ws", d.realtime.Stream)
	secured.GET("/notices", d.notices.List)
	secured.POST("/notices/:id/read", d.notices.MarkRead)

	perms := secured.Group("/permissions")
	perms.POST("", middleware.RequireRoles(models.RoleStudent), d.permissions.Submit)
	perms.GET("/mine", middleware.RequireRoles(models.RoleStudent), d.permissions.Mine)
	perms.GET("/queue", middleware.RequireRoles(middleware.ApproverRoles...), d.permissions.Queue)
	perms.GET("/:id", d.permissions.Get)
	perms.GET("/:id/passes", d.permissions.Passes)
	perms.POST("/:id/decision", middleware.RequireRoles(middleware.ApproverRoles...), d.permissions.Decide)
	perms.POST("/:id/credentials/retry", middleware.RequireRoles(models.RoleHostelIncharge, models.RoleWarden), d.permissions.RetryCredentials)

	secured.GET("/credentials/inspect", middleware.RequireRoles(models.RoleSecurity), d.permissions.Inspect)
}
