package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	config "storefront-checkout/configs"
	"storefront-checkout/internal/common/enum"
	database "storefront-checkout/internal/pkg/db"
	"storefront-checkout/internal/pkg/logger"
	midtransPkg "storefront-checkout/internal/pkg/midtrans"
	"storefront-checkout/internal/pkg/rabbitmq"
	"storefront-checkout/internal/pkg/redis"
	s3aws "storefront-checkout/internal/pkg/storage/s3"
	"storefront-checkout/internal/pkg/validation"
	serverApp "storefront-checkout/internal/server"

	"github.com/gin-gonic/gin"
)

func main() {
	logger.Setup()

	env, err := config.GetEnv()
	if err != nil {
		logger.Error.Println("Error getting environment", err)
		panic(err)
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	// Setup Redis
	redisClient, err := setupRedis(ctx, env)
	if err != nil {
		logger.Error.Println("Error setting up Redis", err)
		cancel()
		return
	}

	// Setup RabbitMQ
	rabbit, err := setupRabbitMQ(ctx, env)
	if err != nil {
		logger.Error.Println("Error setting up RabbitMQ", err)
		cancel()
		return
	}

	// Setup Database
	db, err := setupDB(env, redisClient)
	if err != nil {
		logger.Error.Println("Error setting up Database", err)
		cancel()
		return
	}

	// Setup S3 (optional)
	s3Client := setupS3(ctx, env, redisClient)

	// Setup Midtrans Client (optional)
	mtClient := setupMidtrans(env)

	// Setup Server
	setupServer(&config.SetupServerDto{
		Rds:    redisClient,
		Env:    env,
		Ctx:    &ctx,
		Cancel: cancel,
		Db:     db,
		Wg:     &wg,
		Rb:     rabbit,
		S3:     s3Client,
		Mt:     mtClient,
	})
}

func setupRedis(ctx context.Context, env *config.Config) (*redis.Client, error) {
	return redis.Setup(ctx, &redis.Config{
		Host:     env.RedisHost,
		Username: env.RedisUser,
		Port:     env.RedisPort,
		Password: env.RedisPass,
		PoolSize: env.RedisPoolSize,
	})
}

func setupRabbitMQ(ctx context.Context, env *config.Config) (*rabbitmq.ConnectionManager, error) {
	return rabbitmq.NewConnectionManager(ctx, &rabbitmq.Config{
		Username: env.RabbitUser,
		Password: env.RabbitPass,
		Host:     env.RabbitHost,
		Port:     env.RabbitPort,
		VHost:    env.RabbitVHost,
	})
}

func setupDB(env *config.Config, rds *redis.Client) (*database.Database, error) {
	return database.Setup(&database.Config{
		Host:      env.DBHost,
		Port:      env.DBPort,
		User:      env.DBUser,
		Password:  env.DBPass,
		Database:  env.DBName,
		SSLMode:   env.DBSSLMode,
		Driver:    env.DBDriver,
		Cache:     env.DBCache,
		Rds:       rds,
		CacheTime: env.DBCacheTTL,
	})
}

func setupS3(ctx context.Context, env *config.Config, rds *redis.Client) *s3aws.S3Client {
	if env.AWSBucketName == "" {
		logger.Info.Println("AWS_BUCKET_NAME not set, download links are disabled")
		return nil
	}

	client, err := s3aws.NewS3Client(ctx, s3aws.S3Config{
		AWSRegion:          env.AWSRegion,
		AWSAccessKeyID:     env.AWSAccessKeyID,
		AWSSecretAccessKey: env.AWSSecretAccessKey,
		Endpoint:           env.AWSEndpoint,
		LinkTTL:            env.DownloadLinkTTL,
	}, env.AWSBucketName, rds)
	if err != nil {
		logger.Error.Println("Error setting up S3, download links are disabled", err)
		return nil
	}
	return client
}

func setupMidtrans(env *config.Config) *midtransPkg.MidtransClient {
	if env.MidtransServerKey == "" {
		return nil
	}
	return midtransPkg.Setup(&midtransPkg.Config{
		ServerKey:   env.MidtransServerKey,
		ClientKey:   env.MidtransClientKey,
		Environment: env.MidtransEnvironment,
	})
}

func setupServer(payload *config.SetupServerDto) {
	rds := payload.Rds
	env := payload.Env
	ctx := payload.Ctx
	cancel := payload.Cancel
	wg := payload.Wg
	rb := payload.Rb

	err := validation.Setup()
	if err != nil {
		logger.Error.Println("Failed to setup validation")
		panic(err)
	}

	if env.AppEnv == enum.PRODUCTION {
		gin.SetMode(gin.ReleaseMode)
	}
	e := gin.Default()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", env.AppPort),
		Handler: e,
	}

	publisher := rabbitmq.NewPublisher(*ctx, rb)

	deps := &serverApp.Dependencies{
		Env:       env,
		Db:        payload.Db,
		Rds:       rds,
		Rb:        rb,
		Publisher: publisher,
		S3:        payload.S3,
		Mt:        payload.Mt,
	}

	app, err := serverApp.Setup(e, *ctx, deps)
	if err != nil {
		logger.Error.Println("Failed to setup server", err)
		cancel()
		return
	}
	if env.WorkerEnabled {
		serverApp.InitWorker(*ctx, wg, deps, app)
	}

	defer func() {
		app.Shutdown()
		cancel()
		wg.Wait()
		_ = publisher.Close()
		_ = rb.Close()
		if payload.Db != nil {
			_ = payload.Db.Close()
		}
		if rds != nil {
			_ = rds.Close()
		}
	}()

	go func() {
		logger.HTTP.Println("========= Server Started =========")
		logger.HTTP.Println("=========", env.AppPort, "=========")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error.Println("Server error:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.HTTP.Println("========= Server Shutting Down =========")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = server.Shutdown(shutdownCtx)
}
