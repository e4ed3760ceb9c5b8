package config

import (
	"context"
	"sync"
	"time"

	"storefront-checkout/internal/common/enum"
	database "storefront-checkout/internal/pkg/db"
	midtransPkg "storefront-checkout/internal/pkg/midtrans"
	"storefront-checkout/internal/pkg/rabbitmq"
	"storefront-checkout/internal/pkg/redis"
	s3aws "storefront-checkout/internal/pkg/storage/s3"
)

// Config holds all application configuration loaded from environment variables
type Config struct {
	AppEnv      enum.EnvEnum `env:"APP_ENV" envDefault:"development"`
	AppPort     int          `env:"APP_PORT" envDefault:"8080"`
	AppBaseURL  string       `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	CorsOrigins []string     `env:"CORS_ORIGINS" envDefault:""`

	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisUser     string `env:"REDIS_USER" envDefault:"default"`
	RedisPass     string `env:"REDIS_PASS" envDefault:""`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	RabbitHost  string `env:"RABBIT_HOST" envDefault:"localhost"`
	RabbitPort  int    `env:"RABBIT_PORT" envDefault:"5672"`
	RabbitUser  string `env:"RABBIT_USER" envDefault:"guest"`
	RabbitPass  string `env:"RABBIT_PASS" envDefault:"guest"`
	RabbitVHost string `env:"RABBIT_VHOST" envDefault:""`

	DBDriver   database.DriverEnum `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost     string              `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int                 `env:"DB_PORT" envDefault:"5432"`
	DBUser     string              `env:"DB_USER" envDefault:"postgres"`
	DBPass     string              `env:"DB_PASS" envDefault:""`
	DBName     string              `env:"DB_NAME" envDefault:"postgres"`
	DBSSLMode  string              `env:"DB_SSL_MODE" envDefault:"disable"`
	DBCache    bool                `env:"DB_CACHE" envDefault:"false"`
	DBCacheTTL time.Duration       `env:"DB_CACHE_TTL" envDefault:"30s"`

	GatewayDriver        enum.GatewayDriverEnum `env:"GATEWAY_DRIVER" envDefault:"rest"`
	GatewayBaseURL       string                 `env:"GATEWAY_BASE_URL" envDefault:"http://localhost:3000"`
	GatewayTimeout       time.Duration          `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	GatewayProxyURL      string                 `env:"GATEWAY_PROXY_URL" envDefault:""`
	GatewaySkipTLSVerify bool                   `env:"GATEWAY_SKIP_TLS_VERIFY" envDefault:"false"`

	JWTSecret   string        `env:"JWT_SECRET" envDefault:""`
	JWTIssuer   string        `env:"JWT_ISSUER" envDefault:"storefront-checkout"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"15m"`
	NotifyScope string        `env:"NOTIFY_SCOPE" envDefault:"payments:notify"`

	MidtransServerKey    string `env:"MIDTRANS_SERVER_KEY" envDefault:""`
	MidtransClientKey    string `env:"MIDTRANS_CLIENT_KEY" envDefault:""`
	MidtransEnvironment  string `env:"MIDTRANS_ENVIRONMENT" envDefault:"sandbox"`
	MidtransQRISAcquirer string `env:"MIDTRANS_QRIS_ACQUIRER" envDefault:"gopay"`

	WindowPush      time.Duration `env:"PAYMENT_WINDOW_PUSH" envDefault:"0s"`
	WindowPoll      time.Duration `env:"PAYMENT_WINDOW_POLL" envDefault:"0s"`
	WindowManual    time.Duration `env:"PAYMENT_WINDOW_MANUAL" envDefault:"0s"`
	PollGrace       time.Duration `env:"PAYMENT_POLL_GRACE" envDefault:"10s"`
	PollInterval    time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"5s"`
	SettlementDelay time.Duration `env:"PAYMENT_SETTLEMENT_DELAY" envDefault:"3s"`
	CheckTimeout    time.Duration `env:"PAYMENT_CHECK_TIMEOUT" envDefault:"20s"`
	CheckPoolSize   int           `env:"PAYMENT_CHECK_POOL_SIZE" envDefault:"100"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"0s"`
	OutcomeTTL      time.Duration `env:"OUTCOME_TTL" envDefault:"720h"`

	WorkerEnabled    bool `env:"WORKER_ENABLED" envDefault:"true"`
	ReconcileWorkers int  `env:"RECONCILE_WORKERS" envDefault:"2"`

	AWSAccessKeyID     string        `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	AWSSecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	AWSRegion          string        `env:"AWS_REGION" envDefault:"ap-southeast-1"`
	AWSBucketName      string        `env:"AWS_BUCKET_NAME" envDefault:""`
	AWSEndpoint        string        `env:"AWS_ENDPOINT" envDefault:""`
	DownloadLinkTTL    time.Duration `env:"DOWNLOAD_LINK_TTL" envDefault:"24h"`
}

// SetupServerDto contains dependencies for server setup
type SetupServerDto struct {
	Ctx    *context.Context
	Cancel context.CancelFunc
	Wg     *sync.WaitGroup
	Env    *Config
	Db     *database.Database
	Rds    *redis.Client
	Rb     *rabbitmq.ConnectionManager
	S3     *s3aws.S3Client
	Mt     *midtransPkg.MidtransClient
}
