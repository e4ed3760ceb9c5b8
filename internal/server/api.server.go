package serverApp

import (
	"context"
	"fmt"
	"time"

	config "storefront-checkout/configs"
	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/pkg/countdown"
	database "storefront-checkout/internal/pkg/db"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/jwt"
	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/pkg/middleware"
	midtransPkg "storefront-checkout/internal/pkg/midtrans"
	"storefront-checkout/internal/pkg/rabbitmq"
	"storefront-checkout/internal/pkg/redis"
	s3aws "storefront-checkout/internal/pkg/storage/s3"
	"storefront-checkout/internal/repository"
	paymentRepo "storefront-checkout/internal/repository/payment"
	sessionRepo "storefront-checkout/internal/repository/session"

	checkoutHandler "storefront-checkout/internal/handler/checkout"
	paymentHandler "storefront-checkout/internal/handler/payment"
	checkoutService "storefront-checkout/internal/service/checkout"
	paymentService "storefront-checkout/internal/service/payment"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
)

// Dependencies are the connections shared by the API and the workers.
type Dependencies struct {
	Env       *config.Config
	Db        *database.Database
	Rds       redis.IRedis
	Rb        *rabbitmq.ConnectionManager
	Publisher *rabbitmq.Publisher
	S3        *s3aws.S3Client
	Mt        *midtransPkg.MidtransClient
}

// App is what Setup wires; Shutdown stops every running payment.
type App struct {
	Gateway  gateway.IGateway
	Payments paymentService.IService
	pool     *ants.Pool
}

func (a *App) Shutdown() {
	a.Payments.Shutdown()
	a.pool.Release()
}

// Setup initializes the HTTP server with middleware and routes
func Setup(engine *gin.Engine, ctx context.Context, deps *Dependencies) (*App, error) {
	InitMiddleware(engine, deps.Env)

	engine.SetHTMLTemplate(paymentHandler.Templates())

	// Health check endpoint
	engine.GET("/health", func(c *gin.Context) {
		rabbitmqHealth := "unhealthy"
		redisHealth := "unhealthy"
		databaseHealth := "unhealthy"

		if deps.Db != nil && !deps.Db.IsCloseConnection() {
			databaseHealth = "healthy"
		}
		if deps.Rb != nil && !deps.Rb.IsClosed() {
			rabbitmqHealth = "healthy"
		}
		if deps.Rds != nil && deps.Rds.Ping() == nil {
			redisHealth = "healthy"
		}
		c.JSON(200, gin.H{
			"status": 200,
			"service": gin.H{
				"rabbitmq": gin.H{
					"status": rabbitmqHealth,
				},
				"redis": gin.H{
					"status": redisHealth,
				},
				"database": gin.H{
					"status": databaseHealth,
				},
			},
		})
	})

	e := engine.Group(BasePath())
	return InitRoutes(e, engine, ctx, deps)
}

// BasePath returns the base API path
func BasePath() string {
	return "/api"
}

// InitMiddleware initializes global middleware
func InitMiddleware(e *gin.Engine, env *config.Config) {
	e.Use(middleware.CorsMiddleware(env.CorsOrigins))
	e.Use(middleware.RequestInit())
	e.Use(middleware.ResponseInit())
}

// NewGateway builds the transaction backend client selected by
// GATEWAY_DRIVER.
func NewGateway(env *config.Config, mt *midtransPkg.MidtransClient) (gateway.IGateway, error) {
	switch env.GatewayDriver {
	case enum.MIDTRANS:
		if mt == nil {
			return nil, fmt.Errorf("midtrans gateway selected without a midtrans client")
		}
		return gateway.NewMidtransGateway(mt, gateway.MidtransConfig{
			QRISAcquirer: env.MidtransQRISAcquirer,
			PushExpiry:   env.WindowPush,
			PollExpiry:   env.WindowPoll,
		}), nil
	default:
		tokens := jwt.NewServiceTokenSource(jwt.Config{
			Secret: env.JWTSecret,
			Issuer: env.JWTIssuer,
			TTL:    env.JWTTTL,
		})
		return gateway.NewRESTGateway(&gateway.RESTConfig{
			BaseURL:       env.GatewayBaseURL,
			Timeout:       env.GatewayTimeout,
			ProxyURL:      env.GatewayProxyURL,
			SkipTLSVerify: env.GatewaySkipTLSVerify,
		}, tokens), nil
	}
}

func InitRoutes(
	e *gin.RouterGroup,
	engine *gin.Engine,
	ctx context.Context,
	deps *Dependencies,
) (*App, error) {
	env := deps.Env

	// setup repo
	rp := repository.IRepository{
		Payment: paymentRepo.NewRepo(deps.Db),
		Session: sessionRepo.NewRepo(deps.Rds, env.SessionTTL),
	}

	gw, err := NewGateway(env, deps.Mt)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(env.CheckPoolSize, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Minute,
		Nonblocking:    true,
		PanicHandler: func(i interface{}) {
			logger.Error.Printf("Payment check panic: %v", i)
		},
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create check pool: %w", err)
	}

	var links paymentService.ILinkSigner
	if deps.S3 != nil {
		links = deps.S3
	}
	var publisher rabbitmq.IPublisher
	if deps.Publisher != nil {
		publisher = deps.Publisher
	}
	var verifier paymentService.ISignatureVerifier
	if deps.Mt != nil {
		verifier = deps.Mt
	}

	router := paymentService.NewRouter(deps.Rds, rp.Payment, publisher, links, env.OutcomeTTL)

	// === Checkout ===
	CheckoutService := checkoutService.NewService(ctx, rp)
	CheckoutHandler := checkoutHandler.NewHandler(ctx, CheckoutService)
	CheckoutHandler.NewRoutes(e)

	// === Payment ===
	PaymentService := paymentService.NewService(ctx, rp, CheckoutService, gw, router, pool, verifier, paymentService.Config{
		Windows: countdown.Windows{
			Push:   env.WindowPush,
			Poll:   env.WindowPoll,
			Manual: env.WindowManual,
		},
		Strategy: paymentService.StrategyConfig{
			PollGrace:       env.PollGrace,
			PollInterval:    env.PollInterval,
			SettlementDelay: env.SettlementDelay,
		},
		Tick:         countdown.DefaultTick,
		CheckTimeout: env.CheckTimeout,
	})
	PaymentHandler := paymentHandler.NewHandler(ctx, PaymentService, middleware.AuthMiddleware(env.JWTSecret, env.NotifyScope))
	PaymentHandler.NewRoutes(e)
	PaymentHandler.NewPageRoutes(engine)

	return &App{
		Gateway:  gw,
		Payments: PaymentService,
		pool:     pool,
	}, nil
}
