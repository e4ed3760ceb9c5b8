package serverApp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront-checkout/internal/pkg/logger"
	reconcileService "storefront-checkout/internal/service/reconcile"

	"github.com/panjf2000/ants"
)

// InitWorker starts the background consumers on their own pool. They stop
// when ctx is cancelled; wg tracks them for a graceful shutdown.
func InitWorker(ctx context.Context, wg *sync.WaitGroup, deps *Dependencies, app *App) {
	poolOpts := ants.Options{
		ExpiryDuration: time.Hour,
		PreAlloc:       true,
		Nonblocking:    true,
		PanicHandler: func(i interface{}) {
			logger.Error.Printf("Worker panic: %v\n", i)
		},
	}

	pool, err := ants.NewPool(10, ants.WithOptions(poolOpts))
	if err != nil {
		panic(fmt.Errorf("failed to create worker pool: %w", err))
	}

	cfg := reconcileService.DefaultConfig()
	if deps.Env.ReconcileWorkers > 0 {
		cfg.Workers = deps.Env.ReconcileWorkers
	}
	reconciler := reconcileService.NewService(ctx, deps.Rb, app.Gateway, app.Payments, cfg)

	wg.Add(1)
	err = pool.Submit(func() {
		defer wg.Done()
		if err := reconciler.Subscribe(); err != nil {
			logger.Error.Printf("Failed to run reconcile worker: %v\n", err)
		}
	})
	if err != nil {
		wg.Done()
		panic(fmt.Errorf("failed to submit task to pool: %w", err))
	}

	go func() {
		<-ctx.Done()
		pool.Release()
	}()
}
