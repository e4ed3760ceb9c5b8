package payment

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/common/models"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/countdown"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/repository"
	checkoutService "storefront-checkout/internal/service/checkout"

	"github.com/panjf2000/ants/v2"
)

// ISignatureVerifier checks the signature_key of a Midtrans notification.
type ISignatureVerifier interface {
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

type Config struct {
	Windows      countdown.Windows
	Strategy     StrategyConfig
	Tick         time.Duration
	CheckTimeout time.Duration
}

type Service struct {
	ctx      context.Context
	rp       repository.IRepository
	checkout checkoutService.IService
	gw       gateway.IGateway
	router   IRouter
	pool     *ants.Pool
	verifier ISignatureVerifier
	notifier INotifier
	cfg      Config

	machines *registry
	sessions sync.Map // session id -> *sync.Mutex
}

type IService interface {
	Pay(req *PayRequest) *types.Response
	Resume(orderID string) *types.Response
	Status(orderID string) *types.Response
	Check(ctx context.Context, orderID string) *types.Response
	RequestCancel(orderID string) *types.Response
	ConfirmCancel(orderID string) *types.Response
	DismissCancel(orderID string) *types.Response
	Leave(orderID string) *types.Response
	Outcome(orderID string) *types.Response
	// Watch streams snapshots of a running machine. It returns ErrTerminal
	// or ErrHandedOff when there is nothing left to watch.
	Watch(ctx context.Context, orderID string) (<-chan Snapshot, func(), error)
	Notify(req *NotifyRequest) *types.Response
	MidtransCallback(payload map[string]any) *types.Response
	// ApplyServerStatus feeds an authoritative backend status into the order,
	// whether or not a machine is running for it.
	ApplyServerStatus(ctx context.Context, orderID, rawStatus string) error
	Shutdown()
}

// NewService wires the payment flow. pool runs confirmation checks; a nil
// pool falls back to plain goroutines. verifier may be nil when the Midtrans
// driver is not configured.
func NewService(ctx context.Context, rp repository.IRepository, checkout checkoutService.IService, gw gateway.IGateway, router IRouter, pool *ants.Pool, verifier ISignatureVerifier, cfg Config) IService {
	return &Service{
		ctx:      ctx,
		rp:       rp,
		checkout: checkout,
		gw:       gw,
		router:   router,
		pool:     pool,
		verifier: verifier,
		notifier: logNotifier{},
		cfg:      cfg,
		machines: newRegistry(),
	}
}

// Request/Response DTOs

type PayRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	// Supersede cancels a pending payment of another method first.
	Supersede bool `json:"supersede"`
}

type NotifyRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

// PaymentView is what the payment page renders. Redirect is set once the
// buyer must leave for the outcome page.
type PaymentView struct {
	Payment  *Snapshot `json:"payment,omitempty"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
	Redirect string    `json:"redirect,omitempty"`
}

type cartSnapshot struct {
	CartItems []types.CartItem `json:"cart_items"`
	AddOns    []types.AddOn    `json:"add_ons"`
}

func cartToJSON(items []types.CartItem, addOns []types.AddOn) json.RawMessage {
	b, _ := json.Marshal(cartSnapshot{CartItems: items, AddOns: addOns})
	return b
}

func payloadToJSON(payload map[string]any) json.RawMessage {
	if payload == nil {
		return json.RawMessage("{}")
	}
	b, _ := json.Marshal(payload)
	return b
}

// orderFromLedger rebuilds the order context of a persisted transaction.
func orderFromLedger(trx *models.Transaction) Order {
	var cart cartSnapshot
	if len(trx.CartSnapshot) > 0 {
		if err := json.Unmarshal(trx.CartSnapshot, &cart); err != nil {
			logger.Warning.Printf("Order %s has an unreadable cart snapshot: %v", trx.OrderID, err)
		}
	}

	payload := map[string]any{}
	if len(trx.ProviderPayload) > 0 {
		if err := json.Unmarshal(trx.ProviderPayload, &payload); err != nil {
			logger.Warning.Printf("Order %s has an unreadable provider payload: %v", trx.OrderID, err)
		}
	}

	return Order{
		OrderID:         trx.OrderID,
		SessionID:       trx.SessionID,
		PaymentType:     enum.PaymentTypeEnum(trx.PaymentType),
		Amount:          trx.Amount,
		ReferenceNo:     trx.ReferenceNo,
		ProviderPayload: payload,
		Buyer: types.Buyer{
			Email:       trx.CustomerEmail,
			FullName:    trx.CustomerName,
			PhoneNumber: trx.CustomerPhone,
		},
		CartItems:   cart.CartItems,
		AddOns:      cart.AddOns,
		ProductID:   trx.ProductID,
		ProductLink: trx.ProductLink,
		Deadline:    trx.ExpiresAt,
	}
}
