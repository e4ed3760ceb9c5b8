package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"storefront-checkout/internal/common/enum"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/pkg/rabbitmq"
	"storefront-checkout/internal/pkg/redis"
	paymentRepo "storefront-checkout/internal/repository/payment"
)

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is what the success/failure page renders for one order.
type Outcome struct {
	OrderID                string               `json:"order_id"`
	SessionID              string               `json:"session_id"`
	Kind                   OutcomeKind          `json:"kind"`
	State                  State                `json:"state"`
	Amount                 int64                `json:"amount"`
	AmountLabel            string               `json:"amount_label"`
	Buyer                  types.Buyer          `json:"buyer"`
	CartItems              []types.CartItem     `json:"cart_items"`
	AddOns                 []types.AddOn        `json:"add_ons"`
	PaymentType            enum.PaymentTypeEnum `json:"payment_type"`
	PaymentMethodLabel     string               `json:"payment_method_label"`
	Reason                 string               `json:"reason,omitempty"`
	AwaitingSettlement     bool                 `json:"awaiting_settlement"`
	ReconciliationRequired bool                 `json:"reconciliation_required"`
	ProductLink            string               `json:"product_link,omitempty"`
	DownloadURL            string               `json:"download_url,omitempty"`
	RecordedAt             time.Time            `json:"recorded_at"`
}

// NewOutcome builds the page payload of a terminal or handed-off snapshot.
func NewOutcome(s Snapshot) *Outcome {
	kind := OutcomeFailure
	if s.State == StatePaid || s.HandedOff {
		kind = OutcomeSuccess
	}
	return &Outcome{
		OrderID:                s.OrderID,
		SessionID:              s.SessionID,
		Kind:                   kind,
		State:                  s.State,
		Amount:                 s.Amount,
		AmountLabel:            helper.FormatIDR(s.Amount),
		Buyer:                  s.Buyer,
		CartItems:              s.CartItems,
		AddOns:                 s.AddOns,
		PaymentType:            s.PaymentType,
		PaymentMethodLabel:     s.PaymentType.Label(),
		Reason:                 s.Reason,
		AwaitingSettlement:     s.HandedOff && !s.State.IsTerminal(),
		ReconciliationRequired: s.ReconciliationRequired,
		ProductLink:            s.ProductLink,
	}
}

// Path is the page the buyer is sent to.
func (o *Outcome) Path() string {
	return fmt.Sprintf("/checkout/%s/%s", o.Kind, url.PathEscape(o.OrderID))
}

// sameAs compares the carried payload, ignoring per-navigation fields.
func (o *Outcome) sameAs(other *Outcome) bool {
	a, b := *o, *other
	a.RecordedAt, b.RecordedAt = time.Time{}, time.Time{}
	a.DownloadURL, b.DownloadURL = "", ""
	x, _ := helper.JSONToString(a)
	y, _ := helper.JSONToString(b)
	return x == y
}

func (o *Outcome) event(eventType string) types.OutcomeEvent {
	return types.OutcomeEvent{
		Type:                   eventType,
		OrderID:                o.OrderID,
		SessionID:              o.SessionID,
		State:                  string(o.State),
		Kind:                   string(o.Kind),
		Reason:                 o.Reason,
		Amount:                 o.Amount,
		PaymentType:            o.PaymentType.ToString(),
		AwaitingSettlement:     o.AwaitingSettlement,
		ReconciliationRequired: o.ReconciliationRequired,
		OccurredAt:             time.Now(),
	}
}

// ILinkSigner turns a stored object key into a time-limited download URL.
type ILinkSigner interface {
	GetPresignedURL(key string) (string, error)
}

type IRouter interface {
	Navigate(ctx context.Context, o *Outcome) (bool, error)
	Outcome(ctx context.Context, orderID string) (*Outcome, error)
	FlagReconciliation(ctx context.Context, orderID, serverStatus string) error
}

// Router records outcomes keyed by order id. The first navigation for an
// order wins; replays are no-ops. The only replacement allowed is a settled
// result over an "awaiting settlement" hand-off.
type Router struct {
	rds       redis.IRedis
	ledger    paymentRepo.IRepository
	publisher rabbitmq.IPublisher
	links     ILinkSigner
	ttl       time.Duration
}

func NewRouter(rds redis.IRedis, ledger paymentRepo.IRepository, publisher rabbitmq.IPublisher, links ILinkSigner, ttl time.Duration) *Router {
	return &Router{
		rds:       rds,
		ledger:    ledger,
		publisher: publisher,
		links:     links,
		ttl:       ttl,
	}
}

func outcomeKey(orderID string) string {
	return "checkout:outcome:" + orderID
}

// Navigate records o and reports whether this call was the one that did.
func (r *Router) Navigate(ctx context.Context, o *Outcome) (bool, error) {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}
	if o.Kind == OutcomeSuccess && !o.AwaitingSettlement && o.DownloadURL == "" {
		o.DownloadURL = r.downloadURL(o.ProductLink)
	}

	key := outcomeKey(o.OrderID)
	stored, err := r.rds.SetNX(key, o, r.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}

	if !stored {
		prev, err := r.Outcome(ctx, o.OrderID)
		if err != nil {
			return false, err
		}
		if prev != nil && !(prev.AwaitingSettlement && !o.AwaitingSettlement) {
			if !prev.sameAs(o) {
				logger.Warning.Printf("order %s already routed to %s (%s), ignoring %s", o.OrderID, prev.Kind, prev.State, o.State)
			}
			return false, nil
		}
		if err := r.rds.Set(key, o, r.ttl); err != nil {
			return false, fmt.Errorf("failed to record outcome: %w", err)
		}
	}

	r.record(ctx, o)
	r.publish(ctx, o.event(types.EventOutcome))
	logger.Info.Printf("order %s routed to %s", o.OrderID, o.Path())
	return true, nil
}

// Outcome returns the stored outcome, or nil when the order was never routed.
func (r *Router) Outcome(ctx context.Context, orderID string) (*Outcome, error) {
	raw, err := r.rds.Get(outcomeKey(orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	o, err := helper.StringToStruct[Outcome](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return o, nil
}

// FlagReconciliation marks an order whose server status contradicts the
// local terminal state.
func (r *Router) FlagReconciliation(ctx context.Context, orderID, serverStatus string) error {
	if err := r.ledger.FlagReconciliation(ctx, orderID, serverStatus); err != nil {
		return fmt.Errorf("failed to flag reconciliation: %w", err)
	}

	o, err := r.Outcome(ctx, orderID)
	if err != nil || o == nil {
		return err
	}
	o.ReconciliationRequired = true
	if err := r.rds.Set(outcomeKey(orderID), o, r.ttl); err != nil {
		return fmt.Errorf("failed to update outcome: %w", err)
	}

	ev := o.event(types.EventReconciliation)
	ev.ServerStatus = serverStatus
	r.publish(ctx, ev)
	return nil
}

func (r *Router) record(ctx context.Context, o *Outcome) {
	if o.AwaitingSettlement {
		if err := r.ledger.UpdateStatus(ctx, o.OrderID, map[string]any{"reason": o.Reason}); err != nil {
			logger.Error.Printf("Failed to update transaction %s: %v", o.OrderID, err)
		}
		return
	}

	closed, err := r.ledger.Close(ctx, o.OrderID, o.State.Status(), o.Reason)
	if err != nil {
		logger.Error.Printf("Failed to close transaction %s: %v", o.OrderID, err)
		return
	}
	if !closed {
		logger.Warning.Printf("Transaction %s was already closed, ledger left unchanged", o.OrderID)
	}
}

func (r *Router) publish(ctx context.Context, ev types.OutcomeEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, types.QueueCheckoutOutcome, ev); err != nil {
		logger.Error.Printf("Failed to publish %s for order %s: %v", ev.Type, ev.OrderID, err)
	}
}

// downloadURL presigns object-storage product links. Plain http(s) links are
// returned unchanged.
func (r *Router) downloadURL(link string) string {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if r.links == nil {
		return ""
	}

	key := link
	if strings.HasPrefix(key, "s3://") {
		// s3://bucket/key
		parts := strings.SplitN(strings.TrimPrefix(key, "s3://"), "/", 2)
		if len(parts) != 2 {
			return ""
		}
		key = parts[1]
	}

	signed, err := r.links.GetPresignedURL(strings.TrimPrefix(key, "/"))
	if err != nil {
		logger.Error.Printf("Failed to presign download link %s: %v", link, err)
		return ""
	}
	return signed
}
