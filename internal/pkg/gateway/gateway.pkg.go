package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"storefront-checkout/internal/common/enum"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/validation"

	"github.com/samber/lo"
)

// Outcome is the gateway's answer to "has the buyer paid?".
type Outcome string

const (
	OutcomePaid    Outcome = "PAID"
	OutcomePending Outcome = "PENDING"
	OutcomeFailed  Outcome = "FAILED"
)

// CreateRequest is the snapshot of a checkout session submitted for a new
// transaction.
type CreateRequest struct {
	Name        string               `json:"name" validate:"required"`
	Email       string               `json:"email" validate:"required,email"`
	PhoneNumber string               `json:"phone_number" validate:"required,phone"`
	PaymentType enum.PaymentTypeEnum `json:"payment_type" validate:"required,enum"`
	ProductID   string               `json:"product_id" validate:"required"`
	AddOnsIDs   []string             `json:"add_ons_ids"`

	// Not sent to the REST backend; used by drivers that price the order
	// themselves.
	OrderID string           `json:"-"`
	Items   []types.CartItem `json:"-"`
	AddOns  []types.AddOn    `json:"-"`
}

// NewCreateRequest snapshots session for transaction creation. Add-ons are
// referenced by id only; duplicates are dropped.
func NewCreateRequest(session *types.CheckoutSession) CreateRequest {
	return CreateRequest{
		Name:        strings.TrimSpace(session.Buyer.FullName),
		Email:       strings.TrimSpace(session.Buyer.Email),
		PhoneNumber: strings.TrimSpace(session.Buyer.PhoneNumber),
		PaymentType: session.PaymentType,
		ProductID:   session.ProductID,
		AddOnsIDs: lo.Uniq(lo.Map(session.AddOns, func(a types.AddOn, _ int) string {
			return a.ID
		})),
		Items:  session.CartItems,
		AddOns: session.AddOns,
	}
}

// Amount is the order total as priced from the session snapshot.
func (r CreateRequest) Amount() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	for _, addOn := range r.AddOns {
		total += addOn.Price
	}
	return total
}

// Validate runs the client-side checks that must pass before any network call.
func (r CreateRequest) Validate() error {
	if err := validation.Struct(r); err != nil {
		return newValidationError(err)
	}
	return nil
}

// Transaction is what the backend returns for a created checkout attempt.
type Transaction struct {
	OrderID     string               `json:"order_id"`
	PaymentType enum.PaymentTypeEnum `json:"payment_type"`
	Amount      int64                `json:"amount"`
	ReferenceNo string               `json:"reference_no"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	// ProviderPayload is method specific: qr_string / qr_url for QRIS,
	// va_number for virtual accounts, payment_code for minimarkets.
	ProviderPayload map[string]any `json:"provider_payload"`
	Status          string         `json:"status"`
}

func (t *Transaction) PayloadJSON() json.RawMessage {
	b, err := json.Marshal(t.ProviderPayload)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

type StatusResult struct {
	OrderID   string  `json:"order_id"`
	Outcome   Outcome `json:"outcome"`
	RawStatus string  `json:"raw_status"`
}

// IGateway is the only path to the transaction backend.
type IGateway interface {
	Create(ctx context.Context, req CreateRequest) (*Transaction, error)
	Confirm(ctx context.Context, orderID, referenceNo string) (*StatusResult, error)
	FetchStatus(ctx context.Context, orderID string) (*StatusResult, error)
}

// MapStatus folds the status vocabularies of the backend and Midtrans into
// the three outcomes the confirmation strategies understand.
func MapStatus(raw string) Outcome {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "settlement", "settled", "capture", "success", "succeeded", "completed":
		return OutcomePaid
	case "failed", "failure", "deny", "denied", "cancel", "cancelled", "canceled", "expire", "expired":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
