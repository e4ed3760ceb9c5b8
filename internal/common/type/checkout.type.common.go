package types

import "storefront-checkout/internal/common/enum"

type CartItem struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Category  string `json:"category"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
	Image     string `json:"image"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

type AddOn struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name"`
	Price int64  `json:"price" validate:"gte=0"`
}

type Buyer struct {
	Email       string `json:"email" validate:"required,email"`
	FullName    string `json:"full_name" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

// CheckoutSession is the durable record of one buyer's journey through
// checkout. It is stored as a single JSON document.
type CheckoutSession struct {
	SessionID     string               `json:"session_id"`
	CartItems     []CartItem           `json:"cart_items"`
	AddOns        []AddOn              `json:"add_ons"`
	Buyer         Buyer                `json:"buyer"`
	ProductID     string               `json:"product_id"`
	ProductLink   string               `json:"product_link"`
	PaymentType   enum.PaymentTypeEnum `json:"payment_type"`
	ActiveOrderID string               `json:"active_order_id"`
}

// SessionPatch carries a partial update. A nil field means "not present";
// present fields replace the stored value wholesale (shallow merge).
type SessionPatch struct {
	CartItems     *[]CartItem           `json:"cart_items,omitempty"`
	AddOns        *[]AddOn              `json:"add_ons,omitempty"`
	Buyer         *Buyer                `json:"buyer,omitempty"`
	ProductID     *string               `json:"product_id,omitempty"`
	ProductLink   *string               `json:"product_link,omitempty"`
	PaymentType   *enum.PaymentTypeEnum `json:"payment_type,omitempty" validate:"omitempty,enum"`
	// ActiveOrderID is only set by the payment service; clients cannot bind it.
	ActiveOrderID *string `json:"-"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p *SessionPatch) IsEmpty() bool {
	return p == nil || (p.CartItems == nil && p.AddOns == nil && p.Buyer == nil &&
		p.ProductID == nil && p.ProductLink == nil && p.PaymentType == nil && p.ActiveOrderID == nil)
}

// Apply merges p into s field by field.
func (s *CheckoutSession) Apply(p *SessionPatch) {
	if p == nil {
		return
	}
	if p.CartItems != nil {
		s.CartItems = append([]CartItem(nil), (*p.CartItems)...)
	}
	if p.AddOns != nil {
		s.AddOns = append([]AddOn(nil), (*p.AddOns)...)
	}
	if p.Buyer != nil {
		s.Buyer = *p.Buyer
	}
	if p.ProductID != nil {
		s.ProductID = *p.ProductID
	}
	if p.ProductLink != nil {
		s.ProductLink = *p.ProductLink
	}
	if p.PaymentType != nil {
		s.PaymentType = *p.PaymentType
	}
	if p.ActiveOrderID != nil {
		s.ActiveOrderID = *p.ActiveOrderID
	}
}

// Total is the cart value plus add-ons in IDR.
func (s *CheckoutSession) Total() int64 {
	var total int64
	for _, item := range s.CartItems {
		total += item.UnitPrice * int64(item.Quantity)
	}
	for _, addOn := range s.AddOns {
		total += addOn.Price
	}
	return total
}
