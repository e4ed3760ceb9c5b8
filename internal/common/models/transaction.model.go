package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONB is a custom type for GORM to handle JSONB columns
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB("null")
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
	case string:
		*j = JSONB(v)
	default:
		return errors.New("unsupported type for JSONB")
	}
	return nil
}

// GormDBDataType picks the JSON column type of the connected dialect.
func (JSONB) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "mysql" {
		return "JSON"
	}
	return "JSONB"
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	if j == nil {
		return errors.New("JSONB: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// Transaction is the ledger row for one checkout attempt. Status only moves
// out of PENDING once, mirroring the payment state machine.
type Transaction struct {
	ID                     string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	OrderID                string     `json:"order_id" gorm:"type:varchar(100);uniqueIndex;not null"`
	SessionID              string     `json:"session_id" gorm:"type:varchar(64);index"`
	CustomerName           string     `json:"customer_name" gorm:"type:varchar(255)"`
	CustomerPhone          string     `json:"customer_phone" gorm:"type:varchar(50)"`
	CustomerEmail          string     `json:"customer_email" gorm:"type:varchar(255)"`
	ProductID              string     `json:"product_id" gorm:"type:varchar(100)"`
	ProductLink            string     `json:"product_link" gorm:"type:text"`
	Amount                 int64      `json:"amount" gorm:"not null"`
	PaymentType            string     `json:"payment_type" gorm:"type:varchar(50)"`
	ReferenceNo            string     `json:"reference_no" gorm:"type:varchar(100)"`
	ProviderPayload        JSONB      `json:"provider_payload"`
	CartSnapshot           JSONB      `json:"cart_snapshot" gorm:"not null"`
	ExpiresAt              time.Time  `json:"expires_at"`
	Status                 string     `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Reason                 string     `json:"reason" gorm:"type:text"`
	ServerStatus           string     `json:"server_status" gorm:"type:varchar(50)"`
	ReconciliationRequired bool       `json:"reconciliation_required" gorm:"not null;default:false"`
	CreatedAt              time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt              time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	PaidAt                 *time.Time `json:"paid_at"`
	ClosedAt               *time.Time `json:"closed_at"`
}

func (Transaction) TableName() string {
	return "checkout_transactions"
}

func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
