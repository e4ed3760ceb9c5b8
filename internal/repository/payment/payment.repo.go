package payment

import (
	"context"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/common/models"
	database "storefront-checkout/internal/pkg/db"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no ledger row matches.
var ErrNotFound = gorm.ErrRecordNotFound

type IRepository interface {
	Create(ctx context.Context, trx *models.Transaction) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
	FindPendingBySession(ctx context.Context, sessionID string) (*models.Transaction, error)
	// Close moves a PENDING row to a terminal status. It reports false when
	// the row was already closed.
	Close(ctx context.Context, orderID string, status enum.TransactionStatusEnum, reason string) (bool, error)
	UpdateStatus(ctx context.Context, orderID string, updates map[string]any) error
	FlagReconciliation(ctx context.Context, orderID, serverStatus string) error
}

type Repository struct {
	db *database.Database
}

func NewRepo(db *database.Database) IRepository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, trx *models.Transaction) error {
	return r.db.WithContext(ctx).Create(trx).Error
}

func (r *Repository) FindByOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	var trx models.Transaction
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&trx).Error
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (r *Repository) FindPendingBySession(ctx context.Context, sessionID string) (*models.Transaction, error) {
	var trx models.Transaction
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, enum.PENDING.ToString()).
		Order("created_at DESC").
		First(&trx).Error
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (r *Repository) Close(ctx context.Context, orderID string, status enum.TransactionStatusEnum, reason string) (bool, error) {
	now := time.Now()
	updates := map[string]any{
		"status":    status.ToString(),
		"reason":    reason,
		"closed_at": &now,
	}
	if status == enum.PAID {
		updates["paid_at"] = &now
	}

	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("order_id = ? AND status = ?", orderID, enum.PENDING.ToString()).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, orderID string, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Transaction{}).Where("order_id = ?", orderID).Updates(updates).Error
}

func (r *Repository) FlagReconciliation(ctx context.Context, orderID, serverStatus string) error {
	return r.UpdateStatus(ctx, orderID, map[string]any{
		"reconciliation_required": true,
		"server_status":           serverStatus,
	})
}
