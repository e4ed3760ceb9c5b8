package repository

import (
	paymentRepo "storefront-checkout/internal/repository/payment"
	sessionRepo "storefront-checkout/internal/repository/session"
)

// IRepository is a container for all repository interfaces
type IRepository struct {
	Payment paymentRepo.IRepository
	Session sessionRepo.IRepository
}
