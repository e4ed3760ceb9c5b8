package checkout

import (
	"context"
	"errors"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/repository"
)

var (
	ErrBuyerLocked  = errors.New("buyer details cannot change while a payment is pending")
	ErrInvalidPatch = errors.New("invalid checkout data")
)

type Service struct {
	ctx context.Context
	rp  repository.IRepository
}

type IService interface {
	// Load merges transient page data over the persisted session, field by
	// field. An unknown session loads as an empty one.
	Load(ctx context.Context, sessionID string, transient *types.SessionPatch) (*types.CheckoutSession, error)
	// Save merges patch into the persisted session before returning.
	Save(ctx context.Context, sessionID string, patch *types.SessionPatch) (*types.CheckoutSession, error)

	CreateSession(patch *types.SessionPatch) *types.Response
	GetSession(sessionID string, transient *types.SessionPatch) *types.Response
	PatchSession(sessionID string, patch *types.SessionPatch) *types.Response
}

func NewService(ctx context.Context, rp repository.IRepository) IService {
	return &Service{
		ctx: ctx,
		rp:  rp,
	}
}

type SessionResponse struct {
	*types.CheckoutSession
	Total      int64  `json:"total"`
	TotalLabel string `json:"total_label"`
}
