package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"storefront-checkout/internal/common/enum"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/pkg/validation"
	paymentRepo "storefront-checkout/internal/repository/payment"

	"github.com/google/uuid"
)

func (s *Service) Load(ctx context.Context, sessionID string, transient *types.SessionPatch) (*types.CheckoutSession, error) {
	session, err := s.rp.Session.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = &types.CheckoutSession{
			SessionID: sessionID,
			CartItems: []types.CartItem{},
			AddOns:    []types.AddOn{},
		}
	}
	session.Apply(transient)
	return session, nil
}

func (s *Service) Save(ctx context.Context, sessionID string, patch *types.SessionPatch) (*types.CheckoutSession, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	session, err := s.Load(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}

	if patch != nil && patch.Buyer != nil && *patch.Buyer != session.Buyer {
		locked, err := s.buyerLocked(ctx, session)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, ErrBuyerLocked
		}
	}

	session.Apply(patch)
	if err := s.rp.Session.Put(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// buyerLocked reports whether the session owns a pending order. The active
// order id only counts when the ledger row belongs to this session.
func (s *Service) buyerLocked(ctx context.Context, session *types.CheckoutSession) (bool, error) {
	if session.ActiveOrderID != "" {
		trx, err := s.rp.Payment.FindByOrderID(ctx, session.ActiveOrderID)
		switch {
		case err == nil && trx.SessionID == session.SessionID && trx.Status == enum.PENDING.ToString():
			return true, nil
		case err != nil && !errors.Is(err, paymentRepo.ErrNotFound):
			return false, fmt.Errorf("failed to look up active order: %w", err)
		}
	}

	_, err := s.rp.Payment.FindPendingBySession(ctx, session.SessionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, paymentRepo.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("failed to look up pending orders: %w", err)
}

func validatePatch(patch *types.SessionPatch) error {
	if patch == nil {
		return nil
	}
	if patch.PaymentType != nil && *patch.PaymentType != "" && !patch.PaymentType.IsValid() {
		return fmt.Errorf("%w: payment_type %q is not supported", ErrInvalidPatch, *patch.PaymentType)
	}
	if patch.CartItems != nil {
		for _, item := range *patch.CartItems {
			if err := validation.Validate(item); err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidPatch, err.Error())
			}
		}
	}
	if patch.AddOns != nil {
		for _, addOn := range *patch.AddOns {
			if err := validation.Validate(addOn); err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidPatch, err.Error())
			}
		}
	}
	return nil
}

func (s *Service) CreateSession(patch *types.SessionPatch) *types.Response {
	sessionID := uuid.NewString()
	session, err := s.Save(s.ctx, sessionID, patch)
	if err != nil {
		return s.errorResponse(err)
	}

	return helper.ParseResponse(&types.Response{
		Code:    http.StatusCreated,
		Message: "Checkout session created",
		Data:    toSessionResponse(session),
	})
}

func (s *Service) GetSession(sessionID string, transient *types.SessionPatch) *types.Response {
	session, err := s.Load(s.ctx, sessionID, transient)
	if err != nil {
		return s.errorResponse(err)
	}

	return helper.ParseResponse(&types.Response{
		Code: http.StatusOK,
		Data: toSessionResponse(session),
	})
}

func (s *Service) PatchSession(sessionID string, patch *types.SessionPatch) *types.Response {
	session, err := s.Save(s.ctx, sessionID, patch)
	if err != nil {
		return s.errorResponse(err)
	}

	return helper.ParseResponse(&types.Response{
		Code:    http.StatusOK,
		Message: "Checkout session saved",
		Data:    toSessionResponse(session),
	})
}

func (s *Service) errorResponse(err error) *types.Response {
	switch {
	case errors.Is(err, ErrBuyerLocked):
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusConflict,
			Message: err.Error(),
			Error:   err,
		})
	case errors.Is(err, ErrInvalidPatch):
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusBadRequest,
			Message: err.Error(),
			Error:   err,
		})
	}

	logger.Error.Printf("Checkout session error: %v", err)
	return helper.ParseResponse(&types.Response{
		Code:    http.StatusInternalServerError,
		Message: "Failed to access checkout session",
		Error:   err,
	})
}

func toSessionResponse(session *types.CheckoutSession) SessionResponse {
	total := session.Total()
	return SessionResponse{
		CheckoutSession: session,
		Total:           total,
		TotalLabel:      helper.FormatIDR(total),
	}
}
