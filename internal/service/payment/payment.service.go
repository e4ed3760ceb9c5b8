package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/common/models"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/countdown"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/logger"
	paymentRepo "storefront-checkout/internal/repository/payment"
)

var ErrActivePayment = errors.New("another payment is in progress for this checkout")

func (s *Service) Pay(req *PayRequest) *types.Response {
	unlock := s.lockSession(req.SessionID)
	defer unlock()

	session, err := s.checkout.Load(s.ctx, req.SessionID, nil)
	if err != nil {
		logger.Error.Printf("Failed to load checkout session %s: %v", req.SessionID, err)
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusInternalServerError,
			Message: "Failed to load checkout session",
			Error:   err,
		})
	}

	// at most one active transaction per session
	if resp := s.activePayment(session, req.Supersede); resp != nil {
		return resp
	}

	trx, err := s.gw.Create(s.ctx, gateway.NewCreateRequest(session))
	if err != nil {
		logger.Error.Printf("Failed to create transaction for session %s: %v", session.SessionID, err)
		return s.errorResponse(err, nil)
	}

	now := time.Now()
	order := Order{
		OrderID:         trx.OrderID,
		SessionID:       session.SessionID,
		PaymentType:     trx.PaymentType,
		Amount:          trx.Amount,
		ReferenceNo:     trx.ReferenceNo,
		ProviderPayload: trx.ProviderPayload,
		Buyer:           session.Buyer,
		CartItems:       session.CartItems,
		AddOns:          session.AddOns,
		ProductID:       session.ProductID,
		ProductLink:     session.ProductLink,
		Deadline:        countdown.Deadline(trx.ExpiresAt, trx.PaymentType.Family(), now, s.cfg.Windows),
	}

	row := &models.Transaction{
		OrderID:         order.OrderID,
		SessionID:       order.SessionID,
		CustomerName:    order.Buyer.FullName,
		CustomerPhone:   order.Buyer.PhoneNumber,
		CustomerEmail:   order.Buyer.Email,
		ProductID:       order.ProductID,
		ProductLink:     order.ProductLink,
		Amount:          order.Amount,
		PaymentType:     order.PaymentType.ToString(),
		ReferenceNo:     order.ReferenceNo,
		ProviderPayload: models.JSONB(payloadToJSON(order.ProviderPayload)),
		CartSnapshot:    models.JSONB(cartToJSON(order.CartItems, order.AddOns)),
		ExpiresAt:       order.Deadline,
		Status:          enum.PENDING.ToString(),
		ServerStatus:    trx.Status,
	}
	if err := s.rp.Payment.Create(s.ctx, row); err != nil {
		logger.Error.Printf("Failed to save transaction %s: %v", order.OrderID, err)
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusInternalServerError,
			Message: "Failed to save transaction",
			Error:   err,
		})
	}

	if _, err := s.checkout.Save(s.ctx, session.SessionID, &types.SessionPatch{ActiveOrderID: &order.OrderID}); err != nil {
		// the ledger still links the order to the session
		logger.Warning.Printf("Failed to store active order on session %s: %v", session.SessionID, err)
	}

	m, err := s.startMachine(order)
	if err != nil {
		return s.errorResponse(err, nil)
	}

	return helper.ParseResponse(&types.Response{
		Code:    http.StatusCreated,
		Message: "Payment created successfully",
		Data:    s.view(m, nil),
	})
}

// activePayment returns a response when Pay must not create a new
// transaction: the pending one is reused, or it conflicts with the request.
func (s *Service) activePayment(session *types.CheckoutSession, supersede bool) *types.Response {
	orderID, err := s.sessionOrder(session)
	if err != nil {
		return s.errorResponse(err, nil)
	}
	if orderID == "" {
		return nil
	}

	m, _, err := s.resolve(orderID)
	if err != nil {
		if errors.Is(err, ErrUnknownOrder) {
			return nil
		}
		return s.errorResponse(err, nil)
	}
	if m == nil {
		return nil
	}
	snap := m.Snapshot()
	if snap.State.IsTerminal() || snap.HandedOff {
		return nil
	}

	if m.PaymentType() == session.PaymentType {
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusOK,
			Message: "Payment already in progress",
			Data:    s.view(m, nil),
		})
	}
	if !supersede {
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusConflict,
			Message: ErrActivePayment.Error(),
			Data:    s.view(m, nil),
			Error:   ErrActivePayment,
		})
	}

	if err := m.Cancel(s.ctx, ReasonSuperseded); err != nil {
		return s.errorResponse(err, s.view(m, nil))
	}
	logger.Info.Printf("Order %s superseded by a %s payment", orderID, session.PaymentType)
	return nil
}

// sessionOrder returns the order Pay has to account for: the session's
// active order, or its newest pending one. Orders owned by another session
// are never returned.
func (s *Service) sessionOrder(session *types.CheckoutSession) (string, error) {
	if orderID := session.ActiveOrderID; orderID != "" {
		trx, err := s.rp.Payment.FindByOrderID(s.ctx, orderID)
		switch {
		case err == nil && trx.SessionID == session.SessionID:
			return orderID, nil
		case err == nil:
			logger.Warning.Printf("Session %s references order %s of session %s, ignoring it", session.SessionID, orderID, trx.SessionID)
		case !errors.Is(err, paymentRepo.ErrNotFound):
			return "", err
		}
	}

	trx, err := s.rp.Payment.FindPendingBySession(s.ctx, session.SessionID)
	switch {
	case err == nil:
		return trx.OrderID, nil
	case errors.Is(err, paymentRepo.ErrNotFound):
		return "", nil
	}
	return "", err
}

func (s *Service) Resume(orderID string) *types.Response {
	m, o, err := s.resolve(orderID)
	if err != nil {
		return s.errorResponse(err, nil)
	}

	return helper.ParseResponse(&types.Response{
		Code: http.StatusOK,
		Data: s.view(m, o),
	})
}

// Status reports the order without restarting anything.
func (s *Service) Status(orderID string) *types.Response {
	if m := s.machines.get(orderID); m != nil {
		return helper.ParseResponse(&types.Response{
			Code: http.StatusOK,
			Data: s.view(m, nil),
		})
	}

	trx, err := s.rp.Payment.FindByOrderID(s.ctx, orderID)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			err = ErrUnknownOrder
		}
		return s.errorResponse(err, nil)
	}

	snap := ledgerSnapshot(trx)
	view := PaymentView{Payment: &snap}
	if o, err := s.router.Outcome(s.ctx, orderID); err == nil && o != nil {
		view.Outcome = o
		view.Redirect = o.Path()
	}
	return helper.ParseResponse(&types.Response{
		Code: http.StatusOK,
		Data: view,
	})
}

func (s *Service) Check(ctx context.Context, orderID string) *types.Response {
	m, o, err := s.resolve(orderID)
	if err != nil {
		return s.errorResponse(err, nil)
	}
	if m == nil {
		return s.errorResponse(ErrTerminal, s.view(nil, o))
	}

	if _, err := m.Check(ctx); err != nil {
		return s.errorResponse(err, s.view(m, nil))
	}

	return helper.ParseResponse(&types.Response{
		Code: http.StatusOK,
		Data: s.view(m, nil),
	})
}

func (s *Service) RequestCancel(orderID string) *types.Response {
	return s.command(orderID, "Cancellation requested", (*Machine).RequestCancel)
}

func (s *Service) ConfirmCancel(orderID string) *types.Response {
	return s.command(orderID, "Payment cancelled", (*Machine).ConfirmCancel)
}

func (s *Service) DismissCancel(orderID string) *types.Response {
	return s.command(orderID, "Cancellation dismissed", (*Machine).DismissCancel)
}

func (s *Service) command(orderID, message string, fn func(*Machine, context.Context) error) *types.Response {
	m, o, err := s.resolve(orderID)
	if err != nil {
		return s.errorResponse(err, nil)
	}
	if m == nil {
		return s.errorResponse(ErrTerminal, s.view(nil, o))
	}

	if err := fn(m, s.ctx); err != nil {
		return s.errorResponse(err, s.view(m, nil))
	}

	return helper.ParseResponse(&types.Response{
		Code:    http.StatusOK,
		Message: message,
		Data:    s.view(m, nil),
	})
}

// Leave stops the machine of a buyer navigating away. The transaction stays
// pending and is picked up again by Resume.
func (s *Service) Leave(orderID string) *types.Response {
	m := s.machines.get(orderID)
	if m == nil {
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusOK,
			Message: "No running payment for this order",
		})
	}

	m.Dispose()
	s.machines.remove(m)

	return helper.ParseResponse(&types.Response{
		Code:    http.StatusOK,
		Message: "Payment page closed",
		Data:    m.Snapshot(),
	})
}

func (s *Service) Outcome(orderID string) *types.Response {
	o, err := s.router.Outcome(s.ctx, orderID)
	if err != nil {
		return s.errorResponse(err, nil)
	}
	if o == nil {
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusNotFound,
			Message: "No outcome recorded for this order",
		})
	}

	return helper.ParseResponse(&types.Response{
		Code: http.StatusOK,
		Data: o,
	})
}

func (s *Service) Watch(ctx context.Context, orderID string) (<-chan Snapshot, func(), error) {
	m, o, err := s.resolve(orderID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		if o != nil && o.AwaitingSettlement {
			return nil, nil, ErrHandedOff
		}
		return nil, nil, ErrTerminal
	}

	ch, stop := m.Subscribe(ctx)
	return ch, stop, nil
}

func (s *Service) Notify(req *NotifyRequest) *types.Response {
	if err := s.ApplyServerStatus(s.ctx, req.OrderID, req.Status); err != nil {
		return s.errorResponse(err, nil)
	}

	return helper.ParseResponse(&types.Response{
		Code:    http.StatusOK,
		Message: "Notification processed",
	})
}

func (s *Service) MidtransCallback(payload map[string]any) *types.Response {
	if s.verifier == nil {
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusNotFound,
			Message: "Midtrans notifications are not enabled",
		})
	}

	orderID := helper.GetMapStringValue(payload, "order_id")
	if orderID == "" {
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid notification payload: missing order_id",
		})
	}

	signatureKey := helper.GetMapStringValue(payload, "signature_key")
	statusCode := helper.GetMapStringValue(payload, "status_code")
	grossAmount := helper.GetMapStringValue(payload, "gross_amount")
	if !s.verifier.VerifySignature(orderID, statusCode, grossAmount, signatureKey) {
		logger.Error.Printf("Invalid signature key for order %s", orderID)
		return helper.ParseResponse(&types.Response{
			Code:    http.StatusForbidden,
			Message: "Invalid signature key",
		})
	}

	status := helper.GetMapStringValue(payload, "transaction_status")
	if strings.EqualFold(helper.GetMapStringValue(payload, "fraud_status"), "deny") {
		status = "deny"
	}

	if err := s.ApplyServerStatus(s.ctx, orderID, status); err != nil {
		return s.errorResponse(err, nil)
	}

	logger.Info.Printf("Callback processed for order %s: status=%s", orderID, status)
	return helper.ParseResponse(&types.Response{
		Code:    http.StatusOK,
		Message: "ok",
	})
}

func (s *Service) ApplyServerStatus(ctx context.Context, orderID, rawStatus string) error {
	outcome := gateway.MapStatus(rawStatus)

	if m := s.machines.get(orderID); m != nil {
		if outcome == gateway.OutcomePending {
			return nil
		}
		err := m.Report(ctx, outcome)
		if err == nil {
			return nil
		}
		// the machine stopped meanwhile; fall through to the ledger
		if !errors.Is(err, ErrTerminal) && !errors.Is(err, ErrDisposed) && !errors.Is(err, ErrHandedOff) {
			return err
		}
	}

	trx, err := s.rp.Payment.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			return ErrUnknownOrder
		}
		return err
	}

	status := enum.TransactionStatusEnum(trx.Status)
	switch {
	case status == enum.PENDING && outcome != gateway.OutcomePending:
		snap := ledgerSnapshot(trx)
		snap.HandedOff = false
		snap.RemainingSeconds = 0
		if outcome == gateway.OutcomePaid {
			snap.State, snap.Reason = StatePaid, ""
		} else {
			snap.State, snap.Reason = StateFailed, ReasonPaymentFailed
		}
		_, err := s.router.Navigate(ctx, NewOutcome(snap))
		return err

	case outcome == gateway.OutcomePaid && (status == enum.EXPIRED || status == enum.CANCELLED):
		if trx.ReconciliationRequired {
			return nil
		}
		logger.Warning.Printf("Order %s reported %s by the server after local %s, reconciliation required", orderID, rawStatus, status)
		return s.router.FlagReconciliation(ctx, orderID, rawStatus)
	}

	logger.Debug.Printf("Order %s: server status %s left %s unchanged", orderID, rawStatus, status)
	return nil
}

func (s *Service) Shutdown() {
	for _, m := range s.machines.drain() {
		m.Dispose()
	}
}

// resolve finds the running machine of an order, restarting it from the
// ledger when the order is still pending. Orders that already left the
// payment page resolve to their outcome instead.
func (s *Service) resolve(orderID string) (*Machine, *Outcome, error) {
	if m := s.machines.get(orderID); m != nil {
		return m, nil, nil
	}

	o, err := s.router.Outcome(s.ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o != nil {
		return nil, o, nil
	}

	trx, err := s.rp.Payment.FindByOrderID(s.ctx, orderID)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrNotFound) {
			return nil, nil, ErrUnknownOrder
		}
		return nil, nil, err
	}

	snap := ledgerSnapshot(trx)
	if snap.State.IsTerminal() || snap.HandedOff {
		return nil, NewOutcome(snap), nil
	}

	m, err := s.startMachine(orderFromLedger(trx))
	if err != nil {
		return nil, nil, err
	}
	return m, nil, nil
}

func (s *Service) startMachine(order Order) (*Machine, error) {
	strategy, err := NewStrategy(order, s.gw, s.cfg.Strategy)
	if err != nil {
		return nil, err
	}

	m := NewMachine(s.ctx, order, strategy, MachineConfig{
		Tick:         s.cfg.Tick,
		CheckTimeout: s.cfg.CheckTimeout,
		Notifier:     s.notifier,
		Listener:     listener{s: s},
		Dispatch:     s.dispatch,
	})
	if running, loaded := s.machines.putIfAbsent(m); loaded {
		m.Dispose()
		return running, nil
	}

	m.Start()
	return m, nil
}

func (s *Service) dispatch(task func()) error {
	if s.pool == nil {
		go task()
		return nil
	}
	return s.pool.Submit(task)
}

func (s *Service) lockSession(sessionID string) func() {
	v, _ := s.sessions.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) view(m *Machine, o *Outcome) PaymentView {
	if m == nil {
		if o == nil {
			return PaymentView{}
		}
		return PaymentView{Outcome: o, Redirect: o.Path()}
	}

	snap := m.Snapshot()
	if !snap.State.IsTerminal() && !snap.HandedOff {
		return PaymentView{Payment: &snap}
	}

	if stored, err := s.router.Outcome(s.ctx, snap.OrderID); err == nil && stored != nil {
		o = stored
	} else {
		o = NewOutcome(snap)
	}
	return PaymentView{Payment: &snap, Outcome: o, Redirect: o.Path()}
}

func (s *Service) errorResponse(err error, data any) *types.Response {
	code := http.StatusInternalServerError
	message := err.Error()

	var gwErr *gateway.GatewayError
	switch {
	case errors.Is(err, ErrUnknownOrder):
		code = http.StatusNotFound
	case errors.Is(err, ErrCheckInFlight), errors.Is(err, ErrCancelWhileChecking),
		errors.Is(err, ErrNoCancelRequest), errors.Is(err, ErrTerminal),
		errors.Is(err, ErrHandedOff), errors.Is(err, ErrDisposed):
		code = http.StatusConflict
	case gateway.IsValidationError(err):
		code = http.StatusBadRequest
		message = gateway.ServerMessage(err)
	case errors.As(err, &gwErr):
		code = http.StatusBadGateway
		message = gateway.ServerMessage(err)
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
		message = "Confirmation check timed out"
	default:
		logger.Error.Printf("Payment error: %v", err)
		message = "Failed to process payment"
	}

	return helper.ParseResponse(&types.Response{
		Code:    code,
		Message: message,
		Data:    data,
		Error:   err,
	})
}

// ledgerSnapshot rebuilds the observable state of an order from its row.
func ledgerSnapshot(trx *models.Transaction) Snapshot {
	order := orderFromLedger(trx)
	snap := Snapshot{
		Order:                  order,
		State:                  stateFromStatus(enum.TransactionStatusEnum(trx.Status)),
		PaymentMethodLabel:     order.PaymentType.Label(),
		Reason:                 trx.Reason,
		ReconciliationRequired: trx.ReconciliationRequired,
		Notices:                []Notice{},
	}
	if snap.State == StateAwaiting {
		snap.HandedOff = trx.Reason == ReasonAwaitingSettlement
		if !snap.HandedOff {
			if remaining := time.Until(order.Deadline); remaining > 0 {
				snap.RemainingSeconds = int64(remaining.Round(time.Second).Seconds())
			}
		}
	}
	return snap
}

func stateFromStatus(status enum.TransactionStatusEnum) State {
	switch status {
	case enum.PAID:
		return StatePaid
	case enum.FAILED:
		return StateFailed
	case enum.EXPIRED:
		return StateExpired
	case enum.CANCELLED:
		return StateCancelled
	}
	return StateAwaiting
}

// listener routes the final transitions of every machine of the service.
type listener struct {
	s *Service
}

func (l listener) Terminal(ctx context.Context, snap Snapshot) {
	l.route(ctx, snap)
}

func (l listener) HandedOff(ctx context.Context, snap Snapshot) {
	l.route(ctx, snap)
}

func (l listener) Reconcile(ctx context.Context, snap Snapshot) {
	if err := l.s.router.FlagReconciliation(ctx, snap.OrderID, string(gateway.OutcomePaid)); err != nil {
		logger.Error.Printf("Failed to flag order %s for reconciliation: %v", snap.OrderID, err)
	}
}

func (l listener) route(ctx context.Context, snap Snapshot) {
	if _, err := l.s.router.Navigate(ctx, NewOutcome(snap)); err != nil {
		logger.Error.Printf("Failed to route order %s: %v", snap.OrderID, err)
	}
	l.s.machines.removeID(snap.OrderID)
}
