package payment

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/common/models"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pay(t *testing.T, env *testEnv, sessionID string) string {
	t.Helper()
	resp := env.svc.Pay(&PayRequest{SessionID: sessionID})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)
	view := viewOf(t, resp)
	require.NotNil(t, view.Payment)
	return view.Payment.OrderID
}

// QRIS: a pending confirm keeps the page waiting, the next one pays.
func TestScenario_PushConfirmPendingThenPaid(t *testing.T) {
	gw := &fakeGateway{confirm: []result{
		{outcome: gateway.OutcomePending},
		{outcome: gateway.OutcomePaid},
	}}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-a", enum.QRIS)
	orderID := pay(t, env, "s-a")

	resp := env.svc.Check(context.Background(), orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	view := viewOf(t, resp)
	assert.Equal(t, StateAwaiting, view.Payment.State)
	assert.Empty(t, view.Redirect)

	resp = env.svc.Check(context.Background(), orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	view = viewOf(t, resp)
	assert.Equal(t, StatePaid, view.Payment.State)
	assert.Equal(t, "/checkout/success/"+orderID, view.Redirect)
	require.NotNil(t, view.Outcome)
	assert.Equal(t, int64(100000), view.Outcome.Amount)
	assert.True(t, strings.HasPrefix(view.Outcome.AmountLabel, "Rp"))
	assert.Equal(t, "Budi Santoso", view.Outcome.Buyer.FullName)
	assert.Equal(t, "QRIS", view.Outcome.PaymentMethodLabel)
	assert.Len(t, view.Outcome.CartItems, 1)
	assert.Equal(t, "https://cdn.example.test/products/ebook.pdf?sig=1", view.Outcome.DownloadURL)

	row := env.ledger.row(t, orderID)
	assert.Equal(t, enum.PAID.ToString(), row.Status)
	assert.NotNil(t, row.PaidAt)
	assert.Equal(t, 1, env.pub.count(types.EventOutcome))
}

// BCA with a 2s expiry that never gets paid.
func TestScenario_PollExpiresAtDeadline(t *testing.T) {
	expiresAt := time.Now().Add(2 * time.Second)
	gw := &fakeGateway{
		expiresAt: &expiresAt,
		fetch:     []result{{outcome: gateway.OutcomePending}},
	}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-b", enum.BCA)
	orderID := pay(t, env, "s-b")

	require.Eventually(t, func() bool {
		return storedOutcome(t, env, orderID) != nil
	}, 4*time.Second, 20*time.Millisecond)
	assert.False(t, time.Now().Before(expiresAt))

	o := storedOutcome(t, env, orderID)
	assert.Equal(t, OutcomeFailure, o.Kind)
	assert.Equal(t, StateExpired, o.State)
	assert.Equal(t, "deadline exceeded", o.Reason)
	assert.Equal(t, "/checkout/failure/"+orderID, o.Path())

	row := env.ledger.row(t, orderID)
	assert.Equal(t, enum.EXPIRED.ToString(), row.Status)
	assert.Equal(t, ReasonDeadlineExceeded, row.Reason)
}

// BCA polling: FAILED on the third poll routes exactly once.
func TestScenario_PollFailsOnThirdPoll(t *testing.T) {
	gw := &fakeGateway{fetch: []result{
		{outcome: gateway.OutcomePending},
		{outcome: gateway.OutcomePending},
		{outcome: gateway.OutcomeFailed},
		{outcome: gateway.OutcomePaid},
	}}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-c", enum.BCA)
	orderID := pay(t, env, "s-c")

	require.Eventually(t, func() bool {
		return storedOutcome(t, env, orderID) != nil
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	_, fetch := gw.calls()
	assert.Equal(t, 3, fetch)
	assert.Equal(t, 1, env.pub.count(types.EventOutcome))

	o := storedOutcome(t, env, orderID)
	assert.Equal(t, OutcomeFailure, o.Kind)
	assert.Equal(t, StateFailed, o.State)
	assert.Equal(t, ReasonPaymentFailed, o.Reason)

	// a stale success for the same order is a no-op
	stale := *o
	stale.Kind, stale.State, stale.Reason = OutcomeSuccess, StatePaid, ""
	routed, err := env.router.Navigate(context.Background(), &stale)
	require.NoError(t, err)
	assert.False(t, routed)
	assert.Equal(t, StateFailed, storedOutcome(t, env, orderID).State)
	assert.Equal(t, enum.FAILED.ToString(), env.ledger.row(t, orderID).Status)
}

// Cancel from AWAITING_CONFIRMATION after the explicit second step.
func TestScenario_CancelWhileAwaiting(t *testing.T) {
	cfg := fastConfig()
	cfg.Strategy.PollGrace = time.Hour
	gw := &fakeGateway{}
	env := newTestEnv(t, gw, cfg)
	env.seedSession(t, "s-d", enum.BCA)
	orderID := pay(t, env, "s-d")
	m := env.svc.machines.get(orderID)
	require.NotNil(t, m)

	resp := env.svc.RequestCancel(orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, viewOf(t, resp).Payment.CancelPending)
	assert.Equal(t, StateAwaiting, viewOf(t, resp).Payment.State)

	resp = env.svc.ConfirmCancel(orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	view := viewOf(t, resp)
	assert.Equal(t, StateCancelled, view.Payment.State)
	assert.Equal(t, "/checkout/failure/"+orderID, view.Redirect)
	assert.True(t, isClosed(m.Done()))
	assert.Nil(t, env.svc.machines.get(orderID))

	time.Sleep(150 * time.Millisecond)
	confirm, fetch := gw.calls()
	assert.Zero(t, confirm+fetch)

	row := env.ledger.row(t, orderID)
	assert.Equal(t, enum.CANCELLED.ToString(), row.Status)
	assert.Equal(t, ReasonCancelled, row.Reason)
}

// Two transport errors surface as notices; the third attempt pays.
func TestScenario_TransportErrorsThenPaid(t *testing.T) {
	transport := &gateway.GatewayError{Op: "confirm payment", Message: "dial tcp: connection refused"}
	gw := &fakeGateway{confirm: []result{
		{err: transport},
		{err: transport},
		{outcome: gateway.OutcomePaid},
	}}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-e", enum.QRIS)
	orderID := pay(t, env, "s-e")

	for i := 0; i < 2; i++ {
		resp := env.svc.Check(context.Background(), orderID)
		assert.Equal(t, http.StatusBadGateway, resp.Code)
		assert.Equal(t, "dial tcp: connection refused", resp.Message)
		view := viewOf(t, resp)
		assert.Equal(t, StateAwaiting, view.Payment.State)
		assert.Len(t, view.Payment.Notices, i+1)
	}
	assert.Nil(t, storedOutcome(t, env, orderID))

	resp := env.svc.Check(context.Background(), orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	view := viewOf(t, resp)
	assert.Equal(t, StatePaid, view.Payment.State)
	require.Len(t, view.Payment.Notices, 2)
	for _, n := range view.Payment.Notices {
		assert.Equal(t, NoticeWarning, n.Level)
		assert.Contains(t, n.Message, "connection refused")
	}
}

func TestService_ResumeAfterTerminalShortCircuits(t *testing.T) {
	gw := &fakeGateway{confirm: []result{{outcome: gateway.OutcomePaid}}}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-r", enum.QRIS)
	orderID := pay(t, env, "s-r")
	require.Equal(t, http.StatusOK, env.svc.Check(context.Background(), orderID).Code)

	resp := env.svc.Resume(orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	view := viewOf(t, resp)
	assert.Nil(t, view.Payment)
	assert.Equal(t, "/checkout/success/"+orderID, view.Redirect)
	assert.Nil(t, env.svc.machines.get(orderID))

	resp = env.svc.Check(context.Background(), orderID)
	assert.Equal(t, http.StatusConflict, resp.Code)
	confirm, _ := gw.calls()
	assert.Equal(t, 1, confirm)
}

func TestService_ResumeRestartsPendingOrderFromLedger(t *testing.T) {
	cfg := fastConfig()
	cfg.Strategy.PollGrace = time.Hour
	env := newTestEnv(t, &fakeGateway{}, cfg)
	env.seedSession(t, "s-l", enum.BNI)
	orderID := pay(t, env, "s-l")

	resp := env.svc.Leave(orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, env.svc.machines.get(orderID))
	assert.Equal(t, enum.PENDING.ToString(), env.ledger.row(t, orderID).Status)

	resp = env.svc.Resume(orderID)
	require.Equal(t, http.StatusOK, resp.Code)
	view := viewOf(t, resp)
	require.NotNil(t, view.Payment)
	assert.Equal(t, StateAwaiting, view.Payment.State)
	assert.Equal(t, "BNI Virtual Account", view.Payment.PaymentMethodLabel)
	assert.Len(t, view.Payment.CartItems, 1)
	assert.NotNil(t, env.svc.machines.get(orderID))
}

func TestService_ResumeUnknownOrder(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, fastConfig())
	assert.Equal(t, http.StatusNotFound, env.svc.Resume("ORD-missing").Code)
	assert.Equal(t, http.StatusNotFound, env.svc.Outcome("ORD-missing").Code)
}

func TestService_PayKeepsOneActiveTransaction(t *testing.T) {
	cfg := fastConfig()
	cfg.Strategy.PollGrace = time.Hour
	gw := &fakeGateway{}
	env := newTestEnv(t, gw, cfg)
	env.seedSession(t, "s-1", enum.BCA)
	first := pay(t, env, "s-1")

	// same method: the pending transaction is reused
	resp := env.svc.Pay(&PayRequest{SessionID: "s-1"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, first, viewOf(t, resp).Payment.OrderID)
	assert.Equal(t, 1, gw.created)

	// another method conflicts until the buyer supersedes
	env.switchPaymentType(t, "s-1", enum.QRIS)
	resp = env.svc.Pay(&PayRequest{SessionID: "s-1"})
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.ErrorIs(t, resp.Error, ErrActivePayment)

	resp = env.svc.Pay(&PayRequest{SessionID: "s-1", Supersede: true})
	require.Equal(t, http.StatusCreated, resp.Code)
	second := viewOf(t, resp).Payment.OrderID
	assert.NotEqual(t, first, second)

	row := env.ledger.row(t, first)
	assert.Equal(t, enum.CANCELLED.ToString(), row.Status)
	assert.Equal(t, ReasonSuperseded, row.Reason)

	session, err := env.sessions.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, second, session.ActiveOrderID)
}

func TestService_SupersedeOnlyTouchesOwnOrders(t *testing.T) {
	cfg := fastConfig()
	cfg.Strategy.PollGrace = time.Hour
	env := newTestEnv(t, &fakeGateway{}, cfg)
	env.seedSession(t, "s-victim", enum.QRIS)
	victimOrder := pay(t, env, "s-victim")

	// a session pointing at an order it does not own
	env.seedSession(t, "s-other", enum.BCA)
	session, err := env.sessions.Get(context.Background(), "s-other")
	require.NoError(t, err)
	session.ActiveOrderID = victimOrder
	require.NoError(t, env.sessions.Put(context.Background(), session))

	resp := env.svc.Pay(&PayRequest{SessionID: "s-other", Supersede: true})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)
	assert.NotEqual(t, victimOrder, viewOf(t, resp).Payment.OrderID)

	assert.Equal(t, enum.PENDING.ToString(), env.ledger.row(t, victimOrder).Status)
	m := env.svc.machines.get(victimOrder)
	require.NotNil(t, m)
	assert.Equal(t, StateAwaiting, m.Snapshot().State)
}

func TestService_StartMachineReturnsRunningMachine(t *testing.T) {
	cfg := fastConfig()
	cfg.Strategy.PollGrace = time.Hour
	env := newTestEnv(t, &fakeGateway{}, cfg)
	env.seedSession(t, "s-r", enum.BRI)
	orderID := pay(t, env, "s-r")
	running := env.svc.machines.get(orderID)
	require.NotNil(t, running)

	row := env.ledger.row(t, orderID)
	m, err := env.svc.startMachine(orderFromLedger(&row))
	require.NoError(t, err)
	assert.Same(t, running, m)
	assert.Equal(t, StateAwaiting, m.Snapshot().State)
}

func TestMachine_DisposeBeforeStartReleasesContext(t *testing.T) {
	order := Order{OrderID: "ORD-idle", PaymentType: enum.BCA, Deadline: time.Now().Add(time.Hour)}
	m := NewMachine(context.Background(), order, nil, MachineConfig{})
	m.Dispose()
	assert.Error(t, m.runCtx.Err())
	select {
	case <-m.Done():
	default:
		t.Fatal("machine not done after Dispose")
	}
}

func TestOrderFromLedgerLogsCorruptSnapshots(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(logger.Setup)

	order := orderFromLedger(&models.Transaction{
		OrderID:         "ORD-bad",
		PaymentType:     enum.BCA.ToString(),
		CartSnapshot:    models.JSONB(`{"cart_items":`),
		ProviderPayload: models.JSONB(`[1,2]`),
	})

	assert.Equal(t, "ORD-bad", order.OrderID)
	assert.Empty(t, order.CartItems)
	assert.Contains(t, buf.String(), "Order ORD-bad has an unreadable cart snapshot")
	assert.Contains(t, buf.String(), "Order ORD-bad has an unreadable provider payload")
}

func TestService_PayRejectsIncompleteSession(t *testing.T) {
	gw := &fakeGateway{}
	env := newTestEnv(t, gw, fastConfig())
	require.NoError(t, env.sessions.Put(context.Background(), &types.CheckoutSession{
		SessionID:   "s-x",
		PaymentType: enum.QRIS,
	}))

	resp := env.svc.Pay(&PayRequest{SessionID: "s-x"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Message, "email")
	assert.Zero(t, gw.created)
	assert.Empty(t, env.ledger.rows)
}

func TestService_ServerStatusSettlesHandedOffOrder(t *testing.T) {
	gw := &fakeGateway{fetch: []result{{outcome: gateway.OutcomePending}}}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-m", enum.ALFAMART)
	orderID := pay(t, env, "s-m")

	require.Equal(t, http.StatusOK, env.svc.Check(context.Background(), orderID).Code)
	require.Eventually(t, func() bool {
		o := storedOutcome(t, env, orderID)
		return o != nil && o.AwaitingSettlement
	}, time.Second, 10*time.Millisecond)

	o := storedOutcome(t, env, orderID)
	assert.Equal(t, OutcomeSuccess, o.Kind)
	assert.Empty(t, o.DownloadURL)
	row := env.ledger.row(t, orderID)
	assert.Equal(t, enum.PENDING.ToString(), row.Status)
	assert.Equal(t, ReasonAwaitingSettlement, row.Reason)

	resp := env.svc.Notify(&NotifyRequest{OrderID: orderID, Status: "settlement"})
	require.Equal(t, http.StatusOK, resp.Code)

	o = storedOutcome(t, env, orderID)
	assert.False(t, o.AwaitingSettlement)
	assert.Equal(t, StatePaid, o.State)
	assert.NotEmpty(t, o.DownloadURL)
	assert.Equal(t, enum.PAID.ToString(), env.ledger.row(t, orderID).Status)
}

func TestService_ServerPaidAfterExpiryFlagsReconciliation(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, fastConfig())
	env.seedSession(t, "s-x", enum.QRIS)
	orderID := pay(t, env, "s-x")

	require.Equal(t, http.StatusOK, env.svc.RequestCancel(orderID).Code)
	require.Equal(t, http.StatusOK, env.svc.ConfirmCancel(orderID).Code)

	require.NoError(t, env.svc.ApplyServerStatus(context.Background(), orderID, "settlement"))

	row := env.ledger.row(t, orderID)
	assert.Equal(t, enum.CANCELLED.ToString(), row.Status)
	assert.True(t, row.ReconciliationRequired)
	assert.Equal(t, "settlement", row.ServerStatus)
	assert.True(t, storedOutcome(t, env, orderID).ReconciliationRequired)
	assert.Equal(t, 1, env.pub.count(types.EventReconciliation))

	// a repeated notification does not flag twice
	require.NoError(t, env.svc.ApplyServerStatus(context.Background(), orderID, "settlement"))
	assert.Equal(t, 1, env.pub.count(types.EventReconciliation))
}

func TestService_ServerStatusReachesRunningMachine(t *testing.T) {
	cfg := fastConfig()
	cfg.Strategy.PollGrace = time.Hour
	env := newTestEnv(t, &fakeGateway{}, cfg)
	env.seedSession(t, "s-n", enum.BRI)
	orderID := pay(t, env, "s-n")

	resp := env.svc.Notify(&NotifyRequest{OrderID: orderID, Status: "pending"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotNil(t, env.svc.machines.get(orderID))

	resp = env.svc.Notify(&NotifyRequest{OrderID: orderID, Status: "PAID"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Eventually(t, func() bool {
		return storedOutcome(t, env, orderID) != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatePaid, storedOutcome(t, env, orderID).State)

	assert.Equal(t, http.StatusNotFound, env.svc.Notify(&NotifyRequest{OrderID: "ORD-missing", Status: "PAID"}).Code)
}

type staticVerifier bool

func (v staticVerifier) VerifySignature(string, string, string, string) bool {
	return bool(v)
}

func TestService_MidtransCallback(t *testing.T) {
	env := newTestEnv(t, &fakeGateway{}, fastConfig())
	payload := map[string]any{
		"order_id":           "ORD-1",
		"status_code":        "200",
		"gross_amount":       "100000.00",
		"signature_key":      "bogus",
		"transaction_status": "settlement",
	}

	assert.Equal(t, http.StatusNotFound, env.svc.MidtransCallback(payload).Code)

	env.svc.verifier = staticVerifier(false)
	assert.Equal(t, http.StatusForbidden, env.svc.MidtransCallback(payload).Code)
	assert.Equal(t, http.StatusBadRequest, env.svc.MidtransCallback(map[string]any{}).Code)

	env.svc.verifier = staticVerifier(true)
	env.seedSession(t, "s-cb", enum.QRIS)
	orderID := pay(t, env, "s-cb")
	payload["order_id"] = orderID

	resp := env.svc.MidtransCallback(payload)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Eventually(t, func() bool {
		return storedOutcome(t, env, orderID) != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatePaid, storedOutcome(t, env, orderID).State)
}

func TestService_WatchEndsWithOutcome(t *testing.T) {
	gw := &fakeGateway{confirm: []result{{outcome: gateway.OutcomePaid}}}
	env := newTestEnv(t, gw, fastConfig())
	env.seedSession(t, "s-w", enum.QRIS)
	orderID := pay(t, env, "s-w")

	ch, stop, err := env.svc.Watch(context.Background(), orderID)
	require.NoError(t, err)
	defer stop()
	assert.Equal(t, orderID, (<-ch).OrderID)

	require.Equal(t, http.StatusOK, env.svc.Check(context.Background(), orderID).Code)
	for range ch {
	}

	_, _, err = env.svc.Watch(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrTerminal)
}
