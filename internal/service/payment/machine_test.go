package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"storefront-checkout/internal/common/enum"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(pt enum.PaymentTypeEnum, deadline time.Time) Order {
	return Order{
		OrderID:     "ORD-T",
		SessionID:   "s-1",
		PaymentType: pt,
		Amount:      100000,
		ReferenceNo: "REF-T",
		Buyer: types.Buyer{
			Email:       "buyer@example.com",
			FullName:    "Budi Santoso",
			PhoneNumber: "081234567890",
		},
		CartItems: []types.CartItem{{ID: "p-1", Name: "Ebook", UnitPrice: 100000, Quantity: 1}},
		Deadline:  deadline,
	}
}

func newTestMachine(t *testing.T, order Order, gw gateway.IGateway, lis IListener, strategyCfg StrategyConfig) *Machine {
	t.Helper()
	strategy, err := NewStrategy(order, gw, strategyCfg)
	require.NoError(t, err)

	m := NewMachine(context.Background(), order, strategy, MachineConfig{
		Tick:         20 * time.Millisecond,
		CheckTimeout: 2 * time.Second,
		Listener:     lis,
	})
	t.Cleanup(m.Dispose)
	return m
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestMachine_ExpiredDeadlineExpiresOnStart(t *testing.T) {
	gw := &fakeGateway{}
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.QRIS, time.Now().Add(-time.Minute)), gw, lis, fastConfig().Strategy)

	m.Start()

	snap := m.Snapshot()
	assert.Equal(t, StateExpired, snap.State)
	assert.Equal(t, ReasonDeadlineExceeded, snap.Reason)
	assert.Zero(t, snap.RemainingSeconds)
	assert.True(t, isClosed(m.Done()))

	terminal, _, _ := lis.counts()
	assert.Equal(t, 1, terminal)

	_, err := m.Check(context.Background())
	assert.ErrorIs(t, err, ErrTerminal)
	confirm, fetch := gw.calls()
	assert.Zero(t, confirm+fetch)
}

func TestMachine_TerminalStateIgnoresLaterEvents(t *testing.T) {
	gw := &fakeGateway{confirm: []result{{outcome: gateway.OutcomePaid}}}
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.QRIS, time.Now().Add(time.Minute)), gw, lis, fastConfig().Strategy)
	m.Start()

	snap, err := m.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatePaid, snap.State)

	ctx := context.Background()
	_, err = m.Check(ctx)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.ErrorIs(t, m.RequestCancel(ctx), ErrTerminal)
	assert.ErrorIs(t, m.ConfirmCancel(ctx), ErrTerminal)
	assert.ErrorIs(t, m.Cancel(ctx, ReasonSuperseded), ErrTerminal)
	assert.ErrorIs(t, m.Report(ctx, gateway.OutcomeFailed), ErrTerminal)

	after := m.Snapshot()
	assert.Equal(t, StatePaid, after.State)
	assert.Empty(t, after.Reason)
	assert.Equal(t, 1, after.Checks)

	terminal, _, _ := lis.counts()
	assert.Equal(t, 1, terminal)
	confirm, _ := gw.calls()
	assert.Equal(t, 1, confirm)
}

func TestMachine_OnlyOneCheckInFlight(t *testing.T) {
	gw := &fakeGateway{
		confirm: []result{{outcome: gateway.OutcomePaid}},
		gate:    make(chan struct{}),
	}
	m := newTestMachine(t, testOrder(enum.QRIS, time.Now().Add(time.Minute)), gw, nil, fastConfig().Strategy)
	m.Start()

	first := make(chan error, 1)
	go func() {
		_, err := m.Check(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return m.Snapshot().CheckInFlight }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateChecking, m.Snapshot().State)

	_, err := m.Check(context.Background())
	assert.ErrorIs(t, err, ErrCheckInFlight)
	assert.ErrorIs(t, m.RequestCancel(context.Background()), ErrCancelWhileChecking)

	close(gw.gate)
	require.NoError(t, <-first)
	assert.Equal(t, StatePaid, m.Snapshot().State)

	confirm, _ := gw.calls()
	assert.Equal(t, 1, confirm)
}

func TestMachine_LatePaidAfterExpiryIsReconciled(t *testing.T) {
	gw := &fakeGateway{
		confirm: []result{{outcome: gateway.OutcomePaid}},
		gate:    make(chan struct{}),
	}
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.QRIS, time.Now().Add(200*time.Millisecond)), gw, lis, fastConfig().Strategy)
	m.Start()

	checked := make(chan Snapshot, 1)
	go func() {
		snap, _ := m.Check(context.Background())
		checked <- snap
	}()
	require.Eventually(t, func() bool { return m.Snapshot().CheckInFlight }, time.Second, 5*time.Millisecond)

	// the deadline passes while the confirm call hangs
	require.Eventually(t, func() bool {
		terminal, _, _ := lis.counts()
		return terminal == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateExpired, (<-checked).State)

	close(gw.gate)
	require.Eventually(t, func() bool {
		_, _, reconciled := lis.counts()
		return reconciled == 1
	}, time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StateExpired, snap.State)
	assert.True(t, snap.ReconciliationRequired)
}

func TestMachine_DisposeStopsTimerAndPolling(t *testing.T) {
	gw := &fakeGateway{fetch: []result{{outcome: gateway.OutcomePending}}}
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.BCA, time.Now().Add(time.Minute)), gw, lis, fastConfig().Strategy)
	m.Start()

	require.Eventually(t, func() bool {
		_, fetch := gw.calls()
		return fetch >= 2
	}, 2*time.Second, 5*time.Millisecond)

	m.Dispose()
	m.Dispose()
	assert.True(t, isClosed(m.Done()))

	// let a check dispatched right before disposal land
	time.Sleep(50 * time.Millisecond)
	_, before := gw.calls()
	time.Sleep(200 * time.Millisecond)
	_, after := gw.calls()
	assert.Equal(t, before, after)

	_, err := m.Check(context.Background())
	assert.ErrorIs(t, err, ErrDisposed)
	assert.False(t, m.Snapshot().State.IsTerminal())

	terminal, handedOff, _ := lis.counts()
	assert.Zero(t, terminal+handedOff)
}

func TestMachine_CancelRequiresConfirmation(t *testing.T) {
	gw := &fakeGateway{}
	cfg := fastConfig().Strategy
	cfg.PollGrace = time.Hour
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.BCA, time.Now().Add(time.Minute)), gw, lis, cfg)
	m.Start()
	ctx := context.Background()

	assert.ErrorIs(t, m.ConfirmCancel(ctx), ErrNoCancelRequest)

	require.NoError(t, m.RequestCancel(ctx))
	assert.True(t, m.Snapshot().CancelPending)
	require.NoError(t, m.DismissCancel(ctx))
	assert.False(t, m.Snapshot().CancelPending)
	assert.Equal(t, StateAwaiting, m.Snapshot().State)

	require.NoError(t, m.RequestCancel(ctx))
	require.NoError(t, m.ConfirmCancel(ctx))

	snap := m.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, ReasonCancelled, snap.Reason)
	assert.False(t, snap.CancelPending)
	assert.True(t, isClosed(m.Done()))

	terminal, _, _ := lis.counts()
	assert.Equal(t, 1, terminal)
}

func TestMachine_ManualHandsOffWhenInconclusive(t *testing.T) {
	gw := &fakeGateway{fetch: []result{{outcome: gateway.OutcomePending}}}
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.INDOMARET, time.Now().Add(time.Minute)), gw, lis, fastConfig().Strategy)
	m.Start()

	snap, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateChecking, snap.State)

	require.Eventually(t, func() bool {
		_, handedOff, _ := lis.counts()
		return handedOff == 1
	}, time.Second, 5*time.Millisecond)

	snap = m.Snapshot()
	assert.True(t, snap.HandedOff)
	assert.Equal(t, StateAwaiting, snap.State)
	assert.Equal(t, ReasonAwaitingSettlement, snap.Reason)
	assert.ErrorIs(t, m.RequestCancel(context.Background()), ErrHandedOff)

	terminal, _, _ := lis.counts()
	assert.Zero(t, terminal)
}

func TestMachine_ServerReportFinishesPayment(t *testing.T) {
	cfg := fastConfig().Strategy
	cfg.PollGrace = time.Hour
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.BNI, time.Now().Add(time.Minute)), &fakeGateway{}, lis, cfg)
	m.Start()

	require.NoError(t, m.Report(context.Background(), gateway.OutcomePending))
	assert.Equal(t, StateAwaiting, m.Snapshot().State)

	require.NoError(t, m.Report(context.Background(), gateway.OutcomeFailed))
	require.Eventually(t, func() bool { return isClosed(m.Done()) }, time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ReasonPaymentFailed, snap.Reason)
}

func TestMachine_SubscribeStreamsUntilTerminal(t *testing.T) {
	gw := &fakeGateway{confirm: []result{{outcome: gateway.OutcomePaid}}}
	m := newTestMachine(t, testOrder(enum.QRIS, time.Now().Add(time.Minute)), gw, nil, fastConfig().Strategy)
	m.Start()

	ch, stop := m.Subscribe(context.Background())
	defer stop()

	first := <-ch
	assert.Equal(t, StateAwaiting, first.State)
	assert.Positive(t, first.RemainingSeconds)

	_, err := m.Check(context.Background())
	require.NoError(t, err)

	var last Snapshot
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				assert.Equal(t, StatePaid, last.State)
				return
			}
			last = snap
		case <-timeout:
			t.Fatal("subscription was not closed after the terminal transition")
		}
	}
}

func TestMachine_CheckErrorIsASoftNotice(t *testing.T) {
	gw := &fakeGateway{confirm: []result{
		{err: &gateway.GatewayError{Op: "confirm payment", StatusCode: 500, Message: "upstream unavailable"}},
	}}
	lis := &recordingListener{}
	m := newTestMachine(t, testOrder(enum.QRIS, time.Now().Add(time.Minute)), gw, lis, fastConfig().Strategy)
	m.Start()

	snap, err := m.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, "upstream unavailable", gateway.ServerMessage(err))
	assert.Equal(t, StateAwaiting, snap.State)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, NoticeWarning, snap.Notices[0].Level)
	assert.Contains(t, snap.Notices[0].Message, "upstream unavailable")

	terminal, _, _ := lis.counts()
	assert.Zero(t, terminal)
}

func TestMachine_DispatchFailureLeavesStateUnchanged(t *testing.T) {
	order := testOrder(enum.QRIS, time.Now().Add(time.Minute))
	strategy, err := NewStrategy(order, &fakeGateway{}, fastConfig().Strategy)
	require.NoError(t, err)

	m := NewMachine(context.Background(), order, strategy, MachineConfig{
		Dispatch: func(func()) error { return errors.New("pool overloaded") },
	})
	t.Cleanup(m.Dispose)
	m.Start()

	snap, err := m.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool overloaded")
	assert.Equal(t, StateAwaiting, snap.State)
	assert.False(t, snap.CheckInFlight)
}

/*----------- strategies -----------*/

func TestStrategy_PushConfirmIsIdempotent(t *testing.T) {
	gw := &fakeGateway{confirm: []result{
		{outcome: gateway.OutcomePaid},
		{err: fmt.Errorf("%w: transaction already confirmed", gateway.ErrAlreadyConfirmed)},
	}}
	strategy, err := NewStrategy(testOrder(enum.QRIS, time.Now()), gw, DefaultStrategyConfig())
	require.NoError(t, err)
	assert.Equal(t, enum.PUSH, strategy.Kind())

	for i := 0; i < 2; i++ {
		outcome, err := strategy.CheckOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, gateway.OutcomePaid, outcome, "call %d", i+1)
	}
}

func TestStrategy_TransportErrorIsNotTerminal(t *testing.T) {
	gw := &fakeGateway{confirm: []result{{err: &gateway.GatewayError{Op: "confirm payment", Message: "connection refused"}}}}
	strategy, err := NewStrategy(testOrder(enum.QRIS, time.Now()), gw, DefaultStrategyConfig())
	require.NoError(t, err)

	outcome, err := strategy.CheckOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, gateway.OutcomePending, outcome)
}

func TestStrategy_SelectedByPaymentType(t *testing.T) {
	cfg := StrategyConfig{PollGrace: time.Second}

	poll, err := NewStrategy(testOrder(enum.PERMATA, time.Now()), &fakeGateway{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, enum.POLL, poll.Kind())
	grace, interval := poll.(scheduler).Schedule()
	assert.Equal(t, time.Second, grace)
	assert.Equal(t, 5*time.Second, interval)

	manual, err := NewStrategy(testOrder(enum.ALFAMART, time.Now()), &fakeGateway{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, enum.MANUAL, manual.Kind())
	_, ok := manual.(settler)
	assert.True(t, ok)

	_, err = NewStrategy(testOrder(enum.PaymentTypeEnum("paypal"), time.Now()), &fakeGateway{}, cfg)
	assert.Error(t, err)
}
