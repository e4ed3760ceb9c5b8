package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"storefront-checkout/internal/common/enum"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/countdown"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/logger"
)

/*----------- State -----------*/

type State string

const (
	StateCreated   State = "CREATED"
	StateAwaiting  State = "AWAITING_CONFIRMATION"
	StateChecking  State = "CHECKING"
	StatePaid      State = "PAID"
	StateFailed    State = "FAILED"
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
)

func (s State) IsTerminal() bool {
	switch s {
	case StatePaid, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Status maps the machine state onto the ledger status.
func (s State) Status() enum.TransactionStatusEnum {
	switch s {
	case StatePaid:
		return enum.PAID
	case StateFailed:
		return enum.FAILED
	case StateExpired:
		return enum.EXPIRED
	case StateCancelled:
		return enum.CANCELLED
	}
	return enum.PENDING
}

var (
	ErrCheckInFlight       = errors.New("a confirmation check is already in progress")
	ErrTerminal            = errors.New("payment already reached a final state")
	ErrCancelWhileChecking = errors.New("cannot cancel while a confirmation check is in progress")
	ErrNoCancelRequest     = errors.New("no cancellation was requested")
	ErrUnknownOrder        = errors.New("order not found")
	ErrDisposed            = errors.New("payment session was closed")
	ErrHandedOff           = errors.New("payment was handed off for settlement")
)

const (
	ReasonDeadlineExceeded   = "deadline exceeded"
	ReasonCancelled          = "cancelled by buyer"
	ReasonSuperseded         = "superseded"
	ReasonPaymentFailed      = "payment failed"
	ReasonAwaitingSettlement = "awaiting settlement"
)

// Order is the fixed context of one checkout attempt.
type Order struct {
	OrderID         string               `json:"order_id"`
	SessionID       string               `json:"session_id"`
	PaymentType     enum.PaymentTypeEnum `json:"payment_type"`
	Amount          int64                `json:"amount"`
	ReferenceNo     string               `json:"reference_no"`
	ProviderPayload map[string]any       `json:"provider_payload"`
	Buyer           types.Buyer          `json:"buyer"`
	CartItems       []types.CartItem     `json:"cart_items"`
	AddOns          []types.AddOn        `json:"add_ons"`
	ProductID       string               `json:"product_id"`
	ProductLink     string               `json:"product_link"`
	Deadline        time.Time            `json:"deadline"`
}

/*----------- Notices -----------*/

const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
)

const maxNotices = 10

// Notice is a soft, buyer-visible message that never changes state.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type INotifier interface {
	Notify(orderID string, n Notice)
}

type logNotifier struct{}

func (logNotifier) Notify(orderID string, n Notice) {
	if n.Level == NoticeWarning {
		logger.Warning.Printf("order %s: %s", orderID, n.Message)
		return
	}
	logger.Info.Printf("order %s: %s", orderID, n.Message)
}

/*----------- Snapshot -----------*/

// Snapshot is the externally observable view of a machine.
type Snapshot struct {
	Order
	State                  State    `json:"state"`
	PaymentMethodLabel     string   `json:"payment_method_label"`
	RemainingSeconds       int64    `json:"remaining_seconds"`
	CheckInFlight          bool     `json:"check_in_flight"`
	CancelPending          bool     `json:"cancel_pending"`
	HandedOff              bool     `json:"handed_off"`
	Reason                 string   `json:"reason,omitempty"`
	ReconciliationRequired bool     `json:"reconciliation_required"`
	Checks                 int      `json:"checks"`
	Notices                []Notice `json:"notices"`
}

// IListener receives the final transitions of a machine. Calls come from
// the machine goroutine once timers and polling are stopped.
type IListener interface {
	Terminal(ctx context.Context, s Snapshot)
	HandedOff(ctx context.Context, s Snapshot)
	Reconcile(ctx context.Context, s Snapshot)
}

type nopListener struct{}

func (nopListener) Terminal(context.Context, Snapshot)  {}
func (nopListener) HandedOff(context.Context, Snapshot) {}
func (nopListener) Reconcile(context.Context, Snapshot) {}

type MachineConfig struct {
	Tick         time.Duration
	CheckTimeout time.Duration
	Notifier     INotifier
	Listener     IListener
	// Dispatch runs a confirmation check off the machine goroutine.
	Dispatch func(task func()) error
}

/*----------- Machine -----------*/

type eventKind int

const (
	evCheck eventKind = iota
	evResult
	evServerResult
	evRequestCancel
	evConfirmCancel
	evDismissCancel
	evCancel
	evSubscribe
	evUnsubscribe
)

type event struct {
	kind    eventKind
	outcome gateway.Outcome
	err     error
	reason  string
	reply   chan error
	waiter  chan checkReply
	sub     chan Snapshot
}

type checkReply struct {
	snap Snapshot
	err  error
}

// Machine drives one transaction to a terminal state. A single goroutine
// owns the state; timer ticks, poll ticks, check results and buyer commands
// are all events on that goroutine, so the first terminal event wins.
type Machine struct {
	ctx       context.Context
	runCtx    context.Context
	cancelRun context.CancelFunc
	order     Order
	strategy  IStrategy
	cfg       MachineConfig

	events    chan event
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mu       sync.RWMutex
	view     Snapshot
	disposed bool

	// owned by the loop goroutine
	timer        *countdown.Timer
	pollDelay    *time.Timer
	pollTicker   *time.Ticker
	pollInterval time.Duration
	settle       *time.Timer
	inFlight     bool
	waiter       chan checkReply
	subs         map[chan Snapshot]struct{}
}

func NewMachine(ctx context.Context, order Order, strategy IStrategy, cfg MachineConfig) *Machine {
	if cfg.Tick <= 0 {
		cfg.Tick = countdown.DefaultTick
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 30 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = logNotifier{}
	}
	if cfg.Listener == nil {
		cfg.Listener = nopListener{}
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(task func()) error {
			go task()
			return nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	return &Machine{
		ctx:       ctx,
		runCtx:    runCtx,
		cancelRun: cancel,
		order:     order,
		strategy:  strategy,
		cfg:       cfg,
		events:    make(chan event),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		subs:      map[chan Snapshot]struct{}{},
		view: Snapshot{
			Order:              order,
			State:              StateCreated,
			PaymentMethodLabel: order.PaymentType.Label(),
			Notices:            []Notice{},
		},
	}
}

func (m *Machine) OrderID() string {
	return m.order.OrderID
}

func (m *Machine) PaymentType() enum.PaymentTypeEnum {
	return m.order.PaymentType
}

// Start moves the machine to AWAITING_CONFIRMATION and starts the timer and,
// for polling strategies, the poll schedule. A deadline already in the past
// results in EXPIRED before Start returns.
func (m *Machine) Start() {
	m.startOnce.Do(func() {
		if !m.order.Deadline.After(time.Now()) {
			m.update(func(v *Snapshot) {
				v.State = StateExpired
				v.Reason = ReasonDeadlineExceeded
			})
			m.notify(NoticeWarning, "Payment deadline exceeded")
			m.cancelRun()
			m.cfg.Listener.Terminal(m.ctx, m.Snapshot())
			close(m.done)
			return
		}

		m.timer = countdown.New(m.order.Deadline, countdown.WithTick(m.cfg.Tick))
		if s, ok := m.strategy.(scheduler); ok {
			grace, interval := s.Schedule()
			m.pollInterval = interval
			m.pollDelay = time.NewTimer(grace)
		}
		m.update(func(v *Snapshot) {
			v.State = StateAwaiting
		})
		go m.run()
	})
}

// Dispose stops the timer and polling without a terminal transition. No
// event is applied after it returns. Safe to call more than once.
func (m *Machine) Dispose() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.disposed = true
		m.mu.Unlock()

		// never started: nothing to stop
		m.startOnce.Do(func() {
			close(m.done)
		})
		close(m.stop)
	})
	<-m.done
	m.cancelRun()
}

// Done is closed once the machine stops processing events.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.view
	s.Notices = append([]Notice(nil), m.view.Notices...)
	if !s.State.IsTerminal() && !s.HandedOff {
		remaining := time.Until(m.order.Deadline).Seconds()
		s.RemainingSeconds = int64(math.Max(0, math.Ceil(remaining)))
	}
	return s
}

// Check runs one buyer-initiated confirmation and waits for its result.
func (m *Machine) Check(ctx context.Context) (Snapshot, error) {
	waiter := make(chan checkReply, 1)
	if err := m.send(ctx, event{kind: evCheck, waiter: waiter}); err != nil {
		return m.Snapshot(), err
	}

	select {
	case r := <-waiter:
		return r.snap, r.err
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	case <-m.done:
		select {
		case r := <-waiter:
			return r.snap, r.err
		default:
			return m.Snapshot(), m.closedErr()
		}
	}
}

// Report feeds a status pushed by the server (notification) into the machine.
func (m *Machine) Report(ctx context.Context, outcome gateway.Outcome) error {
	return m.send(ctx, event{kind: evServerResult, outcome: outcome})
}

func (m *Machine) RequestCancel(ctx context.Context) error {
	return m.command(ctx, event{kind: evRequestCancel})
}

func (m *Machine) ConfirmCancel(ctx context.Context) error {
	return m.command(ctx, event{kind: evConfirmCancel})
}

func (m *Machine) DismissCancel(ctx context.Context) error {
	return m.command(ctx, event{kind: evDismissCancel})
}

// Cancel terminates without the confirmation step, e.g. when the session
// starts a payment with another method.
func (m *Machine) Cancel(ctx context.Context, reason string) error {
	return m.command(ctx, event{kind: evCancel, reason: reason})
}

// Subscribe streams snapshots on every tick and state change. The channel
// keeps only the latest snapshot and is closed when the machine stops.
func (m *Machine) Subscribe(ctx context.Context) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	if err := m.send(ctx, event{kind: evSubscribe, sub: ch}); err != nil {
		ch <- m.Snapshot()
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = m.send(context.Background(), event{kind: evUnsubscribe, sub: ch})
		})
	}
}

func (m *Machine) command(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	if err := m.send(ctx, ev); err != nil {
		return err
	}

	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return m.closedErr()
		}
	}
}

func (m *Machine) send(ctx context.Context, ev event) error {
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return m.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) closedErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.view.State.IsTerminal():
		return ErrTerminal
	case m.view.HandedOff:
		return ErrHandedOff
	default:
		return ErrDisposed
	}
}

/*----------- loop -----------*/

func (m *Machine) run() {
	defer func() {
		if !m.inFlight {
			m.cancelRun()
		}
		close(m.done)
	}()

	var pollDelay <-chan time.Time
	if m.pollDelay != nil {
		pollDelay = m.pollDelay.C
	}

	for {
		var pollTick, settle <-chan time.Time
		if m.pollTicker != nil {
			pollTick = m.pollTicker.C
		}
		if m.settle != nil {
			settle = m.settle.C
		}

		select {
		case <-m.stop:
			m.teardown()
			m.releaseWaiter(ErrDisposed)
			m.closeSubs()
			return

		case <-m.timer.Ticks():
			m.broadcast()

		case <-m.timer.Expired():
			m.finish(StateExpired, ReasonDeadlineExceeded)
			return

		case <-pollDelay:
			pollDelay = nil
			m.pollDelay = nil
			m.pollTicker = time.NewTicker(m.pollInterval)
			m.poll()

		case <-pollTick:
			m.poll()

		case <-settle:
			m.settle = nil
			m.handOff()
			return

		case ev := <-m.events:
			if m.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event and reports whether the machine stopped.
func (m *Machine) handle(ev event) bool {
	switch ev.kind {
	case evCheck:
		if err := m.startCheck(ev.waiter); err != nil {
			ev.waiter <- checkReply{snap: m.Snapshot(), err: err}
		}

	case evResult:
		return m.applyResult(ev)

	case evServerResult:
		switch ev.outcome {
		case gateway.OutcomePaid:
			m.finish(StatePaid, "")
			return true
		case gateway.OutcomeFailed:
			m.finish(StateFailed, ReasonPaymentFailed)
			return true
		}

	case evRequestCancel:
		if m.checking() {
			ev.reply <- ErrCancelWhileChecking
			return false
		}
		m.update(func(v *Snapshot) {
			v.CancelPending = true
		})
		m.broadcast()
		ev.reply <- nil

	case evDismissCancel:
		m.update(func(v *Snapshot) {
			v.CancelPending = false
		})
		m.broadcast()
		ev.reply <- nil

	case evConfirmCancel:
		if !m.Snapshot().CancelPending {
			ev.reply <- ErrNoCancelRequest
			return false
		}
		if m.checking() {
			ev.reply <- ErrCancelWhileChecking
			return false
		}
		m.finish(StateCancelled, ReasonCancelled)
		ev.reply <- nil
		return true

	case evCancel:
		if m.checking() {
			ev.reply <- ErrCancelWhileChecking
			return false
		}
		m.finish(StateCancelled, ev.reason)
		ev.reply <- nil
		return true

	case evSubscribe:
		m.subs[ev.sub] = struct{}{}
		ev.sub <- m.Snapshot()

	case evUnsubscribe:
		if _, ok := m.subs[ev.sub]; ok {
			delete(m.subs, ev.sub)
			close(ev.sub)
		}
	}
	return false
}

func (m *Machine) checking() bool {
	return m.inFlight || m.settle != nil
}

func (m *Machine) poll() {
	if m.checking() {
		return
	}
	if err := m.startCheck(nil); err != nil {
		m.notify(NoticeWarning, err.Error())
	}
}

func (m *Machine) startCheck(waiter chan checkReply) error {
	if m.checking() {
		return ErrCheckInFlight
	}

	m.inFlight = true
	m.waiter = waiter
	m.update(func(v *Snapshot) {
		v.State = StateChecking
		v.CheckInFlight = true
		v.Checks++
	})
	m.broadcast()

	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.CheckTimeout)
	err := m.cfg.Dispatch(func() {
		defer cancel()
		outcome, err := m.strategy.CheckOnce(ctx)
		m.deliver(event{kind: evResult, outcome: outcome, err: err})
	})
	if err != nil {
		cancel()
		m.inFlight = false
		m.waiter = nil
		m.update(func(v *Snapshot) {
			v.State = StateAwaiting
			v.CheckInFlight = false
		})
		return fmt.Errorf("failed to dispatch confirmation check: %w", err)
	}
	return nil
}

// deliver hands a check result to the loop, or to the late-result path once
// the loop has stopped.
func (m *Machine) deliver(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
		m.late(ev)
	}
}

func (m *Machine) applyResult(ev event) bool {
	m.inFlight = false
	m.update(func(v *Snapshot) {
		v.CheckInFlight = false
	})

	if ev.err != nil {
		m.notify(NoticeWarning, "Could not confirm payment: "+gateway.ServerMessage(ev.err))
		if m.beginSettlement() {
			m.releaseWaiter(ev.err)
			return false
		}
		m.update(func(v *Snapshot) {
			v.State = StateAwaiting
		})
		m.broadcast()
		m.releaseWaiter(ev.err)
		return false
	}

	switch ev.outcome {
	case gateway.OutcomePaid:
		m.finish(StatePaid, "")
		return true
	case gateway.OutcomeFailed:
		m.finish(StateFailed, ReasonPaymentFailed)
		return true
	}

	if m.beginSettlement() {
		m.releaseWaiter(nil)
		return false
	}
	m.update(func(v *Snapshot) {
		v.State = StateAwaiting
	})
	m.broadcast()
	m.releaseWaiter(nil)
	return false
}

// beginSettlement starts the settlement delay for strategies that hand off
// inconclusive results. The state stays CHECKING meanwhile.
func (m *Machine) beginSettlement() bool {
	s, ok := m.strategy.(settler)
	if !ok {
		return false
	}
	m.notify(NoticeInfo, "Waiting for the store to settle the payment")
	m.settle = time.NewTimer(s.SettlementDelay())
	m.broadcast()
	return true
}

func (m *Machine) handOff() {
	m.teardown()
	m.update(func(v *Snapshot) {
		v.State = StateAwaiting
		v.HandedOff = true
		v.CheckInFlight = false
		v.CancelPending = false
		v.Reason = ReasonAwaitingSettlement
	})
	m.releaseWaiter(ErrHandedOff)
	m.broadcast()
	m.closeSubs()
	m.cfg.Listener.HandedOff(m.ctx, m.Snapshot())
}

func (m *Machine) finish(state State, reason string) {
	m.teardown()
	m.update(func(v *Snapshot) {
		v.State = state
		v.Reason = reason
		v.CheckInFlight = false
		v.CancelPending = false
	})
	if state == StateExpired {
		m.notify(NoticeWarning, "Payment deadline exceeded")
	}
	logger.Info.Printf("order %s reached %s", m.order.OrderID, state)

	m.cfg.Listener.Terminal(m.ctx, m.Snapshot())
	m.releaseWaiter(nil)
	m.broadcast()
	m.closeSubs()
}

// late handles a check that completed after the loop stopped. A PAID answer
// after a local EXPIRED or CANCELLED is a reconciliation case.
func (m *Machine) late(ev event) {
	defer m.cancelRun()

	m.mu.Lock()
	if m.disposed && !m.view.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	state := m.view.State
	reconcile := ev.err == nil && ev.outcome == gateway.OutcomePaid &&
		(state == StateExpired || state == StateCancelled)
	if reconcile {
		m.view.ReconciliationRequired = true
	}
	m.mu.Unlock()

	if !reconcile {
		logger.Debug.Printf("order %s: dropping late check result %s (state %s)", m.order.OrderID, ev.outcome, state)
		return
	}

	logger.Warning.Printf("order %s: gateway reported PAID after local %s, reconciliation required", m.order.OrderID, state)
	m.cfg.Listener.Reconcile(m.ctx, m.Snapshot())
}

func (m *Machine) teardown() {
	if m.timer != nil {
		m.timer.Dispose()
	}
	if m.pollDelay != nil {
		m.pollDelay.Stop()
		m.pollDelay = nil
	}
	if m.pollTicker != nil {
		m.pollTicker.Stop()
		m.pollTicker = nil
	}
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
}

func (m *Machine) releaseWaiter(err error) {
	if m.waiter == nil {
		return
	}
	m.waiter <- checkReply{snap: m.Snapshot(), err: err}
	m.waiter = nil
}

func (m *Machine) broadcast() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.Snapshot()
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Machine) closeSubs() {
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
}

func (m *Machine) update(fn func(v *Snapshot)) {
	m.mu.Lock()
	fn(&m.view)
	m.mu.Unlock()
}

func (m *Machine) notify(level, message string) {
	n := Notice{Level: level, Message: message, At: time.Now()}
	m.update(func(v *Snapshot) {
		v.Notices = append(v.Notices, n)
		if len(v.Notices) > maxNotices {
			v.Notices = v.Notices[len(v.Notices)-maxNotices:]
		}
	})
	m.cfg.Notifier.Notify(m.order.OrderID, n)
}
