package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/common/models"
	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/repository"
	paymentRepo "storefront-checkout/internal/repository/payment"
	sessionRepo "storefront-checkout/internal/repository/session"
	checkoutService "storefront-checkout/internal/service/checkout"

	"github.com/stretchr/testify/require"
)

/*----------- redis -----------*/

type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}}
}

func (r *memRedis) Set(key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = string(b)
	return nil
}

func (r *memRedis) SetNX(key string, value any, _ time.Duration) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[key]; ok {
		return false, nil
	}
	r.data[key] = string(b)
	return true, nil
}

func (r *memRedis) Get(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[key], nil
}

func (r *memRedis) Del(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *memRedis) Expire(string, time.Duration) error { return nil }
func (r *memRedis) Ping() error                        { return nil }
func (r *memRedis) Close() error                       { return nil }

/*----------- ledger -----------*/

type memLedger struct {
	mu   sync.Mutex
	rows map[string]models.Transaction
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]models.Transaction{}}
}

func (l *memLedger) Create(_ context.Context, trx *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	trx.CreatedAt = time.Now()
	l.rows[trx.OrderID] = *trx
	return nil
}

func (l *memLedger) FindByOrderID(_ context.Context, orderID string) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[orderID]
	if !ok {
		return nil, paymentRepo.ErrNotFound
	}
	return &row, nil
}

func (l *memLedger) FindPendingBySession(_ context.Context, sessionID string) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var found *models.Transaction
	for _, row := range l.rows {
		if row.SessionID == sessionID && row.Status == enum.PENDING.ToString() {
			if found == nil || row.CreatedAt.After(found.CreatedAt) {
				r := row
				found = &r
			}
		}
	}
	if found == nil {
		return nil, paymentRepo.ErrNotFound
	}
	return found, nil
}

func (l *memLedger) Close(_ context.Context, orderID string, status enum.TransactionStatusEnum, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[orderID]
	if !ok || row.Status != enum.PENDING.ToString() {
		return false, nil
	}
	now := time.Now()
	row.Status = status.ToString()
	row.Reason = reason
	row.ClosedAt = &now
	if status == enum.PAID {
		row.PaidAt = &now
	}
	l.rows[orderID] = row
	return true, nil
}

func (l *memLedger) UpdateStatus(_ context.Context, orderID string, updates map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[orderID]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			row.Status = v.(string)
		case "reason":
			row.Reason = v.(string)
		case "server_status":
			row.ServerStatus = v.(string)
		case "reconciliation_required":
			row.ReconciliationRequired = v.(bool)
		}
	}
	l.rows[orderID] = row
	return nil
}

func (l *memLedger) FlagReconciliation(ctx context.Context, orderID, serverStatus string) error {
	return l.UpdateStatus(ctx, orderID, map[string]any{
		"reconciliation_required": true,
		"server_status":           serverStatus,
	})
}

func (l *memLedger) row(t *testing.T, orderID string) models.Transaction {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[orderID]
	require.True(t, ok, "no ledger row for %s", orderID)
	return row
}

/*----------- sessions -----------*/

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]types.CheckoutSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]types.CheckoutSession{}}
}

func (s *memSessions) Get(_ context.Context, sessionID string) (*types.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *memSessions) Put(_ context.Context, session *types.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = *session
	return nil
}

var _ sessionRepo.IRepository = (*memSessions)(nil)

/*----------- gateway -----------*/

type result struct {
	outcome gateway.Outcome
	err     error
}

// fakeGateway replays scripted results. The last result repeats once the
// script runs out; an empty script answers PENDING.
type fakeGateway struct {
	mu        sync.Mutex
	expiresAt *time.Time
	confirm   []result
	fetch     []result
	// gate, when set, holds every confirm/fetch call until it is closed
	gate chan struct{}

	created      int
	confirmCalls int
	fetchCalls   int
}

func (g *fakeGateway) Create(_ context.Context, req gateway.CreateRequest) (*gateway.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	orderID := req.OrderID
	if orderID == "" {
		orderID = fmt.Sprintf("ORD-%s-%d", req.PaymentType, g.created)
	}
	return &gateway.Transaction{
		OrderID:         orderID,
		PaymentType:     req.PaymentType,
		Amount:          req.Amount(),
		ReferenceNo:     "REF-" + orderID,
		ExpiresAt:       g.expiresAt,
		ProviderPayload: map[string]any{"qr_string": "000201"},
		Status:          "pending",
	}, nil
}

func (g *fakeGateway) Confirm(ctx context.Context, orderID, _ string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	r := pick(g.confirm, g.confirmCalls)
	g.confirmCalls++
	gate := g.gate
	g.mu.Unlock()
	return g.answer(ctx, gate, orderID, r)
}

func (g *fakeGateway) FetchStatus(ctx context.Context, orderID string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	r := pick(g.fetch, g.fetchCalls)
	g.fetchCalls++
	gate := g.gate
	g.mu.Unlock()
	return g.answer(ctx, gate, orderID, r)
}

func (g *fakeGateway) answer(ctx context.Context, gate chan struct{}, orderID string, r result) (*gateway.StatusResult, error) {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &gateway.StatusResult{OrderID: orderID, Outcome: r.outcome, RawStatus: string(r.outcome)}, nil
}

func (g *fakeGateway) calls() (confirm, fetch int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmCalls, g.fetchCalls
}

func pick(script []result, i int) result {
	if len(script) == 0 {
		return result{outcome: gateway.OutcomePending}
	}
	if i >= len(script) {
		return script[len(script)-1]
	}
	return script[i]
}

/*----------- publisher -----------*/

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.OutcomeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := payload.(types.OutcomeEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

/*----------- listener -----------*/

type recordingListener struct {
	mu         sync.Mutex
	terminal   []Snapshot
	handedOff  []Snapshot
	reconciled []Snapshot
}

func (l *recordingListener) Terminal(_ context.Context, s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminal = append(l.terminal, s)
}

func (l *recordingListener) HandedOff(_ context.Context, s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handedOff = append(l.handedOff, s)
}

func (l *recordingListener) Reconcile(_ context.Context, s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconciled = append(l.reconciled, s)
}

func (l *recordingListener) counts() (terminal, handedOff, reconciled int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.terminal), len(l.handedOff), len(l.reconciled)
}

/*----------- signer -----------*/

type fakeSigner struct {
	keys []string
}

func (s *fakeSigner) GetPresignedURL(key string) (string, error) {
	s.keys = append(s.keys, key)
	return "https://cdn.example.test/" + key + "?sig=1", nil
}

/*----------- environment -----------*/

type testEnv struct {
	svc      *Service
	gw       *fakeGateway
	ledger   *memLedger
	sessions *memSessions
	rds      *memRedis
	pub      *recordingPublisher
	router   *Router
}

func fastConfig() Config {
	return Config{
		Strategy: StrategyConfig{
			PollGrace:       20 * time.Millisecond,
			PollInterval:    50 * time.Millisecond,
			SettlementDelay: 50 * time.Millisecond,
		},
		Tick:         50 * time.Millisecond,
		CheckTimeout: 2 * time.Second,
	}
}

func newTestEnv(t *testing.T, gw *fakeGateway, cfg Config) *testEnv {
	t.Helper()

	env := &testEnv{
		gw:       gw,
		ledger:   newMemLedger(),
		sessions: newMemSessions(),
		rds:      newMemRedis(),
		pub:      &recordingPublisher{},
	}
	rp := repository.IRepository{Payment: env.ledger, Session: env.sessions}
	env.router = NewRouter(env.rds, env.ledger, env.pub, &fakeSigner{}, time.Hour)

	ctx := context.Background()
	checkout := checkoutService.NewService(ctx, rp)
	env.svc = NewService(ctx, rp, checkout, gw, env.router, nil, nil, cfg).(*Service)
	t.Cleanup(env.svc.Shutdown)
	return env
}

// seedSession stores a complete session totalling 100000.
func (e *testEnv) seedSession(t *testing.T, sessionID string, pt enum.PaymentTypeEnum) {
	t.Helper()
	require.NoError(t, e.sessions.Put(context.Background(), &types.CheckoutSession{
		SessionID: sessionID,
		CartItems: []types.CartItem{{ID: "p-1", Name: "Ebook", UnitPrice: 100000, Quantity: 1}},
		AddOns:    []types.AddOn{},
		Buyer: types.Buyer{
			Email:       "buyer@example.com",
			FullName:    "Budi Santoso",
			PhoneNumber: "081234567890",
		},
		ProductID:   "p-1",
		ProductLink: "products/ebook.pdf",
		PaymentType: pt,
	}))
}

func (e *testEnv) switchPaymentType(t *testing.T, sessionID string, pt enum.PaymentTypeEnum) {
	t.Helper()
	_, err := e.svc.checkout.Save(context.Background(), sessionID, &types.SessionPatch{PaymentType: &pt})
	require.NoError(t, err)
}

func viewOf(t *testing.T, resp *types.Response) PaymentView {
	t.Helper()
	view, ok := resp.Data.(PaymentView)
	require.True(t, ok, "unexpected response data %T (%s)", resp.Data, resp.Message)
	return view
}

func storedOutcome(t *testing.T, e *testEnv, orderID string) *Outcome {
	t.Helper()
	o, err := e.router.Outcome(context.Background(), orderID)
	require.NoError(t, err)
	return o
}
