package services

import (
	"context"
	"database/sql"
	"io"
	"sync"

	"referralpay/internal/events"
	"referralpay/internal/models"
	"referralpay/internal/payment"
	"referralpay/internal/referral"
	"referralpay/internal/store"
	"referralpay/internal/testutil"
	"referralpay/internal/websocket"
)

const houseCode = "MASTERKEY"

type fakeGateway struct {
	mu       sync.Mutex
	intents  []payment.IntentRequest
	payouts  []payment.PayoutRequest
	intentFn func(req payment.IntentRequest) (payment.Intent, error)
	payoutFn func(req payment.PayoutRequest) (payment.Payout, error)
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	g.mu.Lock()
	g.intents = append(g.intents, req)
	g.mu.Unlock()
	if g.intentFn != nil {
		return g.intentFn(req)
	}
	return payment.Intent{ID: "pi_" + req.IdempotencyKey, ClientSecret: "secret_" + req.IdempotencyKey}, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, req payment.PayoutRequest) (payment.Payout, error) {
	g.mu.Lock()
	g.payouts = append(g.payouts, req)
	g.mu.Unlock()
	if g.payoutFn != nil {
		return g.payoutFn(req)
	}
	return payment.Payout{ID: "tr_" + req.IdempotencyKey}, nil
}

func (g *fakeGateway) VerifyWebhook([]byte, string) (payment.Event, error) {
	return payment.Event{}, payment.ErrInvalidSignature
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.published))
	for _, e := range p.published {
		out = append(out, e.Subject())
	}
	return out
}

// memWithdrawals is a map-backed withdrawal store.
type memWithdrawals struct {
	mu   sync.Mutex
	rows map[string]models.Withdrawal
}

func newMemWithdrawals() *memWithdrawals {
	return &memWithdrawals{rows: make(map[string]models.Withdrawal)}
}

func (m *memWithdrawals) Create(_ context.Context, _ store.Execer, w models.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[w.ID] = w
	return nil
}

func (m *memWithdrawals) GetByID(_ context.Context, id string) (models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok {
		return models.Withdrawal{}, sql.ErrNoRows
	}
	return w, nil
}

func (m *memWithdrawals) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Withdrawal, error) {
	return m.GetByID(ctx, id)
}

func (m *memWithdrawals) Claim(_ context.Context, _ store.Execer, id, adminID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok || w.Status != models.WithdrawalPending {
		return 0, nil
	}
	w.Status = models.WithdrawalApproved
	w.ProcessedBy = &adminID
	m.rows[id] = w
	return 1, nil
}

func (m *memWithdrawals) Resolve(_ context.Context, _ store.Execer, d store.WithdrawalDecision) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[d.ID]
	if !ok || w.Status != d.From {
		return 0, nil
	}
	w.Status = d.Status
	w.ProcessedBy = &d.ProcessedBy
	w.PayoutID = d.PayoutID
	w.Reason = d.Reason
	m.rows[d.ID] = w
	return 1, nil
}

func (m *memWithdrawals) ListByUser(_ context.Context, userID string, _, _ int) ([]models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range m.rows {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWithdrawals) ListByStatus(_ context.Context, status string, _, _ int) ([]models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range m.rows {
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	return out, nil
}

type memKYC struct {
	mu   sync.Mutex
	rows []models.KYCSubmission
}

func (m *memKYC) Create(_ context.Context, _ store.Execer, k models.KYCSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, k)
	return nil
}

func (m *memKYC) LatestStatus(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := models.KYCNotSubmitted
	for _, k := range m.rows {
		if k.UserID == userID {
			status = k.Status
		}
	}
	return status, nil
}

func (m *memKYC) GetForUpdate(_ context.Context, _ store.Getter, id string) (models.KYCSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.rows {
		if k.ID == id {
			return k, nil
		}
	}
	return models.KYCSubmission{}, sql.ErrNoRows
}

func (m *memKYC) Review(_ context.Context, _ store.Execer, id, status, reviewerID string, notes *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.rows {
		if k.ID == id && k.Status == models.KYCPending {
			m.rows[i].Status = status
			m.rows[i].ReviewedBy = &reviewerID
			m.rows[i].Notes = notes
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memKYC) ListPending(context.Context, int, int) ([]models.KYCSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.KYCSubmission
	for _, k := range m.rows {
		if k.Status == models.KYCPending {
			out = append(out, k)
		}
	}
	return out, nil
}

type fakeUploader struct {
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	_, _ = io.Copy(io.Discard, body)
	u.keys = append(u.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func newDistributor(ledger *testutil.Ledger) *referral.Distributor {
	return referral.NewDistributor(ledger.Users(), ledger.Log(), referral.Config{FallbackCode: houseCode, Currency: "gbp"})
}
