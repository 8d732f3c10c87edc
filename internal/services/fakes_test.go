package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"prepaid/internal/events"
	"prepaid/internal/models"
	"prepaid/internal/provider"
	"prepaid/internal/settings"
	"prepaid/internal/store"
	"prepaid/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memDB is an in-memory stand-in for the wallet and purchase tables. Its tx
// runner holds one mutex for the whole transaction, which models the wallet
// row lock, and restores a snapshot when fn fails.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	wallets map[string]models.Wallet
	records map[string]models.PurchaseRecord
	journal []store.LedgerEntryInput
	audits  []store.AuditEntry
}

func newMemDB() *memDB {
	return &memDB{
		wallets: map[string]models.Wallet{},
		records: map[string]models.PurchaseRecord{},
	}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (m *memDB) addWallet(userID, balance string) models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := models.Wallet{ID: uuid.NewString(), UserID: userID, Balance: dec(balance), Currency: DefaultCurrency}
	m.wallets[w.ID] = w
	return w
}

func (m *memDB) addRecord(wallet models.Wallet, reference, amount, status string) models.PurchaseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := models.PurchaseRecord{
		ID:        uuid.NewString(),
		WalletID:  wallet.ID,
		UserID:    wallet.UserID,
		Kind:      models.KindPurchase,
		Service:   models.ServiceAirtime,
		Amount:    dec(amount),
		Reference: reference,
		Status:    status,
	}
	m.records[reference] = r
	return r
}

func (m *memDB) balanceOf(walletID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[walletID].Balance.StringFixed(2)
}

func (m *memDB) record(reference string) models.PurchaseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[reference]
}

func (m *memDB) allRecords() []models.PurchaseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PurchaseRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}

func (m *memDB) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		out = append(out, a.Action)
	}
	return out
}

func (m *memDB) journalSum(walletID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, e := range m.journal {
		if e.WalletID == walletID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum
}

type memState struct {
	wallets map[string]models.Wallet
	records map[string]models.PurchaseRecord
	journal []store.LedgerEntryInput
	audits  []store.AuditEntry
}

func (m *memDB) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memState{
		wallets: make(map[string]models.Wallet, len(m.wallets)),
		records: make(map[string]models.PurchaseRecord, len(m.records)),
		journal: append([]store.LedgerEntryInput(nil), m.journal...),
		audits:  append([]store.AuditEntry(nil), m.audits...),
	}
	for k, v := range m.wallets {
		s.wallets[k] = v
	}
	for k, v := range m.records {
		s.records[k] = v
	}
	return s
}

func (m *memDB) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets, m.records, m.journal, m.audits = s.wallets, s.records, s.journal, s.audits
}

type memTxRunner struct {
	db *memDB
}

func (r memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.db.txMu.Lock()
	defer r.db.txMu.Unlock()
	snap := r.db.snapshot()
	if err := fn(nil); err != nil {
		r.db.restore(snap)
		return err
	}
	return nil
}

type memWallets struct{ db *memDB }

func (s memWallets) Create(_ context.Context, _ store.Execer, id, userID, currency string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, w := range s.db.wallets {
		if w.UserID == userID {
			return false, nil
		}
	}
	s.db.wallets[id] = models.Wallet{ID: id, UserID: userID, Balance: decimal.Zero, Currency: currency}
	return true, nil
}

func (s memWallets) GetByUser(_ context.Context, userID string) (models.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, w := range s.db.wallets {
		if w.UserID == userID {
			return w, nil
		}
	}
	return models.Wallet{}, store.ErrNotFound
}

func (s memWallets) GetByUserForUpdate(ctx context.Context, _ store.Getter, userID string) (models.Wallet, error) {
	return s.GetByUser(ctx, userID)
}

func (s memWallets) GetForUpdate(_ context.Context, _ store.Getter, walletID string) (models.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wallets[walletID]
	if !ok {
		return models.Wallet{}, store.ErrNotFound
	}
	return w, nil
}

func (s memWallets) UpdateBalance(_ context.Context, _ store.Execer, walletID string, balance decimal.Decimal) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w := s.db.wallets[walletID]
	w.Balance = balance
	s.db.wallets[walletID] = w
	return nil
}

type memPurchases struct{ db *memDB }

func (s memPurchases) Create(_ context.Context, _ store.Execer, input store.PurchaseInput) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.records[input.Reference]; exists {
		return store.ErrDuplicateReference
	}
	s.db.records[input.Reference] = models.PurchaseRecord{
		ID:          input.ID,
		WalletID:    input.WalletID,
		UserID:      s.db.wallets[input.WalletID].UserID,
		Kind:        input.Kind,
		Service:     input.Service,
		Amount:      input.Amount,
		Description: input.Description,
		Reference:   input.Reference,
		Status:      input.Status,
		CreatedAt:   time.Now(),
	}
	return nil
}

func (s memPurchases) GetByReference(_ context.Context, reference string) (models.PurchaseRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.records[reference]
	if !ok {
		return models.PurchaseRecord{}, store.ErrNotFound
	}
	return r, nil
}

func (s memPurchases) GetByReferenceForUpdate(ctx context.Context, _ store.Getter, reference string) (models.PurchaseRecord, error) {
	return s.GetByReference(ctx, reference)
}

func (s memPurchases) WalletIDByReference(ctx context.Context, reference string) (string, error) {
	r, err := s.GetByReference(ctx, reference)
	return r.WalletID, err
}

func (s memPurchases) byID(id string) (models.PurchaseRecord, bool) {
	for _, r := range s.db.records {
		if r.ID == id {
			return r, true
		}
	}
	return models.PurchaseRecord{}, false
}

func (s memPurchases) UpdateOutcome(_ context.Context, _ store.Execer, id string, update store.OutcomeUpdate) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.byID(id)
	if !ok || r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = update.Status
	if update.ProviderStatus != "" {
		r.ProviderStatus = stringPtr(update.ProviderStatus)
	}
	if len(update.ProviderResponse) > 0 {
		r.ProviderResponse = update.ProviderResponse
	}
	if update.Token != "" {
		r.Token = stringPtr(update.Token)
	}
	s.db.records[r.Reference] = r
	return true, nil
}

func (s memPurchases) RecordRequery(_ context.Context, _ store.Getter, id, providerStatus string, raw json.RawMessage, at time.Time) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.byID(id)
	if !ok {
		return 0, store.ErrNotFound
	}
	r.RequeryAttempts++
	r.LastRequeryAt = &at
	if providerStatus != "" {
		r.ProviderStatus = stringPtr(providerStatus)
	}
	if len(raw) > 0 {
		r.ProviderResponse = raw
	}
	s.db.records[r.Reference] = r
	return r.RequeryAttempts, nil
}

func (s memPurchases) FlagForReview(_ context.Context, _ store.Execer, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.byID(id)
	if !ok {
		return store.ErrNotFound
	}
	r.RequiresManualReview = true
	s.db.records[r.Reference] = r
	return nil
}

func (s memPurchases) ListByUser(_ context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error) {
	var out []models.PurchaseRecord
	for _, r := range s.db.allRecords() {
		if r.UserID == userID && (service == "" || r.Service == service) {
			out = append(out, r)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memJournal struct{ db *memDB }

func (s memJournal) Append(_ context.Context, _ store.Execer, entry store.LedgerEntryInput) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.journal = append(s.db.journal, entry)
	return nil
}

type memAudit struct{ db *memDB }

func (s memAudit) Log(_ context.Context, _ store.Execer, entry store.AuditEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audits = append(s.db.audits, entry)
	return nil
}

func (m *memDB) stores() Stores {
	return Stores{
		Wallets:   memWallets{db: m},
		Purchases: memPurchases{db: m},
		Journal:   memJournal{db: m},
		Audit:     memAudit{db: m},
	}
}

type stubGateway struct {
	mu          sync.Mutex
	purchaseFn  func(req provider.PurchaseRequest) (provider.Result, error)
	verifyFn    func(serviceID, target, subtype string) (provider.Result, error)
	purchases   []provider.PurchaseRequest
	verifyCalls int
}

// Purchase fails like an aborted HTTP call when ctx is done by the time the
// provider answers.
func (g *stubGateway) Purchase(ctx context.Context, req provider.PurchaseRequest) (provider.Result, error) {
	g.mu.Lock()
	g.purchases = append(g.purchases, req)
	g.mu.Unlock()
	res, err := g.purchaseFn(req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return provider.Result{}, &provider.Error{Op: "pay", Message: ctxErr.Error()}
	}
	return res, err
}

func (g *stubGateway) VerifyTarget(_ context.Context, serviceID, target, subtype string) (provider.Result, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()
	return g.verifyFn(serviceID, target, subtype)
}

func (g *stubGateway) purchaseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.purchases)
}

func providerResult(code, status string) provider.Result {
	raw, _ := json.Marshal(map[string]any{
		"code":    code,
		"content": map[string]any{"transactions": map[string]any{"status": status}},
	})
	return provider.Result{Shape: provider.ShapeObject, Code: code, Status: status, Raw: raw}
}

type stubPolicy struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *stubPolicy) Evaluate(context.Context, string, decimal.Decimal, time.Time, settings.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

type stubSettings struct {
	snap settings.Snapshot
}

func (s stubSettings) Snapshot(context.Context) (settings.Snapshot, error) {
	return s.snap, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	balances  []websocket.BalanceUpdate
	purchases []websocket.PurchaseUpdate
}

func (n *recordingNotifier) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances = append(n.balances, update)
}

func (n *recordingNotifier) BroadcastPurchase(_ string, update websocket.PurchaseUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchases = append(n.purchases, update)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PurchaseFinalized
}

func (p *recordingPublisher) PurchaseFinalized(_ context.Context, event events.PurchaseFinalized) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type harness struct {
	db        *memDB
	gateway   *stubGateway
	policy    *stubPolicy
	notifier  *recordingNotifier
	publisher *recordingPublisher
	finalizer *Finalizer
	purchases *PurchaseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db: newMemDB(),
		gateway: &stubGateway{
			purchaseFn: func(provider.PurchaseRequest) (provider.Result, error) {
				return providerResult("000", "delivered"), nil
			},
			verifyFn: func(string, string, string) (provider.Result, error) {
				return provider.Result{Code: "000", Raw: json.RawMessage(`{"code":"000","content":{"Customer_Name":"ADA OBI"}}`)}, nil
			},
		},
		policy:    &stubPolicy{},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	runner := memTxRunner{db: h.db}
	h.finalizer = NewFinalizer(runner, h.db.stores(), h.notifier, h.publisher, zap.NewNop())
	h.purchases = NewPurchaseService(runner, h.db.stores(), h.gateway, h.policy, stubSettings{snap: settings.Snapshot{FraudChecksEnabled: true}}, h.finalizer, h.notifier, zap.NewNop())
	return h
}
