package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prepaid/internal/auth"
	"prepaid/internal/config"
	"prepaid/internal/models"
	"prepaid/internal/policy"
	"prepaid/internal/reconcile"
	"prepaid/internal/services"
	"prepaid/internal/settings"
	"prepaid/internal/store"
	"prepaid/internal/websocket"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubPurchases struct {
	airtimeFn     func(ctx context.Context, req services.AirtimeRequest) (services.PurchaseResult, error)
	dataFn        func(ctx context.Context, req services.DataRequest) (services.PurchaseResult, error)
	electricityFn func(ctx context.Context, req services.ElectricityRequest) (services.PurchaseResult, error)
	getFn         func(ctx context.Context, userID, reference string) (models.PurchaseRecord, error)
	historyFn     func(ctx context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error)
}

func (s stubPurchases) Airtime(ctx context.Context, req services.AirtimeRequest) (services.PurchaseResult, error) {
	return s.airtimeFn(ctx, req)
}

func (s stubPurchases) Data(ctx context.Context, req services.DataRequest) (services.PurchaseResult, error) {
	return s.dataFn(ctx, req)
}

func (s stubPurchases) Electricity(ctx context.Context, req services.ElectricityRequest) (services.PurchaseResult, error) {
	return s.electricityFn(ctx, req)
}

func (s stubPurchases) Get(ctx context.Context, userID, reference string) (models.PurchaseRecord, error) {
	return s.getFn(ctx, userID, reference)
}

func (s stubPurchases) History(ctx context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error) {
	return s.historyFn(ctx, userID, service, limit, offset)
}

type stubWallets struct {
	provisionFn func(ctx context.Context, actorID, userID string) (models.Wallet, bool, error)
	fundFn      func(ctx context.Context, req services.FundRequest) (models.Wallet, models.PurchaseRecord, error)
	balanceFn   func(ctx context.Context, userID string) (models.Wallet, error)
	reconcileFn func(ctx context.Context, onlyMismatched bool) ([]store.WalletReconciliation, error)
}

func (s stubWallets) Provision(ctx context.Context, actorID, userID string) (models.Wallet, bool, error) {
	return s.provisionFn(ctx, actorID, userID)
}

func (s stubWallets) Fund(ctx context.Context, req services.FundRequest) (models.Wallet, models.PurchaseRecord, error) {
	return s.fundFn(ctx, req)
}

func (s stubWallets) Balance(ctx context.Context, userID string) (models.Wallet, error) {
	return s.balanceFn(ctx, userID)
}

func (s stubWallets) Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletReconciliation, error) {
	return s.reconcileFn(ctx, onlyMismatched)
}

type stubLimits struct {
	limitsFn func(ctx context.Context, userID string, now time.Time) (policy.LimitsInfo, error)
}

func (s stubLimits) Limits(ctx context.Context, userID string, now time.Time) (policy.LimitsInfo, error) {
	return s.limitsFn(ctx, userID, now)
}

type stubSettings struct {
	snap    settings.Snapshot
	updated *settings.Snapshot
	actor   string
}

func (s *stubSettings) Snapshot(context.Context) (settings.Snapshot, error) {
	return s.snap, nil
}

func (s *stubSettings) Update(_ context.Context, actorID string, fraud, maintenance bool) (settings.Snapshot, error) {
	s.actor = actorID
	s.snap = settings.Snapshot{FraudChecksEnabled: fraud, MaintenanceMode: maintenance}
	s.updated = &s.snap
	return s.snap, nil
}

type stubWebhooks struct {
	processFn func(ctx context.Context, body []byte, signature string) (reconcile.WebhookResult, error)
}

func (s stubWebhooks) Process(ctx context.Context, body []byte, signature string) (reconcile.WebhookResult, error) {
	return s.processFn(ctx, body, signature)
}

type stubSweeper struct {
	runFn func(ctx context.Context, maxAge time.Duration) (reconcile.Stats, error)
}

func (s stubSweeper) Run(ctx context.Context, maxAge time.Duration) (reconcile.Stats, error) {
	return s.runFn(ctx, maxAge)
}

type stubAdminStore struct {
	isAdminFn     func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn     func(ctx context.Context, userID, role string) (bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	grantRoleFn   func(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

type stubAuditStore struct {
	entries []store.AuditEntry
	listFn  func(ctx context.Context, action string, limit, offset int) ([]store.AuditLog, error)
}

func (s *stubAuditStore) Log(_ context.Context, _ store.Execer, entry store.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditStore) List(ctx context.Context, action string, limit, offset int) ([]store.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, action, limit, offset)
}

type stubJournal struct {
	listFn func(ctx context.Context, reference string) ([]models.LedgerEntry, error)
}

func (s stubJournal) ListByReference(ctx context.Context, reference string) ([]models.LedgerEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, reference)
}

type stubUsers map[string]bool

func (s stubUsers) Exists(_ context.Context, userID string) (bool, error) {
	return s[userID], nil
}

// testDeps holds every collaborator; tests override the ones they exercise.
type testDeps struct {
	purchases stubPurchases
	wallets   stubWallets
	limits    stubLimits
	settings  *stubSettings
	webhooks  stubWebhooks
	sweeper   stubSweeper
	admin     stubAdminStore
	audit     *stubAuditStore
	journal   stubJournal
	users     stubUsers
}

func newTestDeps() *testDeps {
	return &testDeps{
		settings: &stubSettings{},
		audit:    &stubAuditStore{},
		users:    stubUsers{},
	}
}

func (d *testDeps) router() http.Handler {
	cfg := config.Config{
		AppEnv:         "test",
		JWTSecret:      "secret",
		AllowedOrigins: "*",
		Sweep:          config.SweepConfig{MaxAge: 10 * time.Minute},
	}
	h := New(fakeTxRunner{}, cfg, d.purchases, d.wallets, d.limits, d.settings, d.webhooks, d.sweeper, d.admin, d.audit, d.journal, d.users, websocket.NewHub(nil, zap.NewNop()), zap.NewNop())
	return h.Routes()
}

// superAdmin makes every caller a super admin.
func superAdmin() stubAdminStore {
	return stubAdminStore{isAdminFn: func(context.Context, string) (bool, bool, error) { return true, true, nil }}
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := auth.GenerateToken("secret", userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func stringPtr(value string) *string {
	return &value
}
