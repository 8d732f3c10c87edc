package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"prepaid/internal/catalog"
	"prepaid/internal/db"
	"prepaid/internal/ledger"
	"prepaid/internal/models"
	"prepaid/internal/money"
	"prepaid/internal/provider"
	"prepaid/internal/store"
	"prepaid/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	prefixAirtime     = "VTU"
	prefixData        = "DATA"
	prefixElectricity = "ELEC"
	prefixFunding     = "FUND"

	verifySuccessCode = "000"
)

// PurchaseService drives reserve, fulfill and finalize for every service
// line. The provider is never called while a wallet lock is held.
type PurchaseService struct {
	txRunner  db.TxRunner
	stores    Stores
	gateway   Gateway
	policy    PolicyEvaluator
	settings  SettingsSource
	finalizer *Finalizer
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
}

func NewPurchaseService(txRunner db.TxRunner, stores Stores, gateway Gateway, policy PolicyEvaluator, settings SettingsSource, finalizer *Finalizer, notifier Notifier, logger *zap.Logger) *PurchaseService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseService{
		txRunner:  txRunner,
		stores:    stores,
		gateway:   gateway,
		policy:    policy,
		settings:  settings,
		finalizer: finalizer,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

type AirtimeRequest struct {
	UserID  string
	Network string
	Phone   string
	Amount  decimal.Decimal
}

type DataRequest struct {
	UserID   string
	Network  string
	Phone    string
	PlanCode string
}

type ElectricityRequest struct {
	UserID      string
	Disco       string
	MeterNumber string
	MeterType   string
	Phone       string
	Amount      decimal.Decimal
}

type PurchaseResult struct {
	Record   models.PurchaseRecord
	Balance  decimal.Decimal
	Provider json.RawMessage
	// Message is the provider's description when it gave one.
	Message string
	// CustomerName comes from meter verification.
	CustomerName string
}

type order struct {
	userID      string
	service     string
	prefix      string
	description string
	amount      decimal.Decimal
	request     provider.PurchaseRequest
	verify      *verification
}

type verification struct {
	serviceID string
	target    string
	subtype   string
}

func (s *PurchaseService) Airtime(ctx context.Context, req AirtimeRequest) (PurchaseResult, error) {
	serviceID, ok := catalog.AirtimeServiceID(req.Network)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: unsupported network %q", ErrInvalidProduct, req.Network)
	}
	phone := validator.NormalizePhone(req.Phone)
	if err := validator.ValidatePhone(phone); err != nil {
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return s.execute(ctx, order{
		userID:      req.UserID,
		service:     models.ServiceAirtime,
		prefix:      prefixAirtime,
		description: fmt.Sprintf("Airtime %s %s to %s", strings.ToUpper(req.Network), money.Format(req.Amount), phone),
		amount:      req.Amount,
		request: provider.PurchaseRequest{
			ServiceID: serviceID,
			Amount:    req.Amount,
			Phone:     phone,
		},
	})
}

// Data resolves the plan code to its catalog price; the caller never sets
// the amount.
func (s *PurchaseService) Data(ctx context.Context, req DataRequest) (PurchaseResult, error) {
	serviceID, ok := catalog.DataServiceID(req.Network)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: unsupported network %q", ErrInvalidProduct, req.Network)
	}
	plan, ok := catalog.FindPlan(req.Network, req.PlanCode)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: unknown data plan %q", ErrInvalidProduct, req.PlanCode)
	}
	phone := validator.NormalizePhone(req.Phone)
	if err := validator.ValidatePhone(phone); err != nil {
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return s.execute(ctx, order{
		userID:      req.UserID,
		service:     models.ServiceData,
		prefix:      prefixData,
		description: fmt.Sprintf("Data %s %s for %s", strings.ToUpper(req.Network), plan.Name, phone),
		amount:      plan.Amount,
		request: provider.PurchaseRequest{
			ServiceID:     serviceID,
			Amount:        plan.Amount,
			Phone:         phone,
			VariationCode: plan.Code,
		},
	})
}

func (s *PurchaseService) Electricity(ctx context.Context, req ElectricityRequest) (PurchaseResult, error) {
	serviceID, ok := catalog.DistributorServiceID(req.Disco)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: unsupported distributor %q", ErrInvalidProduct, req.Disco)
	}
	meterType := strings.ToLower(strings.TrimSpace(req.MeterType))
	if !catalog.ValidMeterType(meterType) {
		return PurchaseResult{}, fmt.Errorf("%w: meter type must be prepaid or postpaid", ErrInvalidTarget)
	}
	meter := strings.TrimSpace(req.MeterNumber)
	if err := validator.ValidateMeterNumber(meter); err != nil {
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	phone := validator.NormalizePhone(req.Phone)
	if err := validator.ValidatePhone(phone); err != nil {
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return s.execute(ctx, order{
		userID:      req.UserID,
		service:     models.ServiceElectricity,
		prefix:      prefixElectricity,
		description: fmt.Sprintf("Electricity %s %s meter %s", strings.ToUpper(req.Disco), meterType, meter),
		amount:      req.Amount,
		request: provider.PurchaseRequest{
			ServiceID:     serviceID,
			Amount:        req.Amount,
			Phone:         phone,
			BillersCode:   meter,
			VariationCode: meterType,
		},
		verify: &verification{serviceID: serviceID, target: meter, subtype: meterType},
	})
}

func (s *PurchaseService) execute(ctx context.Context, o order) (PurchaseResult, error) {
	if !money.ValidTransaction(o.amount) {
		return PurchaseResult{}, ledger.ErrInvalidAmount
	}
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return PurchaseResult{}, err
	}
	if err := s.policy.Evaluate(ctx, o.userID, o.amount, s.now(), snap); err != nil {
		return PurchaseResult{}, err
	}

	var customerName string
	if o.verify != nil {
		customerName, err = s.verifyTarget(ctx, *o.verify)
		if err != nil {
			return PurchaseResult{}, err
		}
	}

	reference := newReference(o.prefix, o.userID)
	record, wallet, err := s.reserve(ctx, o, reference)
	if err != nil {
		return PurchaseResult{}, err
	}
	s.notifier.BroadcastBalance(o.userID, balanceUpdate(wallet, wallet.Balance))

	// Once the debit is committed the provider call and its finalize run to
	// completion even if the caller goes away; the gateway bounds them.
	ctx = context.WithoutCancel(ctx)
	o.request.Reference = reference
	res, err := s.gateway.Purchase(ctx, o.request)
	if err != nil {
		// Ownership of the outcome passes to the webhook and the sweep.
		s.logger.Warn("provider purchase failed, leaving record pending",
			zap.String("reference", reference),
			zap.String("service", o.service),
			zap.Error(err))
		var raw json.RawMessage
		var perr *provider.Error
		if errors.As(err, &perr) && json.Valid(perr.Raw) {
			raw = perr.Raw
		}
		return PurchaseResult{
			Record:       record,
			Balance:      wallet.Balance,
			Provider:     raw,
			Message:      "Awaiting provider confirmation",
			CustomerName: customerName,
		}, nil
	}

	settled, err := s.finalizer.Finalize(ctx, reference, Decision{
		Outcome:        res.Outcome(),
		ProviderStatus: statusEcho(res),
		Token:          res.Token,
		Raw:            res.Raw,
		Source:         SourcePurchase,
		ActorID:        o.userID,
	})
	if err != nil {
		return PurchaseResult{Record: record, Balance: wallet.Balance, Provider: res.Raw}, err
	}
	return PurchaseResult{
		Record:       settled.Record,
		Balance:      settled.Balance,
		Provider:     res.Raw,
		Message:      res.Description,
		CustomerName: customerName,
	}, nil
}

func (s *PurchaseService) verifyTarget(ctx context.Context, v verification) (string, error) {
	res, err := s.gateway.VerifyTarget(ctx, v.serviceID, v.target, v.subtype)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTargetVerificationFailed, err)
	}
	if res.Code != verifySuccessCode {
		desc := res.Description
		if desc == "" {
			desc = "Meter verification failed."
		}
		return "", fmt.Errorf("%w: %s", ErrTargetVerificationFailed, desc)
	}
	var body struct {
		Content struct {
			CustomerName string `json:"Customer_Name"`
			Error        string `json:"error"`
		} `json:"content"`
	}
	if json.Unmarshal(res.Raw, &body) == nil && body.Content.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrTargetVerificationFailed, body.Content.Error)
	}
	return body.Content.CustomerName, nil
}

// reserve debits the wallet and opens the pending record in one locked
// transaction.
func (s *PurchaseService) reserve(ctx context.Context, o order, reference string) (models.PurchaseRecord, models.Wallet, error) {
	var record models.PurchaseRecord
	var wallet models.Wallet
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.stores.Wallets.GetByUserForUpdate(ctx, tx, o.userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		balance, err := ledger.Debit(locked.Balance, o.amount)
		if err != nil {
			return err
		}
		if err := s.stores.Wallets.UpdateBalance(ctx, tx, locked.ID, balance); err != nil {
			return err
		}
		now := s.now().UTC()
		record = models.PurchaseRecord{
			ID:          uuid.NewString(),
			WalletID:    locked.ID,
			UserID:      o.userID,
			Kind:        models.KindPurchase,
			Service:     o.service,
			Amount:      o.amount,
			Description: o.description,
			Reference:   reference,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.stores.Purchases.Create(ctx, tx, store.PurchaseInput{
			ID:          record.ID,
			WalletID:    record.WalletID,
			Kind:        record.Kind,
			Service:     record.Service,
			Amount:      record.Amount,
			Description: record.Description,
			Reference:   record.Reference,
			Status:      record.Status,
		}); err != nil {
			return err
		}
		if err := s.stores.Journal.Append(ctx, tx, store.LedgerEntryInput{
			ID:           uuid.NewString(),
			WalletID:     locked.ID,
			Reference:    reference,
			Amount:       o.amount.Neg(),
			BalanceAfter: balance,
			Description:  o.description,
		}); err != nil {
			return err
		}
		locked.Balance = balance
		wallet = locked
		return nil
	})
	return record, wallet, err
}

func (s *PurchaseService) Get(ctx context.Context, userID, reference string) (models.PurchaseRecord, error) {
	record, err := s.stores.Purchases.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.PurchaseRecord{}, ErrRecordNotFound
		}
		return models.PurchaseRecord{}, err
	}
	if record.UserID != userID {
		return models.PurchaseRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (s *PurchaseService) History(ctx context.Context, userID, service string, limit, offset int) ([]models.PurchaseRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.stores.Purchases.ListByUser(ctx, userID, service, limit, offset)
}

// statusEcho is what gets stored as provider_status: the transaction status
// when there is one, else the response code.
func statusEcho(res provider.Result) string {
	if res.Status != "" {
		return res.Status
	}
	return res.Code
}

func newReference(prefix, userID string) string {
	return prefix + "-" + userID + "-" + ulid.Make().String()
}
