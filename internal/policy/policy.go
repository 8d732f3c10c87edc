// Package policy decides whether a user may attempt a purchase right now.
// It never mutates state.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prepaid/internal/config"
	"prepaid/internal/money"
	"prepaid/internal/settings"
	"prepaid/internal/store"

	"github.com/shopspring/decimal"
)

var ErrPolicyViolation = errors.New("policy violation")

type Kind string

const (
	KindMaintenance Kind = "maintenance"
	KindSingleLimit Kind = "single_limit"
	KindDailyLimit  Kind = "daily_limit"
	KindHourlyLimit Kind = "hourly_limit"
	KindSuspicious  Kind = "suspicious"
	KindNewAccount  Kind = "new_account"
)

const (
	maxFailedPerDay    = 5
	newAccountWindow   = 5 * time.Minute
	newAccountCeiling  = "1000.00"
	failedLookbackSpan = 24 * time.Hour
)

type Violation struct {
	Kind    Kind
	Message string
}

func (v *Violation) Error() string { return v.Message }

func (v *Violation) Is(target error) bool { return target == ErrPolicyViolation }

func violation(kind Kind, format string, args ...any) *Violation {
	return &Violation{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

type Tier struct {
	Single    decimal.Decimal
	Daily     decimal.Decimal
	HourlyMax int
}

type Config struct {
	Unverified Tier
	Verified   Tier
	Location   *time.Location
}

func ConfigFromLimits(cfg config.LimitsConfig) (Config, error) {
	unverified, err := tierFromConfig(cfg.Unverified)
	if err != nil {
		return Config{}, fmt.Errorf("unverified limits: %w", err)
	}
	verified, err := tierFromConfig(cfg.Verified)
	if err != nil {
		return Config{}, fmt.Errorf("verified limits: %w", err)
	}
	loc := time.UTC
	if cfg.Location != "" {
		loc, err = time.LoadLocation(cfg.Location)
		if err != nil {
			return Config{}, fmt.Errorf("limits location: %w", err)
		}
	}
	return Config{Unverified: unverified, Verified: verified, Location: loc}, nil
}

func tierFromConfig(cfg config.TierLimits) (Tier, error) {
	single, err := money.Parse(cfg.Single)
	if err != nil {
		return Tier{}, err
	}
	daily, err := money.Parse(cfg.Daily)
	if err != nil {
		return Tier{}, err
	}
	return Tier{Single: single, Daily: daily, HourlyMax: cfg.HourlyMax}, nil
}

// History exposes the purchase aggregates the checks are computed from.
type History interface {
	SumCompletedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountFailedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Directory answers the verified-tier and account-age questions.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (store.UserProfile, error)
}

type Evaluator struct {
	history   History
	directory Directory
	cfg       Config
}

func NewEvaluator(history History, directory Directory, cfg Config) *Evaluator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Evaluator{history: history, directory: directory, cfg: cfg}
}

// Evaluate runs the checks in order and returns the first *Violation, or a
// plain error if a lookup failed.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, amount decimal.Decimal, now time.Time, snap settings.Snapshot) error {
	if snap.MaintenanceMode {
		return violation(KindMaintenance, "System is currently under maintenance. Please try again later.")
	}
	if !snap.FraudChecksEnabled {
		return nil
	}

	profile, err := e.directory.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	tier := e.tierFor(profile)

	if amount.GreaterThan(tier.Single) {
		if profile.IsVerified {
			return violation(KindSingleLimit, "Transaction amount exceeds single transaction limit of NGN %s.", money.Format(tier.Single))
		}
		return violation(KindSingleLimit, "Unverified users can only transact up to NGN %s per transaction. Complete verification for higher limits.", money.Format(tier.Single))
	}

	todayTotal, err := e.history.SumCompletedSince(ctx, userID, e.startOfDay(now))
	if err != nil {
		return err
	}
	if todayTotal.Add(amount).GreaterThan(tier.Daily) {
		remaining := decimal.Max(decimal.Zero, tier.Daily.Sub(todayTotal))
		return violation(KindDailyLimit, "Daily limit of NGN %s exceeded. You have NGN %s remaining today.", money.Format(tier.Daily), money.Format(remaining))
	}

	hourly, err := e.history.CountSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if hourly >= tier.HourlyMax {
		return violation(KindHourlyLimit, "Too many transactions in the last hour (%d/%d). Please wait before trying again.", hourly, tier.HourlyMax)
	}

	failed, err := e.history.CountFailedSince(ctx, userID, now.Add(-failedLookbackSpan))
	if err != nil {
		return err
	}
	if failed > maxFailedPerDay {
		return violation(KindSuspicious, "Too many failed transactions in the last 24 hours. Please contact support.")
	}

	if now.Sub(profile.CreatedAt) < newAccountWindow && amount.GreaterThan(decimal.RequireFromString(newAccountCeiling)) {
		return violation(KindNewAccount, "New accounts are limited to NGN %s per transaction for the first few minutes.", newAccountCeiling)
	}
	return nil
}

type LimitsInfo struct {
	IsVerified       bool            `json:"is_verified"`
	SingleLimit      decimal.Decimal `json:"single_limit"`
	DailyLimit       decimal.Decimal `json:"daily_limit"`
	DailyUsed        decimal.Decimal `json:"daily_used"`
	DailyRemaining   decimal.Decimal `json:"daily_remaining"`
	HourlyCountLimit int             `json:"hourly_count_limit"`
}

func (e *Evaluator) Limits(ctx context.Context, userID string, now time.Time) (LimitsInfo, error) {
	profile, err := e.directory.GetProfile(ctx, userID)
	if err != nil {
		return LimitsInfo{}, err
	}
	tier := e.tierFor(profile)
	used, err := e.history.SumCompletedSince(ctx, userID, e.startOfDay(now))
	if err != nil {
		return LimitsInfo{}, err
	}
	return LimitsInfo{
		IsVerified:       profile.IsVerified,
		SingleLimit:      tier.Single,
		DailyLimit:       tier.Daily,
		DailyUsed:        money.Quantize(used),
		DailyRemaining:   decimal.Max(decimal.Zero, tier.Daily.Sub(used)),
		HourlyCountLimit: tier.HourlyMax,
	}, nil
}

func (e *Evaluator) tierFor(profile store.UserProfile) Tier {
	if profile.IsVerified {
		return e.cfg.Verified
	}
	return e.cfg.Unverified
}

func (e *Evaluator) startOfDay(now time.Time) time.Time {
	local := now.In(e.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.cfg.Location)
}
