// Package lifecycle implements the license lifecycle engine: the rules
// governing how subscription state, expiry dates, and validation counters
// evolve across trial creation, upgrade, extension, suspension, and payment
// completion. The engine holds no state of its own; all durable state lives
// behind the injected stores, and the only concurrency primitive it relies
// on is the store's per-row atomicity.
package lifecycle

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mark8pips/licensing/internal/model"
)

type UserStore interface {
	GetByID(id int64) (*model.User, error)
	GetByAccountNumber(accountNumber int64) (*model.User, error)
	Create(u *model.User) (*model.User, error)
	CheckIn(id int64, tel model.Telemetry, at time.Time) error
	UpdatePlan(id int64, subscriptionType, status string, expiresAt time.Time) error
	UpdateStatus(id int64, status string) error
	UpdateExpiry(id int64, expiresAt time.Time) error
}

type LicenseStore interface {
	GetByKey(key string) (*model.License, error)
	Create(l *model.License) (*model.License, error)
	RecordValidation(key string, at time.Time) error
	UpdateStatus(key, status string) error
}

type OrderStore interface {
	MarkCompleted(id, method, paymentID string, at time.Time) (bool, error)
}

// ActivityStore is the append-only administrative audit log. The engine
// only ever writes to it.
type ActivityStore interface {
	Append(actor, action, target, detail string) error
}

type Engine struct {
	users         UserStore
	licenses      LicenseStore
	orders        OrderStore
	activity      ActivityStore
	logger        *slog.Logger
	defaultEAName string
	now           func() time.Time
}

type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultEAName sets the product name stamped on auto-issued licenses.
func WithDefaultEAName(name string) Option {
	return func(e *Engine) { e.defaultEAName = name }
}

func New(users UserStore, licenses LicenseStore, orders OrderStore, activity ActivityStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		users:         users,
		licenses:      licenses,
		orders:        orders,
		activity:      activity,
		logger:        logger,
		defaultEAName: "Professional EA",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type RegisterParams struct {
	AccountNumber int64
	TrialType     string // trial_7 or trial_30; empty defaults to trial_30
	Telemetry     model.Telemetry
}

type CheckInResult struct {
	Valid            bool      `json:"valid"`
	Status           string    `json:"status"`
	SubscriptionType string    `json:"subscription_type,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	DaysRemaining    int       `json:"days_remaining"`
	LicenseKey       string    `json:"license_key,omitempty"` // set only when a trial was provisioned
	Message          string    `json:"message"`
}

// RegisterOrCheckIn provisions a trial for an unknown account, or counts a
// check-in and evaluates admission for a known one. Telemetry fields the
// caller did not supply keep their stored values.
func (e *Engine) RegisterOrCheckIn(p RegisterParams) (*CheckInResult, error) {
	now := e.now()

	u, err := e.users.GetByAccountNumber(p.AccountNumber)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return e.registerTrial(p, now)
	}

	if err := e.users.CheckIn(u.ID, p.Telemetry, now); err != nil {
		return nil, err
	}

	// Admission: the expiry check comes before the status check, so an
	// expired-and-suspended account reports "expired".
	if u.ExpiresAt.Before(now) {
		return &CheckInResult{
			Valid:            false,
			Status:           "expired",
			SubscriptionType: u.SubscriptionType,
			ExpiresAt:        u.ExpiresAt,
			Message:          "License expired",
		}, nil
	}
	if u.Status != model.StatusActive && u.Status != model.StatusTrial {
		return &CheckInResult{
			Valid:            false,
			Status:           u.Status,
			SubscriptionType: u.SubscriptionType,
			ExpiresAt:        u.ExpiresAt,
			Message:          "License suspended",
		}, nil
	}
	return &CheckInResult{
		Valid:            true,
		Status:           u.Status,
		SubscriptionType: u.SubscriptionType,
		ExpiresAt:        u.ExpiresAt,
		DaysRemaining:    DaysRemaining(now, u.ExpiresAt),
		Message:          fmt.Sprintf("Welcome back! %s license active", u.SubscriptionType),
	}, nil
}

func (e *Engine) registerTrial(p RegisterParams, now time.Time) (*CheckInResult, error) {
	trialType := p.TrialType
	if trialType == "" {
		trialType = model.SubTrial30
	}
	if trialType != model.SubTrial7 && trialType != model.SubTrial30 {
		return nil, fmt.Errorf("%w: unknown trial type %q", ErrInvalidArgument, trialType)
	}

	expiresAt, err := ExpiryFrom(trialType, now)
	if err != nil {
		return nil, err
	}

	accountNumber := p.AccountNumber
	u, err := e.users.Create(&model.User{
		AccountNumber:    &accountNumber,
		AccountName:      p.Telemetry.AccountName,
		BrokerName:       p.Telemetry.BrokerName,
		AccountBalance:   p.Telemetry.AccountBalance,
		EAVersion:        p.Telemetry.EAVersion,
		MT5Build:         p.Telemetry.MT5Build,
		SubscriptionType: trialType,
		Status:           model.StatusTrial,
		ExpiresAt:        expiresAt,
		ValidationCount:  1,
		LastSeen:         &now,
	})
	if err != nil {
		return nil, err
	}

	key, err := NewLicenseKey(now)
	if err != nil {
		return nil, err
	}
	if _, err := e.licenses.Create(&model.License{
		Key:    key,
		UserID: u.ID,
		EAName: e.defaultEAName,
		Status: model.LicenseActive,
	}); err != nil {
		return nil, err
	}

	days := DaysRemaining(now, expiresAt)
	e.logger.Info("trial provisioned", "account", accountNumber, "trial_type", trialType)
	return &CheckInResult{
		Valid:            true,
		Status:           model.StatusTrial,
		SubscriptionType: trialType,
		ExpiresAt:        expiresAt,
		DaysRemaining:    days,
		LicenseKey:       key,
		Message:          fmt.Sprintf("Welcome! %d-day trial activated", days),
	}, nil
}

type ValidationResult struct {
	ExpiresAt     time.Time `json:"expires_at"`
	DaysRemaining int       `json:"days_remaining"`
	EAName        string    `json:"ea_name"`
}

// ValidateLicense checks a license key against an account number and counts
// the validation. The side effect is at-least-once, but the verdict is a
// pure function of the stored state: not_found, then expired, then
// suspended, then unauthorized_account.
func (e *Engine) ValidateLicense(key string, accountNumber int64) (*ValidationResult, error) {
	now := e.now()

	lic, err := e.licenses.GetByKey(key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fmt.Errorf("%w: license %q", ErrNotFound, key)
	}
	u, err := e.users.GetByID(lic.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: owner of license %q", ErrNotFound, key)
	}

	// Expiry is derived from expires_at at evaluation time and checked
	// before the stored status.
	if u.ExpiresAt.Before(now) {
		return nil, forbidden("expired")
	}
	if lic.Status != model.LicenseActive || u.Status != model.StatusActive {
		return nil, forbidden("suspended")
	}

	switch b := lic.Binding().(type) {
	case model.IssuedBinding:
		if u.AccountNumber == nil || *u.AccountNumber != accountNumber {
			return nil, forbidden("unauthorized_account")
		}
	case model.ManualBinding:
		if !slices.Contains(b.AccountNumbers, accountNumber) {
			return nil, forbidden("unauthorized_account")
		}
	}

	if err := e.licenses.RecordValidation(key, now); err != nil {
		return nil, err
	}
	return &ValidationResult{
		ExpiresAt:     u.ExpiresAt,
		DaysRemaining: DaysRemaining(now, u.ExpiresAt),
		EAName:        lic.EAName,
	}, nil
}

// Upgrade resets the subscription from now using the duration table,
// discarding any remaining time on the prior plan.
func (e *Engine) Upgrade(actor string, accountNumber int64, subscriptionType string) (time.Time, error) {
	now := e.now()
	expiresAt, err := ExpiryFrom(subscriptionType, now)
	if err != nil {
		return time.Time{}, err
	}

	u, err := e.users.GetByAccountNumber(accountNumber)
	if err != nil {
		return time.Time{}, err
	}
	if u == nil {
		return time.Time{}, fmt.Errorf("%w: account %d", ErrNotFound, accountNumber)
	}

	status := model.StatusActive
	if strings.Contains(subscriptionType, "trial") {
		status = model.StatusTrial
	}
	if err := e.users.UpdatePlan(u.ID, subscriptionType, status, expiresAt); err != nil {
		return time.Time{}, err
	}
	e.audit(actor, "upgrade", fmt.Sprintf("account:%d", accountNumber), subscriptionType)
	return expiresAt, nil
}

// Extend advances the expiry by the requested calendar unit from
// max(current expiry, now), so extending an expired account starts the
// clock from now while an active account keeps its remaining time. It
// always reactivates.
func (e *Engine) Extend(actor string, accountNumber int64, days, months int) (time.Time, error) {
	u, err := e.users.GetByAccountNumber(accountNumber)
	if err != nil {
		return time.Time{}, err
	}
	if u == nil {
		return time.Time{}, fmt.Errorf("%w: account %d", ErrNotFound, accountNumber)
	}
	return e.extendUser(actor, u, days, months)
}

// ExtendLicense extends through the license key, for manually issued
// licenses whose owner has no account number.
func (e *Engine) ExtendLicense(actor, key string, days, months int) (time.Time, error) {
	lic, err := e.licenses.GetByKey(key)
	if err != nil {
		return time.Time{}, err
	}
	if lic == nil {
		return time.Time{}, fmt.Errorf("%w: license %q", ErrNotFound, key)
	}
	u, err := e.users.GetByID(lic.UserID)
	if err != nil {
		return time.Time{}, err
	}
	if u == nil {
		return time.Time{}, fmt.Errorf("%w: owner of license %q", ErrNotFound, key)
	}
	return e.extendUser(actor, u, days, months)
}

func (e *Engine) extendUser(actor string, u *model.User, days, months int) (time.Time, error) {
	if days < 0 || months < 0 || (days == 0) == (months == 0) {
		return time.Time{}, fmt.Errorf("%w: specify exactly one of days or months", ErrInvalidArgument)
	}

	now := e.now()
	base := u.ExpiresAt
	if base.Before(now) {
		base = now
	}
	var expiresAt time.Time
	if days > 0 {
		expiresAt = base.AddDate(0, 0, days)
	} else {
		expiresAt = base.AddDate(0, months, 0)
	}

	if err := e.users.UpdateExpiry(u.ID, expiresAt); err != nil {
		return time.Time{}, err
	}
	if err := e.users.UpdateStatus(u.ID, model.StatusActive); err != nil {
		return time.Time{}, err
	}

	detail := fmt.Sprintf("%d days", days)
	if months > 0 {
		detail = fmt.Sprintf("%d months", months)
	}
	e.audit(actor, "extend", fmt.Sprintf("user:%d", u.ID), detail)
	return expiresAt, nil
}

// Suspend flips the account to suspended. Expiry is untouched.
func (e *Engine) Suspend(actor string, accountNumber int64) error {
	return e.setStatus(actor, accountNumber, model.StatusSuspended, "suspend")
}

// Reactivate flips the account back to active. Expiry is untouched.
func (e *Engine) Reactivate(actor string, accountNumber int64) error {
	return e.setStatus(actor, accountNumber, model.StatusActive, "reactivate")
}

func (e *Engine) setStatus(actor string, accountNumber int64, status, action string) error {
	u, err := e.users.GetByAccountNumber(accountNumber)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("%w: account %d", ErrNotFound, accountNumber)
	}
	if err := e.users.UpdateStatus(u.ID, status); err != nil {
		return err
	}
	e.audit(actor, action, fmt.Sprintf("account:%d", accountNumber), "")
	return nil
}

// Revoke marks the license revoked and suspends its owner.
func (e *Engine) Revoke(actor, key string) error {
	lic, err := e.licenses.GetByKey(key)
	if err != nil {
		return err
	}
	if lic == nil {
		return fmt.Errorf("%w: license %q", ErrNotFound, key)
	}
	if err := e.licenses.UpdateStatus(key, model.LicenseRevoked); err != nil {
		return err
	}
	if err := e.users.UpdateStatus(lic.UserID, model.StatusSuspended); err != nil {
		return err
	}
	e.audit(actor, "revoke", "license:"+key, "")
	return nil
}

// EnsurePurchasable returns ErrConflict when the account already holds an
// active, unexpired license. Called before a new order is accepted.
func (e *Engine) EnsurePurchasable(accountNumber int64) error {
	u, err := e.users.GetByAccountNumber(accountNumber)
	if err != nil {
		return err
	}
	if u != nil && u.Status == model.StatusActive && u.ExpiresAt.After(e.now()) {
		return fmt.Errorf("%w: account %d already holds an active license", ErrConflict, accountNumber)
	}
	return nil
}

type IssueResult struct {
	AlreadyProcessed bool
	UserID           int64
	LicenseKey       string // set when a new license was minted
	ExpiresAt        time.Time
}

// IssueFromPayment finalizes a paid order exactly once. The pending ->
// completed transition on the order row is the idempotency guard: a
// redelivered payment event finds the order no longer pending and the call
// becomes a no-op.
func (e *Engine) IssueFromPayment(order *model.Order, method, paymentID string) (*IssueResult, error) {
	now := e.now()

	ok, err := e.orders.MarkCompleted(order.ID, method, paymentID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.logger.Info("order already processed", "order", order.ID)
		return &IssueResult{AlreadyProcessed: true}, nil
	}

	expiresAt, err := ExpiryFrom(order.SubscriptionType, now)
	if err != nil {
		return nil, err
	}

	u, err := e.users.GetByAccountNumber(order.AccountNumber)
	if err != nil {
		return nil, err
	}
	if u != nil {
		// Same reset semantics as Upgrade.
		if err := e.users.UpdatePlan(u.ID, order.SubscriptionType, model.StatusActive, expiresAt); err != nil {
			return nil, err
		}
		return &IssueResult{UserID: u.ID, ExpiresAt: expiresAt}, nil
	}

	accountNumber := order.AccountNumber
	u, err = e.users.Create(&model.User{
		AccountNumber:    &accountNumber,
		Email:            &order.CustomerEmail,
		AccountName:      &order.CustomerName,
		SubscriptionType: order.SubscriptionType,
		Status:           model.StatusActive,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		return nil, err
	}

	eaName := order.ProductName
	if eaName == "" {
		eaName = e.defaultEAName
	}
	key, err := NewLicenseKey(now)
	if err != nil {
		return nil, err
	}
	if _, err := e.licenses.Create(&model.License{
		Key:    key,
		UserID: u.ID,
		EAName: eaName,
		Status: model.LicenseActive,
	}); err != nil {
		return nil, err
	}
	e.logger.Info("license issued from payment", "order", order.ID, "account", order.AccountNumber)
	return &IssueResult{UserID: u.ID, LicenseKey: key, ExpiresAt: expiresAt}, nil
}

// IssueManual mints a license carrying an explicit set of authorized
// account numbers, owned by an email-identified user row so expiry is still
// inherited from a single place.
func (e *Engine) IssueManual(actor, email, eaName string, accountNumbers []int64, subscriptionType string) (*IssueResult, error) {
	if len(accountNumbers) == 0 {
		return nil, fmt.Errorf("%w: at least one account number required", ErrInvalidArgument)
	}

	now := e.now()
	expiresAt, err := ExpiryFrom(subscriptionType, now)
	if err != nil {
		return nil, err
	}

	status := model.StatusActive
	if strings.Contains(subscriptionType, "trial") {
		status = model.StatusTrial
	}
	u, err := e.users.Create(&model.User{
		Email:            &email,
		SubscriptionType: subscriptionType,
		Status:           status,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		return nil, err
	}

	key, err := NewLicenseKey(now)
	if err != nil {
		return nil, err
	}
	if _, err := e.licenses.Create(&model.License{
		Key:            key,
		UserID:         u.ID,
		EAName:         eaName,
		AccountNumbers: accountNumbers,
		Status:         model.LicenseActive,
	}); err != nil {
		return nil, err
	}
	e.audit(actor, "create_license", "license:"+key, fmt.Sprintf("%s for %d accounts", subscriptionType, len(accountNumbers)))
	return &IssueResult{UserID: u.ID, LicenseKey: key, ExpiresAt: expiresAt}, nil
}

func (e *Engine) audit(actor, action, target, detail string) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Append(actor, action, target, detail); err != nil {
		e.logger.Error("append audit entry", "action", action, "error", err)
	}
}
