package lifecycle

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark8pips/licensing/internal/model"
)

type fakeUsers struct {
	nextID int64
	users  map[int64]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{nextID: 1, users: make(map[int64]*model.User)}
}

func (f *fakeUsers) GetByID(id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByAccountNumber(accountNumber int64) (*model.User, error) {
	for _, u := range f.users {
		if u.AccountNumber != nil && *u.AccountNumber == accountNumber {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) Create(u *model.User) (*model.User, error) {
	cp := *u
	cp.ID = f.nextID
	f.nextID++
	f.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeUsers) CheckIn(id int64, tel model.Telemetry, at time.Time) error {
	u := f.users[id]
	if tel.AccountName != nil {
		u.AccountName = tel.AccountName
	}
	if tel.BrokerName != nil {
		u.BrokerName = tel.BrokerName
	}
	if tel.AccountBalance != nil {
		u.AccountBalance = tel.AccountBalance
	}
	if tel.EAVersion != nil {
		u.EAVersion = tel.EAVersion
	}
	if tel.MT5Build != nil {
		u.MT5Build = tel.MT5Build
	}
	u.ValidationCount++
	u.LastSeen = &at
	return nil
}

func (f *fakeUsers) UpdatePlan(id int64, subscriptionType, status string, expiresAt time.Time) error {
	u := f.users[id]
	u.SubscriptionType = subscriptionType
	u.Status = status
	u.ExpiresAt = expiresAt
	return nil
}

func (f *fakeUsers) UpdateStatus(id int64, status string) error {
	f.users[id].Status = status
	return nil
}

func (f *fakeUsers) UpdateExpiry(id int64, expiresAt time.Time) error {
	f.users[id].ExpiresAt = expiresAt
	return nil
}

type fakeLicenses struct {
	nextID   int64
	licenses map[string]*model.License
}

func newFakeLicenses() *fakeLicenses {
	return &fakeLicenses{nextID: 1, licenses: make(map[string]*model.License)}
}

func (f *fakeLicenses) GetByKey(key string) (*model.License, error) {
	l, ok := f.licenses[key]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLicenses) Create(l *model.License) (*model.License, error) {
	cp := *l
	cp.ID = f.nextID
	f.nextID++
	f.licenses[cp.Key] = &cp
	out := cp
	return &out, nil
}

func (f *fakeLicenses) RecordValidation(key string, at time.Time) error {
	l := f.licenses[key]
	l.ValidationCount++
	l.LastValidation = &at
	return nil
}

func (f *fakeLicenses) UpdateStatus(key, status string) error {
	f.licenses[key].Status = status
	return nil
}

type fakeOrders struct {
	statuses map[string]string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{statuses: make(map[string]string)}
}

func (f *fakeOrders) add(id string) {
	f.statuses[id] = model.PaymentPending
}

func (f *fakeOrders) MarkCompleted(id, method, paymentID string, at time.Time) (bool, error) {
	if f.statuses[id] != model.PaymentPending {
		return false, nil
	}
	f.statuses[id] = model.PaymentCompleted
	return true, nil
}

type fakeActivity struct {
	entries []model.AdminActivity
}

func (f *fakeActivity) Append(actor, action, target, detail string) error {
	f.entries = append(f.entries, model.AdminActivity{Actor: actor, Action: action, Target: target, Detail: detail})
	return nil
}

type fixture struct {
	engine   *Engine
	users    *fakeUsers
	licenses *fakeLicenses
	orders   *fakeOrders
	activity *fakeActivity
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    newFakeUsers(),
		licenses: newFakeLicenses(),
		orders:   newFakeOrders(),
		activity: &fakeActivity{},
		now:      time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.users, f.licenses, f.orders, f.activity,
		slog.New(slog.DiscardHandler),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestRegisterProvisionsDefaultTrial(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !res.Valid {
		t.Error("expected valid result")
	}
	if res.Status != model.StatusTrial {
		t.Errorf("status = %q, want trial", res.Status)
	}
	if res.SubscriptionType != model.SubTrial30 {
		t.Errorf("subscription type = %q, want trial_30", res.SubscriptionType)
	}
	if res.DaysRemaining != 30 {
		t.Errorf("days remaining = %d, want 30", res.DaysRemaining)
	}
	if want := f.now.AddDate(0, 0, 30); !res.ExpiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v", res.ExpiresAt, want)
	}
	if res.LicenseKey == "" {
		t.Error("expected a license key on first registration")
	}
	if !strings.HasPrefix(res.LicenseKey, "EA-") {
		t.Errorf("license key %q missing EA- prefix", res.LicenseKey)
	}
}

func TestRegisterTwiceKeepsSingleLicense(t *testing.T) {
	f := newFixture(t)

	first, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	second, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.LicenseKey != "" {
		t.Errorf("second check-in minted a license key %q", second.LicenseKey)
	}
	if !second.Valid {
		t.Error("expected second check-in to be valid")
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Errorf("expiry changed on check-in: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}
	if len(f.licenses.licenses) != 1 {
		t.Errorf("license count = %d, want 1", len(f.licenses.licenses))
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	if u.ValidationCount != 2 {
		t.Errorf("validation count = %d, want 2", u.ValidationCount)
	}
}

func TestCheckInSevenDayTrial(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 2000002, TrialType: model.SubTrial7})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.DaysRemaining != 7 {
		t.Errorf("days remaining = %d, want 7", res.DaysRemaining)
	}
}

func TestCheckInRejectsUnknownTrialType(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001, TrialType: "trial_90"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCheckInExpiredBeatsSuspended(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.engine.Suspend("admin", 1000001); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	f.advance(31 * 24 * time.Hour)

	res, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid result")
	}
	if res.Status != "expired" {
		t.Errorf("status = %q, want expired (expiry checked before suspension)", res.Status)
	}
}

func TestCheckInSuspended(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.engine.Suspend("admin", 1000001); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	res, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.Valid {
		t.Error("expected invalid result")
	}
	if res.Status != model.StatusSuspended {
		t.Errorf("status = %q, want suspended", res.Status)
	}
}

func TestValidateLicenseIssuedBinding(t *testing.T) {
	f := newFixture(t)

	reg, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := f.engine.ValidateLicense(reg.LicenseKey, 1000001)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.DaysRemaining != 30 {
		t.Errorf("days remaining = %d, want 30", res.DaysRemaining)
	}

	_, err = f.engine.ValidateLicense(reg.LicenseKey, 9999999)
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "unauthorized_account" {
		t.Errorf("err = %v, want forbidden unauthorized_account", err)
	}

	lic, _ := f.licenses.GetByKey(reg.LicenseKey)
	if lic.ValidationCount != 1 {
		t.Errorf("validation count = %d, want 1 (denied attempts do not count)", lic.ValidationCount)
	}
}

func TestValidateLicenseNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ValidateLicense("EA-0-NOPE", 1000001)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestValidateLicenseExpiredBeatsSuspended(t *testing.T) {
	f := newFixture(t)

	reg, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.engine.Suspend("admin", 1000001); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	f.advance(31 * 24 * time.Hour)

	_, err = f.engine.ValidateLicense(reg.LicenseKey, 1000001)
	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}
	if fe.Reason != "expired" {
		t.Errorf("reason = %q, want expired", fe.Reason)
	}
}

func TestValidateLicenseSuspended(t *testing.T) {
	f := newFixture(t)

	reg, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.engine.Upgrade("admin", 1000001, model.SubMonthly); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if err := f.engine.Suspend("admin", 1000001); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	_, err = f.engine.ValidateLicense(reg.LicenseKey, 1000001)
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "suspended" {
		t.Errorf("err = %v, want forbidden suspended", err)
	}
}

func TestValidateLicenseTrialStatusDenied(t *testing.T) {
	// Key validation requires a paid, active plan; trial accounts are
	// admitted through check-in only.
	f := newFixture(t)

	reg, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = f.engine.ValidateLicense(reg.LicenseKey, 1000001)
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "suspended" {
		t.Errorf("err = %v, want forbidden suspended", err)
	}
}

func TestValidateLicenseManualBinding(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.IssueManual("admin", "buyer@example.com", "Professional EA", []int64{1000001, 1000002}, model.SubYearly)
	if err != nil {
		t.Fatalf("issue manual: %v", err)
	}

	for _, acct := range []int64{1000001, 1000002} {
		if _, err := f.engine.ValidateLicense(res.LicenseKey, acct); err != nil {
			t.Errorf("validate account %d: %v", acct, err)
		}
	}

	_, err = f.engine.ValidateLicense(res.LicenseKey, 1000003)
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "unauthorized_account" {
		t.Errorf("err = %v, want forbidden unauthorized_account", err)
	}
}

func TestValidateLicenseRevoked(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.IssueManual("admin", "buyer@example.com", "Professional EA", []int64{1000001}, model.SubYearly)
	if err != nil {
		t.Fatalf("issue manual: %v", err)
	}
	if err := f.engine.Revoke("admin", res.LicenseKey); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, err = f.engine.ValidateLicense(res.LicenseKey, 1000001)
	var fe *ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != "suspended" {
		t.Errorf("err = %v, want forbidden suspended", err)
	}
}

func TestUpgradeResetsFromNow(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.advance(10 * 24 * time.Hour)

	expiresAt, err := f.engine.Upgrade("admin", 1000001, model.SubMonthly)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if want := f.now.AddDate(0, 1, 0); !expiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v (one month from now, remaining trial discarded)", expiresAt, want)
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	if u.Status != model.StatusActive {
		t.Errorf("status = %q, want active", u.Status)
	}
	if u.SubscriptionType != model.SubMonthly {
		t.Errorf("subscription type = %q, want monthly", u.SubscriptionType)
	}
}

func TestUpgradeLifetimeSentinel(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	expiresAt, err := f.engine.Upgrade("admin", 1000001, model.SubLifetime)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if !expiresAt.Equal(LifetimeSentinel) {
		t.Errorf("expires at = %v, want lifetime sentinel %v", expiresAt, LifetimeSentinel)
	}
}

func TestUpgradeUnknownType(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := f.engine.Upgrade("admin", 1000001, "weekly")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestExtendExpiredAccountStartsFromNow(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	// 30-day trial, then 35 days pass: expired 5 days ago.
	f.advance(35 * 24 * time.Hour)

	expiresAt, err := f.engine.Extend("admin", 1000001, 10, 0)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := f.now.AddDate(0, 0, 10); !expiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v (10 days from now, not from old expiry)", expiresAt, want)
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	if u.Status != model.StatusActive {
		t.Errorf("status = %q, want active (extend reactivates)", u.Status)
	}
}

func TestExtendActiveAccountKeepsRemainingTime(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	oldExpiry := u.ExpiresAt
	// 10 days in, 20 days left on the trial.
	f.advance(10 * 24 * time.Hour)

	expiresAt, err := f.engine.Extend("admin", 1000001, 0, 1)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := oldExpiry.AddDate(0, 1, 0); !expiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v (one month past current expiry)", expiresAt, want)
	}
}

func TestExtendMonotonic(t *testing.T) {
	// Extending never moves the expiry backwards, expired or not.
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, advance := range []time.Duration{0, 40 * 24 * time.Hour, 0, 400 * 24 * time.Hour} {
		f.advance(advance)
		u, _ := f.users.GetByAccountNumber(1000001)
		before := u.ExpiresAt
		after, err := f.engine.Extend("admin", 1000001, 7, 0)
		if err != nil {
			t.Fatalf("extend: %v", err)
		}
		if !after.After(before) {
			t.Errorf("extend moved expiry %v -> %v", before, after)
		}
	}
}

func TestExtendRequiresExactlyOneUnit(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, tc := range []struct{ days, months int }{
		{0, 0}, {5, 1}, {-3, 0}, {0, -1},
	} {
		if _, err := f.engine.Extend("admin", 1000001, tc.days, tc.months); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Extend(days=%d, months=%d) err = %v, want ErrInvalidArgument", tc.days, tc.months, err)
		}
	}
}

func TestExtendLicenseByKey(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.IssueManual("admin", "buyer@example.com", "Professional EA", []int64{1000001}, model.SubMonthly)
	if err != nil {
		t.Fatalf("issue manual: %v", err)
	}

	expiresAt, err := f.engine.ExtendLicense("admin", res.LicenseKey, 0, 1)
	if err != nil {
		t.Fatalf("extend license: %v", err)
	}
	if want := res.ExpiresAt.AddDate(0, 1, 0); !expiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v", expiresAt, want)
	}
}

func TestSuspendReactivate(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	oldExpiry := u.ExpiresAt

	if err := f.engine.Suspend("admin", 1000001); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	u, _ = f.users.GetByAccountNumber(1000001)
	if u.Status != model.StatusSuspended {
		t.Errorf("status = %q, want suspended", u.Status)
	}
	if !u.ExpiresAt.Equal(oldExpiry) {
		t.Error("suspend changed expiry")
	}

	if err := f.engine.Reactivate("admin", 1000001); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	u, _ = f.users.GetByAccountNumber(1000001)
	if u.Status != model.StatusActive {
		t.Errorf("status = %q, want active", u.Status)
	}
	if !u.ExpiresAt.Equal(oldExpiry) {
		t.Error("reactivate changed expiry")
	}
}

func TestSuspendUnknownAccount(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Suspend("admin", 555); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIssueFromPaymentNewAccount(t *testing.T) {
	f := newFixture(t)
	f.orders.add("ORD-1")

	order := &model.Order{
		ID:               "ORD-1",
		ProductName:      "Gold Scalper Pro",
		CustomerName:     "Jane Trader",
		CustomerEmail:    "jane@example.com",
		AccountNumber:    3000003,
		SubscriptionType: model.SubYearly,
	}
	res, err := f.engine.IssueFromPayment(order, "stripe", "pi_123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.AlreadyProcessed {
		t.Error("fresh order reported as already processed")
	}
	if res.LicenseKey == "" {
		t.Error("expected a new license key for an unknown account")
	}
	if want := f.now.AddDate(1, 0, 0); !res.ExpiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v", res.ExpiresAt, want)
	}
	u, _ := f.users.GetByAccountNumber(3000003)
	if u == nil {
		t.Fatal("user not created")
	}
	if u.Status != model.StatusActive {
		t.Errorf("status = %q, want active", u.Status)
	}
	lic, _ := f.licenses.GetByKey(res.LicenseKey)
	if lic == nil || lic.EAName != "Gold Scalper Pro" {
		t.Errorf("license ea_name = %v, want the order's product name", lic)
	}
}

func TestIssueFromPaymentExistingAccountUpgrades(t *testing.T) {
	f := newFixture(t)
	f.orders.add("ORD-1")

	reg, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	order := &model.Order{
		ID:               "ORD-1",
		CustomerEmail:    "jane@example.com",
		AccountNumber:    1000001,
		SubscriptionType: model.SubMonthly,
	}
	res, err := f.engine.IssueFromPayment(order, "stripe", "pi_123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.LicenseKey != "" {
		t.Errorf("existing account got a second license key %q", res.LicenseKey)
	}
	if len(f.licenses.licenses) != 1 {
		t.Errorf("license count = %d, want 1", len(f.licenses.licenses))
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	if u.SubscriptionType != model.SubMonthly {
		t.Errorf("subscription type = %q, want monthly", u.SubscriptionType)
	}
	if u.Status != model.StatusActive {
		t.Errorf("status = %q, want active", u.Status)
	}
	// The existing trial license now rides the paid plan.
	if _, err := f.engine.ValidateLicense(reg.LicenseKey, 1000001); err != nil {
		t.Errorf("validate after payment: %v", err)
	}
}

func TestIssueFromPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	f.orders.add("ORD-1")

	order := &model.Order{
		ID:               "ORD-1",
		CustomerEmail:    "jane@example.com",
		AccountNumber:    3000003,
		SubscriptionType: model.SubMonthly,
	}
	first, err := f.engine.IssueFromPayment(order, "stripe", "pi_123")
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	u, _ := f.users.GetByAccountNumber(3000003)
	expiry := u.ExpiresAt

	f.advance(3 * 24 * time.Hour)
	second, err := f.engine.IssueFromPayment(order, "stripe", "pi_123")
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Error("redelivered payment not reported as already processed")
	}
	if second.LicenseKey != "" {
		t.Error("redelivered payment minted a license")
	}
	u, _ = f.users.GetByAccountNumber(3000003)
	if !u.ExpiresAt.Equal(expiry) {
		t.Errorf("redelivery moved expiry %v -> %v", expiry, u.ExpiresAt)
	}
	if len(f.licenses.licenses) != 1 {
		t.Errorf("license count = %d, want 1", len(f.licenses.licenses))
	}
	_ = first
}

func TestEnsurePurchasable(t *testing.T) {
	f := newFixture(t)

	// Unknown account: fine.
	if err := f.engine.EnsurePurchasable(1000001); err != nil {
		t.Errorf("unknown account: %v", err)
	}

	// Trial account: fine, trials may buy.
	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.engine.EnsurePurchasable(1000001); err != nil {
		t.Errorf("trial account: %v", err)
	}

	// Active paid account: conflict.
	if _, err := f.engine.Upgrade("admin", 1000001, model.SubYearly); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if err := f.engine.EnsurePurchasable(1000001); !errors.Is(err, ErrConflict) {
		t.Errorf("active account err = %v, want ErrConflict", err)
	}

	// Expired paid account: fine again.
	f.advance(366 * 24 * time.Hour)
	if err := f.engine.EnsurePurchasable(1000001); err != nil {
		t.Errorf("expired account: %v", err)
	}
}

func TestRevokeSuspendsOwner(t *testing.T) {
	f := newFixture(t)

	reg, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.engine.Revoke("admin", reg.LicenseKey); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	lic, _ := f.licenses.GetByKey(reg.LicenseKey)
	if lic.Status != model.LicenseRevoked {
		t.Errorf("license status = %q, want revoked", lic.Status)
	}
	u, _ := f.users.GetByAccountNumber(1000001)
	if u.Status != model.StatusSuspended {
		t.Errorf("user status = %q, want suspended", u.Status)
	}
}

func TestIssueManualRequiresAccounts(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.IssueManual("admin", "x@example.com", "Professional EA", nil, model.SubYearly)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RegisterOrCheckIn(RegisterParams{AccountNumber: 1000001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.engine.Upgrade("admin", 1000001, model.SubMonthly); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if err := f.engine.Suspend("admin", 1000001); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if len(f.activity.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(f.activity.entries))
	}
	if f.activity.entries[0].Action != "upgrade" || f.activity.entries[1].Action != "suspend" {
		t.Errorf("actions = %q, %q", f.activity.entries[0].Action, f.activity.entries[1].Action)
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name string
		at   time.Time
		want int
	}{
		{"exact days", now.AddDate(0, 0, 30), 30},
		{"partial day rounds up", now.Add(25 * time.Hour), 2},
		{"just under a day", now.Add(23 * time.Hour), 1},
		{"already expired", now.Add(-time.Hour), 0},
		{"exactly now", now, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := DaysRemaining(now, tc.at); got != tc.want {
				t.Errorf("DaysRemaining = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestExpiryFromMonthRollover(t *testing.T) {
	// AddDate normalization: Jan 31 + 1 month lands in early March.
	jan31 := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	got, err := ExpiryFrom(model.SubMonthly, jan31)
	if err != nil {
		t.Fatalf("ExpiryFrom: %v", err)
	}
	if want := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expiry = %v, want %v", got, want)
	}
}
