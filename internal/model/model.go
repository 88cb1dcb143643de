package model

import "time"

// Subscription types.
const (
	SubTrial7   = "trial_7"
	SubTrial30  = "trial_30"
	SubMonthly  = "monthly"
	SubYearly   = "yearly"
	SubLifetime = "lifetime"
)

// User statuses. "expired" is never stored; it is derived from expires_at
// at evaluation time.
const (
	StatusTrial     = "trial"
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// License statuses.
const (
	LicenseActive  = "active"
	LicenseRevoked = "revoked"
)

// Order payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentExpired   = "expired"
)

type User struct {
	ID               int64      `json:"id"`
	AccountNumber    *int64     `json:"account_number"`
	Email            *string    `json:"email,omitempty"`
	AccountName      *string    `json:"account_name,omitempty"`
	BrokerName       *string    `json:"broker_name,omitempty"`
	AccountBalance   *float64   `json:"account_balance,omitempty"`
	EAVersion        *string    `json:"ea_version,omitempty"`
	MT5Build         *string    `json:"mt5_build,omitempty"`
	SubscriptionType string     `json:"subscription_type"`
	Status           string     `json:"status"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ValidationCount  int64      `json:"validation_count"`
	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Telemetry carries the mutable descriptive fields an EA reports on
// check-in. Nil fields were not supplied by the caller and must not
// overwrite stored values.
type Telemetry struct {
	AccountName    *string
	BrokerName     *string
	AccountBalance *float64
	EAVersion      *string
	MT5Build       *string
}

type License struct {
	ID              int64      `json:"id"`
	Key             string     `json:"license_key"`
	UserID          int64      `json:"user_id"`
	EAName          string     `json:"ea_name"`
	AccountNumbers  []int64    `json:"account_numbers,omitempty"`
	Status          string     `json:"status"`
	ValidationCount int64      `json:"validation_count"`
	LastValidation  *time.Time `json:"last_validation,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Binding describes how a license authorizes accounts. EA-issued licenses
// are bound 1:1 to their owning user's account number; manually issued
// licenses carry an explicit set of authorized account numbers.
type Binding interface{ isBinding() }

type IssuedBinding struct{ UserID int64 }

type ManualBinding struct{ AccountNumbers []int64 }

func (IssuedBinding) isBinding() {}
func (ManualBinding) isBinding() {}

// Binding returns the tagged authorization shape of the license.
func (l *License) Binding() Binding {
	if len(l.AccountNumbers) > 0 {
		return ManualBinding{AccountNumbers: l.AccountNumbers}
	}
	return IssuedBinding{UserID: l.UserID}
}

type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	PriceMonthly  float64   `json:"price_monthly"`
	PriceYearly   float64   `json:"price_yearly"`
	PriceLifetime float64   `json:"price_lifetime"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Price returns the price point for a subscription type, or false when the
// type has no price (trials are never sold).
func (p *Product) Price(subscriptionType string) (float64, bool) {
	switch subscriptionType {
	case SubMonthly:
		return p.PriceMonthly, true
	case SubYearly:
		return p.PriceYearly, true
	case SubLifetime:
		return p.PriceLifetime, true
	}
	return 0, false
}

type Order struct {
	ID               string     `json:"id"`
	ProductID        int64      `json:"product_id"`
	ProductName      string     `json:"product_name,omitempty"`
	CustomerName     string     `json:"customer_name"`
	CustomerEmail    string     `json:"customer_email"`
	AccountNumber    int64      `json:"account_number"`
	SubscriptionType string     `json:"subscription_type"`
	Amount           float64    `json:"amount"`
	OriginalAmount   float64    `json:"original_amount"`
	DiscountAmount   float64    `json:"discount_amount"`
	PaymentStatus    string     `json:"payment_status"`
	PaymentMethod    *string    `json:"payment_method,omitempty"`
	PaymentID        *string    `json:"payment_id,omitempty"`
	StripeSessionID  *string    `json:"stripe_session_id,omitempty"`
	ClientIP         *string    `json:"client_ip,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type DownloadToken struct {
	ID            int64     `json:"id"`
	Token         string    `json:"token"`
	OrderID       string    `json:"order_id"`
	AccountNumber int64     `json:"account_number"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

type AdminActivity struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
