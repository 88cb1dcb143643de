package lifecycle

import (
	"fmt"
	"time"

	"github.com/mark8pips/licensing/internal/model"
)

// LifetimeSentinel is the fixed far-future expiry for lifetime plans.
var LifetimeSentinel = time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)

// ExpiryFrom computes a fresh expiry for a subscription type anchored at
// now. This is the single duration table shared by Upgrade, Extend's trial
// provisioning, and IssueFromPayment. Calendar arithmetic follows
// time.AddDate normalization: day overflow rolls into the next month
// (Jan 31 + 1 month = Mar 2 or 3), applied consistently at every call site.
func ExpiryFrom(subscriptionType string, now time.Time) (time.Time, error) {
	switch subscriptionType {
	case model.SubTrial7:
		return now.AddDate(0, 0, 7), nil
	case model.SubTrial30:
		return now.AddDate(0, 0, 30), nil
	case model.SubMonthly:
		return now.AddDate(0, 1, 0), nil
	case model.SubYearly:
		return now.AddDate(1, 0, 0), nil
	case model.SubLifetime:
		return LifetimeSentinel, nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown subscription type %q", ErrInvalidArgument, subscriptionType)
}

// DaysRemaining reports ceil((expiresAt - now) / 24h), never negative.
func DaysRemaining(now, expiresAt time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
