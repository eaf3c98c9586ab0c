package model

import "time"

// UsageRecord counts consumption of one capability by one account in the
// current period.
type UsageRecord struct {
	AccountID  string
	Capability Capability
	Used       int
	PeriodEnd  time.Time
	UpdatedAt  time.Time
}

// QuotaCheck is the read-only answer of the usage ledger.
type QuotaCheck struct {
	Allowed bool
	Used    int
	Limit   int
}

// Allows applies the quota rule: unlimited always, disabled never, otherwise
// strictly below the limit.
func Allows(used, limit int) bool {
	switch {
	case limit == UnlimitedQuota:
		return true
	case limit <= DisabledQuota:
		return false
	default:
		return used < limit
	}
}

// PeriodEnd returns the first instant of the month after t, in UTC.
func PeriodEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
