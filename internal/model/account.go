// Package model defines domain entities for the application.
package model

import "time"

// Tier constants. The tier drives an account's limits.
const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// Tier is an account's service level.
type Tier string

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := TierLimits[t]
	return ok
}

// Limits caps how many generations an account may make.
type Limits struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// TierLimits maps tiers to their limits.
var TierLimits = map[Tier]Limits{
	TierFree:    {Daily: 100, Monthly: 3000},
	TierBasic:   {Daily: 1000, Monthly: 30000},
	TierPremium: {Daily: 10000, Monthly: 300000},
}

// LimitsFor returns the limits of a tier, falling back to the free tier.
func LimitsFor(t Tier) Limits {
	if l, ok := TierLimits[t]; ok {
		return l
	}
	return TierLimits[TierFree]
}

// Account represents a registered API consumer.
type Account struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	KeyPrefix string      `json:"-"`
	KeyHash   string      `json:"-"` // Never serialize
	Tier      Tier        `json:"tier"`
	Limits    Limits      `json:"limits"`
	Usage     Usage       `json:"usage"`
	Monthly   PeriodUsage `json:"monthly"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Usage = a.Usage.clone()
	c.Monthly.PeriodStart = cloneTime(a.Monthly.PeriodStart)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
