package model

// Tier is the subscription level of an account.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierClub    Tier = "club"
)

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{TierFree, TierStarter, TierPro, TierClub}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierClub:
		return true
	default:
		return false
	}
}

// Rank orders tiers; unknown tiers rank below free.
func (t Tier) Rank() int {
	for i, tt := range Tiers {
		if tt == t {
			return i
		}
	}
	return -1
}

// Capability is a feature gated by tier.
type Capability string

const (
	CapabilityVideoAnalysis Capability = "video_analysis"
	CapabilityTrainingPlan  Capability = "training_plan"
)

const (
	// UnlimitedQuota marks a capability without a monthly cap.
	UnlimitedQuota = -1
	// DisabledQuota marks a capability that is not part of the tier.
	DisabledQuota = 0
)

// Entitlement is the tier configuration for one capability.
type Entitlement struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	MonthlyLimit int  `yaml:"monthly_limit" json:"monthly_limit"`
}

// Limit folds Enabled into the quota value used by the ledger.
func (e Entitlement) Limit() int {
	if !e.Enabled {
		return DisabledQuota
	}
	return e.MonthlyLimit
}

// TierTable maps tier -> capability -> entitlement. Loaded once, read-only.
type TierTable map[Tier]map[Capability]Entitlement

// DefaultTierTable is used when the config file carries no tier section.
func DefaultTierTable() TierTable {
	return TierTable{
		TierFree: {
			CapabilityVideoAnalysis: {Enabled: false},
			CapabilityTrainingPlan:  {Enabled: false},
		},
		TierStarter: {
			CapabilityVideoAnalysis: {Enabled: false},
			CapabilityTrainingPlan:  {Enabled: true, MonthlyLimit: 3},
		},
		TierPro: {
			CapabilityVideoAnalysis: {Enabled: true, MonthlyLimit: 5},
			CapabilityTrainingPlan:  {Enabled: true, MonthlyLimit: UnlimitedQuota},
		},
		TierClub: {
			CapabilityVideoAnalysis: {Enabled: true, MonthlyLimit: UnlimitedQuota},
			CapabilityTrainingPlan:  {Enabled: true, MonthlyLimit: UnlimitedQuota},
		},
	}
}

// Entitlement returns the zero (disabled) entitlement for unknown pairs.
func (tt TierTable) Entitlement(tier Tier, c Capability) Entitlement {
	caps, ok := tt[tier]
	if !ok {
		return Entitlement{}
	}
	return caps[c]
}

// MinimumTier returns the lowest tier that enables c.
func (tt TierTable) MinimumTier(c Capability) (Tier, bool) {
	for _, t := range Tiers {
		if tt.Entitlement(t, c).Limit() != DisabledQuota {
			return t, true
		}
	}
	return "", false
}

// NextTierWithMoreQuota returns the lowest tier above `from` whose quota for c
// exceeds the given limit (unlimited counts as more).
func (tt TierTable) NextTierWithMoreQuota(from Tier, c Capability, limit int) (Tier, bool) {
	for _, t := range Tiers {
		if t.Rank() <= from.Rank() {
			continue
		}
		l := tt.Entitlement(t, c).Limit()
		if l == UnlimitedQuota || (limit != UnlimitedQuota && l > limit) {
			return t, true
		}
	}
	return "", false
}
