package billing

import "time"

// ResolveEffectivePlan derives the tier a tenant is entitled to at now.
//
// Active and trialing subscriptions get their recorded tier regardless of the
// end date. A canceled subscription keeps its tier until the paid-through
// date passes. Every other state, and a missing record, resolves to free.
func ResolveEffectivePlan(rec *Record, now time.Time) PlanTier {
	if rec == nil {
		return TierFree
	}

	switch rec.Status {
	case StatusActive, StatusTrialing:
		return orFree(rec.Plan)
	case StatusCanceled:
		if rec.SubscriptionEndDate != nil && rec.SubscriptionEndDate.After(now) {
			return orFree(rec.Plan)
		}
		return TierFree
	default:
		return TierFree
	}
}

// NeedsPlanRepair reports whether the stored tier is stale because a
// cancellation's grace period has elapsed. Callers may persist plan=free;
// skipping the write has no effect on correctness.
func NeedsPlanRepair(rec *Record, now time.Time) bool {
	if rec == nil || rec.Plan == TierFree || rec.Plan == "" {
		return false
	}
	if rec.Status != StatusCanceled && rec.Status != StatusExpired {
		return false
	}
	return rec.SubscriptionEndDate == nil || !rec.SubscriptionEndDate.After(now)
}

func orFree(t PlanTier) PlanTier {
	if t == "" {
		return TierFree
	}
	return t
}
