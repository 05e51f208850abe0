package coordinator

import "time"

// Rate governance scales with how many bots share one credential. The bands
// below step down the per-minute quota and stretch the minimum spacing as a
// credential gets more crowded; emergency mode roughly halves the budget
// again. Band edges are 5/10/20 bots.

// maxRequestsPerMinute returns the per-minute request quota for a credential
// group. Non-increasing in botCount.
func maxRequestsPerMinute(botCount int, emergency bool) int {
	var limit int
	switch {
	case botCount <= 5:
		limit = 30
	case botCount <= 10:
		limit = 20
	case botCount <= 20:
		limit = 12
	default:
		limit = 8
	}
	if emergency {
		limit /= 2
		if limit < 2 {
			limit = 2
		}
	}
	return limit
}

// minInterval returns the minimum spacing between two requests on the same
// credential. Non-decreasing in botCount.
func minInterval(botCount int, emergency bool) time.Duration {
	var interval time.Duration
	switch {
	case botCount <= 5:
		interval = 2 * time.Second
	case botCount <= 10:
		interval = 3 * time.Second
	case botCount <= 20:
		interval = 5 * time.Second
	default:
		interval = 8 * time.Second
	}
	if emergency {
		interval *= 2
	}
	return interval
}

// postRequestDelay is the pause after each successful request: a fixed base
// plus a per-bot increment, so crowded credentials self-throttle.
func postRequestDelay(botCount int, base, perBot time.Duration) time.Duration {
	return base + time.Duration(botCount)*perBot
}

// rateLimitCooldown is how long a credential group stays idle after the
// broker reports a rate limit. Scales with bot count and is capped so one
// noisy credential cannot park itself forever.
func rateLimitCooldown(botCount int) time.Duration {
	cooldown := time.Minute + time.Duration(botCount)*10*time.Second
	if cooldown > 5*time.Minute {
		cooldown = 5 * time.Minute
	}
	return cooldown
}

// Advisory tiers reported by Recommendations.
const (
	TierOptimal    = "optimal"
	TierCrowded    = "crowded"
	TierOverloaded = "overloaded"
)

// advisoryTier classifies a credential's crowding for operators.
func advisoryTier(botCount int) string {
	switch {
	case botCount <= 5:
		return TierOptimal
	case botCount <= 15:
		return TierCrowded
	default:
		return TierOverloaded
	}
}

// advisoryText returns a human recommendation for a tier.
func advisoryText(tier string) string {
	switch tier {
	case TierOptimal:
		return "credential has headroom, no action needed"
	case TierCrowded:
		return "consider moving some bots to another credential to reduce queue latency"
	case TierOverloaded:
		return "credential is overloaded, move bots to other credentials or add a new one"
	default:
		return ""
	}
}
