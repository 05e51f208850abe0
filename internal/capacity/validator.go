package capacity

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// The capacity validator enforces how many active, trading-enabled bots
// may share one broker credential. It is a pure synchronous read over the
// bot directory: a hard ceiling rejects, a lower watermark warns.

// Config holds capacity thresholds. Zero values get defaults.
type Config struct {
	MaxBotsPerCredential int `json:"max_bots_per_credential"`
	WarningThreshold     int `json:"warning_threshold"`
}

// DefaultConfig returns production thresholds.
func DefaultConfig() *Config {
	return &Config{
		MaxBotsPerCredential: 8,
		WarningThreshold:     5,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.MaxBotsPerCredential == 0 {
		out.MaxBotsPerCredential = def.MaxBotsPerCredential
	}
	if out.WarningThreshold == 0 {
		out.WarningThreshold = def.WarningThreshold
	}
	return &out
}

// BotDirectory is the read-only slice of bot bookkeeping the validator
// needs: how many active trading bots use a credential, and which
// credentials a user owns.
type BotDirectory interface {
	ActiveBotCount(ctx context.Context, credentialID string) (int, error)
	UserCredentials(ctx context.Context, userID string) ([]string, error)
}

// Validation is the outcome of a bot-creation check.
type Validation struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	CurrentCount   int    `json:"current_count"`
	MaxAllowed     int    `json:"max_allowed"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Credential usage statuses.
const (
	StatusOptimal  = "optimal"
	StatusWarning  = "warning"
	StatusCritical = "critical"
	StatusBlocked  = "blocked"
)

// CredentialUsage describes one credential's crowding.
type CredentialUsage struct {
	CredentialID   string `json:"credential_id"`
	BotCount       int    `json:"bot_count"`
	MaxAllowed     int    `json:"max_allowed"`
	Remaining      int    `json:"remaining"`
	Status         string `json:"status"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Alternative is a candidate credential for placing a new bot.
type Alternative struct {
	CredentialID string `json:"credential_id"`
	BotCount     int    `json:"bot_count"`
	Remaining    int    `json:"remaining"`
}

// Suggestion ranks a user's other credentials by remaining capacity.
type Suggestion struct {
	Alternatives          []Alternative `json:"alternatives"`
	NewCredentialRequired bool          `json:"new_credential_required"`
}

// Validator checks credential capacity.
type Validator struct {
	cfg    *Config
	bots   BotDirectory
	logger zerolog.Logger
}

// NewValidator creates a capacity validator.
func NewValidator(cfg *Config, bots BotDirectory, logger zerolog.Logger) *Validator {
	return &Validator{
		cfg:    cfg.withDefaults(),
		bots:   bots,
		logger: logger.With().Str("component", "CapacityValidator").Logger(),
	}
}

// ValidateBotCreation decides whether one more bot may be attached to the
// credential. Hard-reject at the ceiling, allow-with-warning at the
// watermark, plain allow below it.
func (v *Validator) ValidateBotCreation(ctx context.Context, credentialID, userID string) (*Validation, error) {
	count, err := v.bots.ActiveBotCount(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to count bots for credential: %w", err)
	}

	result := &Validation{
		CurrentCount: count,
		MaxAllowed:   v.cfg.MaxBotsPerCredential,
	}

	switch {
	case count >= v.cfg.MaxBotsPerCredential:
		result.Allowed = false
		result.Reason = fmt.Sprintf("credential already runs %d bots, maximum is %d",
			count, v.cfg.MaxBotsPerCredential)
		result.Recommendation = "create a new credential or move bots off this one"
		v.logger.Warn().
			Str("credential_id", credentialID).
			Str("user_id", userID).
			Int("bot_count", count).
			Msg("Bot creation blocked by credential capacity")

	case count >= v.cfg.WarningThreshold:
		result.Allowed = true
		result.Reason = fmt.Sprintf("credential runs %d bots, approaching the maximum of %d",
			count, v.cfg.MaxBotsPerCredential)
		result.Recommendation = "consider spreading bots across more credentials for better rate-limit headroom"

	default:
		result.Allowed = true
	}

	return result, nil
}

// UsageAnalysis reports each of the user's credentials with a crowding
// status and recommendation.
func (v *Validator) UsageAnalysis(ctx context.Context, userID string) ([]CredentialUsage, error) {
	creds, err := v.bots.UserCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	usages := make([]CredentialUsage, 0, len(creds))
	for _, id := range creds {
		count, err := v.bots.ActiveBotCount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to count bots for credential: %w", err)
		}
		usages = append(usages, v.classify(id, count))
	}
	return usages, nil
}

func (v *Validator) classify(credentialID string, count int) CredentialUsage {
	usage := CredentialUsage{
		CredentialID: credentialID,
		BotCount:     count,
		MaxAllowed:   v.cfg.MaxBotsPerCredential,
		Remaining:    v.cfg.MaxBotsPerCredential - count,
	}
	if usage.Remaining < 0 {
		usage.Remaining = 0
	}

	switch {
	case count >= v.cfg.MaxBotsPerCredential:
		usage.Status = StatusBlocked
		usage.Recommendation = "no further bots can be added, create a new credential"
	case count >= v.cfg.MaxBotsPerCredential-1:
		usage.Status = StatusCritical
		usage.Recommendation = "only one slot left, plan a new credential now"
	case count >= v.cfg.WarningThreshold:
		usage.Status = StatusWarning
		usage.Recommendation = "approaching capacity, consider a new credential"
	default:
		usage.Status = StatusOptimal
	}
	return usage
}

// SuggestAlternatives ranks the user's other credentials by remaining
// capacity, best first. NewCredentialRequired is set when no alternative
// has room.
func (v *Validator) SuggestAlternatives(ctx context.Context, userID, excludeID string) (*Suggestion, error) {
	creds, err := v.bots.UserCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	var alts []Alternative
	for _, id := range creds {
		if id == excludeID {
			continue
		}
		count, err := v.bots.ActiveBotCount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to count bots for credential: %w", err)
		}
		remaining := v.cfg.MaxBotsPerCredential - count
		if remaining <= 0 {
			continue
		}
		alts = append(alts, Alternative{
			CredentialID: id,
			BotCount:     count,
			Remaining:    remaining,
		})
	}

	sort.Slice(alts, func(i, j int) bool {
		if alts[i].Remaining != alts[j].Remaining {
			return alts[i].Remaining > alts[j].Remaining
		}
		return alts[i].CredentialID < alts[j].CredentialID
	})

	return &Suggestion{
		Alternatives:          alts,
		NewCredentialRequired: len(alts) == 0,
	}, nil
}
