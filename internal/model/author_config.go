package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Audience restricts who may trigger tips on an author's behalf.
type Audience string

const (
	AudienceAnyone    Audience = "anyone"
	AudienceFollowers Audience = "followers"
	AudienceFollowing Audience = "following"
)

// ActionRule is the per-interaction tip setting for an author.
type ActionRule struct {
	Enabled bool            `json:"enabled"`
	Amount  decimal.Decimal `json:"amount"`
}

// AuthorConfig is the per-payer tipping configuration, read from the
// configuration store. The settlement core treats it as read-only except for
// TotalSpent, which the reconciler advances after confirmed settlements.
type AuthorConfig struct {
	Payer            common.Address  `json:"payer"`
	PayerFID         uint64          `json:"payer_fid"`
	Token            common.Address  `json:"token"`
	Active           bool            `json:"active"`
	Like             ActionRule      `json:"like"`
	Recast           ActionRule      `json:"recast"`
	Reply            ActionRule      `json:"reply"`
	Follow           ActionRule      `json:"follow"`
	SpendLimit       decimal.Decimal `json:"spend_limit"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	Audience         Audience        `json:"audience"`
	MinFollowerCount int64           `json:"min_follower_count"`
	MinTrustScore    float64         `json:"min_trust_score"`
	MaxSpamLevel     int             `json:"max_spam_level"`
}

// Rule returns the action rule for an interaction type.
func (c *AuthorConfig) Rule(t InteractionType) ActionRule {
	switch t {
	case InteractionLike:
		return c.Like
	case InteractionRecast:
		return c.Recast
	case InteractionReply:
		return c.Reply
	case InteractionFollow:
		return c.Follow
	}
	return ActionRule{}
}

// MinTipTotal is the sum of all enabled per-action amounts. A payer whose
// allowance or balance falls below this cannot cover one round of every
// enabled action, which is the threshold for active membership.
func (c *AuthorConfig) MinTipTotal() decimal.Decimal {
	total := decimal.Zero
	for _, rule := range []ActionRule{c.Like, c.Recast, c.Reply, c.Follow} {
		if rule.Enabled {
			total = total.Add(rule.Amount)
		}
	}
	return total
}

// Remaining is the unspent portion of the author's spending limit.
func (c *AuthorConfig) Remaining() decimal.Decimal {
	return c.SpendLimit.Sub(c.TotalSpent)
}

// UserProfile carries the reputation signals for the account receiving a tip,
// resolved by the ingestion collaborator.
type UserProfile struct {
	FID           uint64  `json:"fid"`
	FollowerCount int64   `json:"follower_count"`
	TrustScore    float64 `json:"trust_score"`
	SpamLevel     int     `json:"spam_level"`
}
