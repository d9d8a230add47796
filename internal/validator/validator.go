package validator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tipRelay/internal/chain"
	"tipRelay/internal/ledger"
	"tipRelay/internal/model"
	"tipRelay/internal/storage"
	"tipRelay/internal/token"
)

// Reason is the structured rejection reason for an invalid candidate.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMalformed         Reason = "malformed_candidate"
	ReasonNoPayeeAddress    Reason = "no_payee_address"
	ReasonNoConfig          Reason = "no_config"
	ReasonActionDisabled    Reason = "action_disabled"
	ReasonInactive          Reason = "inactive"
	ReasonAudience          Reason = "audience_mismatch"
	ReasonReputation        Reason = "reputation_shortfall"
	ReasonZeroAmount        Reason = "zero_amount"
	ReasonDuplicate         Reason = "duplicate"
	ReasonLimitExceeded     Reason = "limit_exceeded"
	ReasonInsufficientFunds Reason = "insufficient_allowance_or_balance"
)

// Outcome is the result of validating one candidate. Valid outcomes carry the
// normalized candidate (amount and token taken from the author config) that
// should enter the batch queue.
type Outcome struct {
	Valid     bool
	Reason    Reason
	Candidate model.TipCandidate
}

func reject(reason Reason) Outcome { return Outcome{Reason: reason} }

// ProfileSource resolves reputation signals for an account.
type ProfileSource interface {
	Profile(ctx context.Context, fid uint64) (*model.UserProfile, error)
}

// SocialGraph answers follow-relationship queries.
type SocialGraph interface {
	Follows(ctx context.Context, followerFID, followeeFID uint64) (bool, error)
}

// Validator runs the ordered admission checks for tip candidates. It is
// read-only except for conditional admission to the active set.
type Validator struct {
	providers   *chain.Manager
	store       storage.Store
	spending    *ledger.SpendingLedger
	active      *ledger.ActiveSet
	profiles    ProfileSource
	graph       SocialGraph
	decimals    *token.Cache
	relay       common.Address
	maxAttempts int
	logger      *zap.Logger
}

// New builds a Validator. relay is the settlement contract address, the
// spender for allowance reads. spending is the in-process running total,
// which may be ahead of the store within a settlement window.
func New(
	providers *chain.Manager,
	store storage.Store,
	spending *ledger.SpendingLedger,
	active *ledger.ActiveSet,
	profiles ProfileSource,
	graph SocialGraph,
	decimals *token.Cache,
	relay common.Address,
	maxAttempts int,
	logger *zap.Logger,
) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		providers:   providers,
		store:       store,
		spending:    spending,
		active:      active,
		profiles:    profiles,
		graph:       graph,
		decimals:    decimals,
		relay:       relay,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Validate runs the admission checks in order, short-circuiting on the first
// failure. It never returns an error: collaborator failures fail closed with
// the reason of the check that could not be completed.
func (v *Validator) Validate(ctx context.Context, candidate model.TipCandidate, cfg *model.AuthorConfig) Outcome {
	// 1. Payee must have a resolvable settlement address.
	if candidate.Payee == (common.Address{}) {
		return reject(ReasonNoPayeeAddress)
	}

	// 2. Config must exist and enable this interaction type.
	if cfg == nil {
		return reject(ReasonNoConfig)
	}
	rule := cfg.Rule(candidate.Interaction)
	if !rule.Enabled {
		return reject(ReasonActionDisabled)
	}

	// 3. Payer must be active, or pass the conditional admission check.
	if !v.active.Contains(candidate.Payer) {
		if !v.conditionallyAdmit(ctx, candidate.Payer, cfg) {
			return reject(ReasonInactive)
		}
	}

	// 4. Audience rule, skipped for follow interactions.
	if candidate.Interaction != model.InteractionFollow {
		ok, err := v.audienceSatisfied(ctx, candidate, cfg)
		if err != nil {
			v.logger.Warn("audience check failed closed", zap.String("event", candidate.SourceEventID), zap.Error(err))
			return reject(ReasonAudience)
		}
		if !ok {
			return reject(ReasonAudience)
		}
	}

	// 5. Reputation thresholds for the payee.
	profile, err := v.profiles.Profile(ctx, candidate.PayeeFID)
	if err != nil || profile == nil {
		v.logger.Warn("profile lookup failed closed", zap.Uint64("fid", candidate.PayeeFID), zap.Error(err))
		return reject(ReasonReputation)
	}
	if profile.FollowerCount < cfg.MinFollowerCount ||
		profile.TrustScore < cfg.MinTrustScore ||
		profile.SpamLevel > cfg.MaxSpamLevel {
		return reject(ReasonReputation)
	}

	// 6. Configured tip amount for this interaction must be positive.
	if !rule.Amount.IsPositive() {
		return reject(ReasonZeroAmount)
	}

	// 7. Duplicate suppression.
	dup, err := v.store.HasTipRecord(ctx, candidate.Payer, candidate.Payee, candidate.Reference, candidate.Interaction)
	if err != nil {
		v.logger.Warn("duplicate check failed closed", zap.String("event", candidate.SourceEventID), zap.Error(err))
		return reject(ReasonDuplicate)
	}
	if dup {
		return reject(ReasonDuplicate)
	}

	// 8. Spending limit, against the fresher of the durable total and the
	// in-process ledger the reconciler advances ahead of persistence.
	spent := cfg.TotalSpent
	if total := v.spending.Total(candidate.Payer); total.GreaterThan(spent) {
		spent = total
	}
	if spent.Add(rule.Amount).GreaterThan(cfg.SpendLimit) {
		return reject(ReasonLimitExceeded)
	}

	// 9. Live allowance and balance must cover the amount.
	required, err := v.toBaseUnits(ctx, cfg.Token, rule.Amount)
	if err != nil {
		v.logger.Warn("decimals lookup failed closed", zap.String("token", cfg.Token.Hex()), zap.Error(err))
		return reject(ReasonInsufficientFunds)
	}
	allowance, balance, err := v.readFunds(ctx, candidate.Payer, cfg.Token)
	if err != nil {
		v.logger.Warn("funds read failed closed", zap.String("payer", candidate.Payer.Hex()), zap.Error(err))
		return reject(ReasonInsufficientFunds)
	}
	if allowance.Cmp(required) < 0 || balance.Cmp(required) < 0 {
		return reject(ReasonInsufficientFunds)
	}

	normalized := candidate
	normalized.Amount = rule.Amount
	normalized.Token = cfg.Token
	return Outcome{Valid: true, Candidate: normalized}
}

// conditionallyAdmit re-checks a non-member payer's live allowance and balance
// against their minimum tip total and admits them if both are sufficient.
// An insufficient or unreadable result does not admit, so equally-insufficient
// accounts cannot oscillate in and out of membership.
func (v *Validator) conditionallyAdmit(ctx context.Context, payer common.Address, cfg *model.AuthorConfig) bool {
	minTotal := cfg.MinTipTotal()
	if !minTotal.IsPositive() {
		return false
	}
	required, err := v.toBaseUnits(ctx, cfg.Token, minTotal)
	if err != nil {
		v.logger.Warn("conditional admission decimals lookup failed", zap.String("token", cfg.Token.Hex()), zap.Error(err))
		return false
	}
	allowance, balance, err := v.readFunds(ctx, payer, cfg.Token)
	if err != nil {
		v.logger.Warn("conditional admission funds read failed", zap.String("payer", payer.Hex()), zap.Error(err))
		return false
	}
	if allowance.Cmp(required) < 0 || balance.Cmp(required) < 0 {
		return false
	}
	v.active.Add(payer)
	v.logger.Info("payer admitted to active set", zap.String("payer", payer.Hex()))
	return true
}

func (v *Validator) audienceSatisfied(ctx context.Context, candidate model.TipCandidate, cfg *model.AuthorConfig) (bool, error) {
	switch cfg.Audience {
	case model.AudienceAnyone, "":
		return true, nil
	case model.AudienceFollowers:
		return v.graph.Follows(ctx, candidate.PayeeFID, candidate.PayerFID)
	case model.AudienceFollowing:
		return v.graph.Follows(ctx, candidate.PayerFID, candidate.PayeeFID)
	default:
		return false, nil
	}
}

func (v *Validator) toBaseUnits(ctx context.Context, tokenAddr common.Address, amount decimal.Decimal) (*big.Int, error) {
	decimals, err := v.decimals.Decimals(ctx, tokenAddr)
	if err != nil {
		return nil, err
	}
	return token.ToBaseUnits(amount, decimals), nil
}

func (v *Validator) readFunds(ctx context.Context, payer, tokenAddr common.Address) (allowance, balance *big.Int, err error) {
	err = v.providers.Execute(ctx, v.maxAttempts, func(ctx context.Context, backend chain.Backend) error {
		var callErr error
		allowance, callErr = chain.ERC20Allowance(ctx, backend, tokenAddr, payer, v.relay)
		if callErr != nil {
			return callErr
		}
		balance, callErr = chain.ERC20BalanceOf(ctx, backend, tokenAddr, payer)
		return callErr
	})
	return allowance, balance, err
}
