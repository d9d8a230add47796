package validator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"tipRelay/internal/chain"
	"tipRelay/internal/chain/chaintest"
	"tipRelay/internal/ledger"
	"tipRelay/internal/model"
	"tipRelay/internal/storage"
	"tipRelay/internal/token"
)

var (
	testPayer = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testPayee = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testToken = common.HexToAddress("0x3000000000000000000000000000000000000003")
	testRelay = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

type stubProfiles struct {
	profile *model.UserProfile
	err     error
}

func (s *stubProfiles) Profile(context.Context, uint64) (*model.UserProfile, error) {
	return s.profile, s.err
}

type stubGraph struct {
	follows bool
	err     error
}

func (s *stubGraph) Follows(context.Context, uint64, uint64) (bool, error) {
	return s.follows, s.err
}

type fixture struct {
	state    *chaintest.TokenState
	store    *storage.Memory
	spending *ledger.SpendingLedger
	active   *ledger.ActiveSet
	profiles *stubProfiles
	graph    *stubGraph
	v        *Validator
}

// units converts whole token units to base units at the fixture's 6 decimals.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := &chaintest.TokenState{
		Decimals:  6,
		Balance:   units(100),
		Allowance: units(100),
	}
	backend := &chaintest.Backend{CallContractFn: chaintest.ERC20CallFn(state)}
	providers, err := chain.NewManager([]chain.Endpoint{{URL: "fake", Backend: backend}}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	f := &fixture{
		state:    state,
		store:    storage.NewMemory(),
		spending: ledger.NewSpendingLedger(),
		active:   ledger.NewActiveSet(),
		profiles: &stubProfiles{profile: &model.UserProfile{FID: 22, FollowerCount: 500, TrustScore: 1, SpamLevel: 0}},
		graph:    &stubGraph{follows: true},
	}
	f.active.Add(testPayer)
	f.v = New(providers, f.store, f.spending, f.active, f.profiles, f.graph, token.NewCache(providers, 3), testRelay, 3, nil)
	return f
}

func baseConfig() *model.AuthorConfig {
	return &model.AuthorConfig{
		Payer:      testPayer,
		PayerFID:   11,
		Token:      testToken,
		Active:     true,
		Like:       model.ActionRule{Enabled: true, Amount: decimal.NewFromInt(2)},
		Recast:     model.ActionRule{Enabled: true, Amount: decimal.NewFromInt(3)},
		SpendLimit: decimal.NewFromInt(100),
		Audience:   model.AudienceAnyone,
	}
}

func baseCandidate() model.TipCandidate {
	return model.TipCandidate{
		SourceEventID: "event-1",
		Interaction:   model.InteractionLike,
		PayerFID:      11,
		PayeeFID:      22,
		Payer:         testPayer,
		Payee:         testPayee,
		Reference:     "cast-1",
		Amount:        decimal.NewFromInt(999),
	}
}

func TestValidateNormalizesAmountAndToken(t *testing.T) {
	f := newFixture(t)
	outcome := f.v.Validate(context.Background(), baseCandidate(), baseConfig())
	if !outcome.Valid {
		t.Fatalf("expected valid, got reason %q", outcome.Reason)
	}
	if !outcome.Candidate.Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("amount must come from the author config, got %s", outcome.Candidate.Amount)
	}
	if outcome.Candidate.Token != testToken {
		t.Fatalf("token must come from the author config, got %s", outcome.Candidate.Token.Hex())
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture, c *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig
		want  Reason
	}{
		{
			name: "missing payee address",
			setup: func(_ *fixture, c *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				c.Payee = common.Address{}
				return cfg
			},
			want: ReasonNoPayeeAddress,
		},
		{
			name: "no author config",
			setup: func(_ *fixture, _ *model.TipCandidate, _ *model.AuthorConfig) *model.AuthorConfig {
				return nil
			},
			want: ReasonNoConfig,
		},
		{
			name: "action disabled",
			setup: func(_ *fixture, c *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				c.Interaction = model.InteractionReply
				return cfg
			},
			want: ReasonActionDisabled,
		},
		{
			name: "inactive and underfunded",
			setup: func(f *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				f.active.Remove(testPayer)
				f.state.Balance = units(1)
				return cfg
			},
			want: ReasonInactive,
		},
		{
			name: "audience mismatch",
			setup: func(f *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				cfg.Audience = model.AudienceFollowers
				f.graph.follows = false
				return cfg
			},
			want: ReasonAudience,
		},
		{
			name: "audience check fails closed",
			setup: func(f *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				cfg.Audience = model.AudienceFollowers
				f.graph.err = errors.New("hub unavailable")
				return cfg
			},
			want: ReasonAudience,
		},
		{
			name: "reputation shortfall",
			setup: func(_ *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				cfg.MinFollowerCount = 1000
				return cfg
			},
			want: ReasonReputation,
		},
		{
			name: "profile lookup fails closed",
			setup: func(f *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				f.profiles.err = errors.New("hub unavailable")
				return cfg
			},
			want: ReasonReputation,
		},
		{
			name: "zero configured amount",
			setup: func(_ *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				cfg.Like.Amount = decimal.Zero
				return cfg
			},
			want: ReasonZeroAmount,
		},
		{
			name: "duplicate",
			setup: func(f *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				record := model.TipRecord{
					Payer:       testPayer.Hex(),
					Payee:       testPayee.Hex(),
					Reference:   "cast-1",
					Interaction: model.InteractionLike,
				}
				_ = f.store.AppendTipRecords(context.Background(), []model.TipRecord{record})
				return cfg
			},
			want: ReasonDuplicate,
		},
		{
			name: "spending limit exceeded",
			setup: func(_ *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				cfg.TotalSpent = decimal.NewFromInt(99)
				return cfg
			},
			want: ReasonLimitExceeded,
		},
		{
			name: "insufficient allowance",
			setup: func(f *fixture, _ *model.TipCandidate, cfg *model.AuthorConfig) *model.AuthorConfig {
				f.state.Allowance = units(1)
				return cfg
			},
			want: ReasonInsufficientFunds,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			candidate := baseCandidate()
			cfg := tc.setup(f, &candidate, baseConfig())

			outcome := f.v.Validate(context.Background(), candidate, cfg)
			if outcome.Valid {
				t.Fatalf("expected rejection %q, got valid", tc.want)
			}
			if outcome.Reason != tc.want {
				t.Fatalf("reason mismatch: got %q, want %q", outcome.Reason, tc.want)
			}
		})
	}
}

func TestSpendingLimitConsultsInProcessLedger(t *testing.T) {
	f := newFixture(t)
	// The durable total lags a settlement confirmed moments ago; the
	// in-process ledger already carries it.
	f.spending.Seed(testPayer, decimal.NewFromInt(99))

	outcome := f.v.Validate(context.Background(), baseCandidate(), baseConfig())
	if outcome.Valid || outcome.Reason != ReasonLimitExceeded {
		t.Fatalf("expected limit rejection from the in-process total, got %+v", outcome)
	}
}

func TestConditionalAdmission(t *testing.T) {
	f := newFixture(t)
	f.active.Remove(testPayer)
	// Minimum tip total is like 2 + recast 3; exactly covering it admits.
	f.state.Balance = units(5)
	f.state.Allowance = units(5)

	outcome := f.v.Validate(context.Background(), baseCandidate(), baseConfig())
	if !outcome.Valid {
		t.Fatalf("expected admission, got reason %q", outcome.Reason)
	}
	if !f.active.Contains(testPayer) {
		t.Fatalf("payer must join the active set on admission")
	}
}

func TestConditionalAdmissionShortfall(t *testing.T) {
	f := newFixture(t)
	f.active.Remove(testPayer)
	f.state.Balance = big.NewInt(4_999_999)
	f.state.Allowance = units(100)

	outcome := f.v.Validate(context.Background(), baseCandidate(), baseConfig())
	if outcome.Valid || outcome.Reason != ReasonInactive {
		t.Fatalf("expected inactive rejection, got %+v", outcome)
	}
	if f.active.Contains(testPayer) {
		t.Fatalf("underfunded payer must not be admitted")
	}
}

func TestFollowSkipsAudienceCheck(t *testing.T) {
	f := newFixture(t)
	// A broken graph cannot block follows: the payer is not in the author's
	// audience until the follow lands.
	f.graph.err = errors.New("hub unavailable")

	cfg := baseConfig()
	cfg.Audience = model.AudienceFollowers
	cfg.Follow = model.ActionRule{Enabled: true, Amount: decimal.NewFromInt(1)}

	candidate := baseCandidate()
	candidate.Interaction = model.InteractionFollow
	candidate.Reference = "follow-1"

	outcome := f.v.Validate(context.Background(), candidate, cfg)
	if !outcome.Valid {
		t.Fatalf("expected follow to bypass the audience check, got reason %q", outcome.Reason)
	}
}
