package reconcile

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tipRelay/internal/chain"
	"tipRelay/internal/ledger"
	"tipRelay/internal/model"
	"tipRelay/internal/notify"
	"tipRelay/internal/storage"
	"tipRelay/internal/token"
)

// Reconciler applies confirmed settlement results to the spend ledger and
// re-derives active-user membership. Errors here are logged, never allowed to
// roll back an already-confirmed settlement; at worst membership stays stale
// until the next settlement touches the same payer.
type Reconciler struct {
	providers   *chain.Manager
	store       storage.Store
	spending    *ledger.SpendingLedger
	active      *ledger.ActiveSet
	decimals    *token.Cache
	relay       common.Address
	maxAttempts int
	notifier    notify.Notifier
	logger      *zap.Logger
}

// New builds a Reconciler. relay is the settlement contract, the allowance
// spender for sufficiency re-checks.
func New(
	providers *chain.Manager,
	store storage.Store,
	spending *ledger.SpendingLedger,
	active *ledger.ActiveSet,
	decimals *token.Cache,
	relay common.Address,
	maxAttempts int,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Reconciler{
		providers:   providers,
		store:       store,
		spending:    spending,
		active:      active,
		decimals:    decimals,
		relay:       relay,
		maxAttempts: maxAttempts,
		notifier:    notifier,
		logger:      logger,
	}
}

// Process handles one settlement report: for each successful leg it advances
// the ledger and appends history, then re-checks sufficiency once per payer
// that spent. The check runs after the spend because the settlement itself can
// create the insufficiency it must detect; there is no push notification for
// allowance or balance changes, so this is the sole enforcement point.
func (r *Reconciler) Process(ctx context.Context, report *model.SettlementReport) {
	now := time.Now().UTC()
	records := make([]model.TipRecord, 0, len(report.Legs))
	spenders := make(map[common.Address]struct{})

	for _, leg := range report.Legs {
		if !leg.Success {
			continue
		}
		payer := leg.Candidate.Payer
		total := r.spending.Add(payer, leg.Candidate.Amount)
		records = append(records, model.NewTipRecord(leg, now))
		spenders[payer] = struct{}{}

		if err := r.store.AddSpent(ctx, payer, leg.Candidate.Amount); err != nil {
			r.logger.Error("ledger persistence failed",
				zap.String("payer", payer.Hex()),
				zap.String("tx", leg.TxHash),
				zap.Error(err),
			)
		}
		r.logger.Debug("spend recorded",
			zap.String("payer", payer.Hex()),
			zap.String("amount", leg.Candidate.Amount.String()),
			zap.String("total_spent", total.String()),
		)
	}

	if err := r.store.AppendTipRecords(ctx, records); err != nil {
		r.logger.Error("tip history append failed",
			zap.String("tx", report.TxHash),
			zap.Int("records", len(records)),
			zap.Error(err),
		)
	}

	for payer := range spenders {
		r.recheckSufficiency(ctx, payer)
	}
}

// recheckSufficiency compares the payer's live allowance and balance against
// their minimum tip total and evicts them from the active set on shortfall.
func (r *Reconciler) recheckSufficiency(ctx context.Context, payer common.Address) {
	cfg, ok, err := r.store.AuthorConfig(ctx, payer)
	if err != nil {
		r.logger.Error("author config read failed, membership may be stale",
			zap.String("payer", payer.Hex()),
			zap.Error(err),
		)
		return
	}
	if !ok {
		return
	}

	minTotal := cfg.MinTipTotal()
	if !minTotal.IsPositive() {
		return
	}

	decimals, err := r.decimals.Decimals(ctx, cfg.Token)
	if err != nil {
		r.logger.Error("decimals lookup failed, membership may be stale",
			zap.String("token", cfg.Token.Hex()),
			zap.Error(err),
		)
		return
	}
	required := token.ToBaseUnits(minTotal, decimals)

	var allowance, balance *big.Int
	err = r.providers.Execute(ctx, r.maxAttempts, func(ctx context.Context, backend chain.Backend) error {
		var callErr error
		allowance, callErr = chain.ERC20Allowance(ctx, backend, cfg.Token, payer, r.relay)
		if callErr != nil {
			return callErr
		}
		balance, callErr = chain.ERC20BalanceOf(ctx, backend, cfg.Token, payer)
		return callErr
	})
	if err != nil {
		r.logger.Error("sufficiency read failed, membership may be stale",
			zap.String("payer", payer.Hex()),
			zap.Error(err),
		)
		return
	}

	if allowance.Cmp(required) >= 0 && balance.Cmp(required) >= 0 {
		return
	}

	r.active.Remove(payer)
	if err := r.store.SetActive(ctx, payer, false); err != nil {
		r.logger.Error("active flag update failed",
			zap.String("payer", payer.Hex()),
			zap.Error(err),
		)
	}
	r.logger.Info("payer removed from active set",
		zap.String("payer", payer.Hex()),
		zap.String("allowance", allowance.String()),
		zap.String("balance", balance.String()),
		zap.String("required", required.String()),
	)

	if balance.Cmp(required) < 0 {
		if err := r.notifier.LowBalance(ctx, payer, cfg.Token, token.FromBaseUnits(balance, decimals), minTotal); err != nil {
			r.logger.Warn("low balance notification failed",
				zap.String("payer", payer.Hex()),
				zap.Error(err),
			)
		}
	}
}
