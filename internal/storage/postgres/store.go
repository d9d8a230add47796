package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tipRelay/internal/model"
	"tipRelay/internal/storage"
)

// Store provides Postgres persistence for tip history, the spend ledger, and
// author configurations.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// HasTipRecord reports whether a successful settlement already exists for the
// duplicate key.
func (s *Store) HasTipRecord(ctx context.Context, payer, payee common.Address, reference string, interaction model.InteractionType) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tip_records
			WHERE payer = $1 AND payee = $2 AND reference = $3 AND interaction = $4
		)
	`, payer.Hex(), payee.Hex(), reference, string(interaction))
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// AppendTipRecords inserts history rows for settled legs.
func (s *Store) AppendTipRecords(ctx context.Context, records []model.TipRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(`
			INSERT INTO tip_records (
				payer, payee, token, amount, interaction, reference, tx_hash, settled_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			record.Payer,
			record.Payee,
			record.Token,
			record.Amount,
			string(record.Interaction),
			record.Reference,
			record.TxHash,
			record.SettledAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// AddSpent advances the durable totalSpent for a payer.
func (s *Store) AddSpent(ctx context.Context, payer common.Address, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE author_configs
		SET total_spent = total_spent + $2, updated_at = now()
		WHERE payer = $1
	`, payer.Hex(), amount.String())
	return err
}

// SetActive flips the payer's active flag.
func (s *Store) SetActive(ctx context.Context, payer common.Address, active bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE author_configs
		SET active = $2, updated_at = now()
		WHERE payer = $1
	`, payer.Hex(), active)
	return err
}

const authorConfigColumns = `
	payer, payer_fid, token, active,
	like_enabled, like_amount,
	recast_enabled, recast_amount,
	reply_enabled, reply_amount,
	follow_enabled, follow_amount,
	spend_limit, total_spent, audience,
	min_follower_count, min_trust_score, max_spam_level
`

// AuthorConfig reads the tipping configuration for a payer.
func (s *Store) AuthorConfig(ctx context.Context, payer common.Address) (*model.AuthorConfig, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+authorConfigColumns+` FROM author_configs WHERE payer = $1`,
		payer.Hex(),
	)
	cfg, err := scanAuthorConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ActiveAuthorConfigs lists configs with the active flag set.
func (s *Store) ActiveAuthorConfigs(ctx context.Context) ([]model.AuthorConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+authorConfigColumns+` FROM author_configs WHERE active`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []model.AuthorConfig
	for rows.Next() {
		cfg, err := scanAuthorConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func scanAuthorConfig(row pgx.Row) (*model.AuthorConfig, error) {
	var (
		cfg                                     model.AuthorConfig
		payer, tokenAddr, audience              string
		likeAmt, recastAmt, replyAmt, followAmt string
		spendLimit, totalSpent                  string
	)
	err := row.Scan(
		&payer, &cfg.PayerFID, &tokenAddr, &cfg.Active,
		&cfg.Like.Enabled, &likeAmt,
		&cfg.Recast.Enabled, &recastAmt,
		&cfg.Reply.Enabled, &replyAmt,
		&cfg.Follow.Enabled, &followAmt,
		&spendLimit, &totalSpent, &audience,
		&cfg.MinFollowerCount, &cfg.MinTrustScore, &cfg.MaxSpamLevel,
	)
	if err != nil {
		return nil, err
	}

	cfg.Payer = common.HexToAddress(payer)
	cfg.Token = common.HexToAddress(tokenAddr)
	cfg.Audience = model.Audience(audience)

	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{likeAmt, &cfg.Like.Amount},
		{recastAmt, &cfg.Recast.Amount},
		{replyAmt, &cfg.Reply.Amount},
		{followAmt, &cfg.Follow.Amount},
		{spendLimit, &cfg.SpendLimit},
		{totalSpent, &cfg.TotalSpent},
	} {
		value, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", field.raw, err)
		}
		*field.dst = value
	}

	return &cfg, nil
}
