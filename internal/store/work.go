package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// OpenRound is the round number of the currently-accumulating work. A
// positive round number is a sealed round, equal to the block height of
// the stake it was sealed for.
const OpenRound int64 = 0

// AddWork adds shares into the given round for every address in the
// mapping. Successive writes for the same (chain, round, address) sum into
// the existing row.
func (s *Store) AddWork(ctx context.Context, chain poolmodel.CurrencyAddress, round int64, shares map[poolmodel.IdentityAddress]poolmodel.Shares) error {
	if len(shares) == 0 {
		return nil
	}

	return s.inTx(ctx, "add_work", func(tx *sqlx.Tx) error {
		for address, amount := range shares {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO work (currency_address, round, staker_address, shares)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (currency_address, round, staker_address)
				DO UPDATE SET shares = work.shares + EXCLUDED.shares`,
				chain, round, address, amount,
			)
			if err != nil {
				return dbErr("add_work", err)
			}
		}
		return nil
	})
}

// GetWorkByRound returns every work row of one round.
func (s *Store) GetWorkByRound(ctx context.Context, chain poolmodel.CurrencyAddress, round int64) ([]poolmodel.Work, error) {
	var work []poolmodel.Work
	err := s.db.SelectContext(ctx, &work, `
		SELECT currency_address, round, staker_address, shares
		FROM work
		WHERE currency_address = $1 AND round = $2
		ORDER BY staker_address`,
		chain, round,
	)
	if err != nil {
		return nil, dbErr("get_work_by_round", err)
	}
	return work, nil
}

// SealRound relabels the open round's work rows to the given block height.
// Sealing an empty open round is a no-op, which makes replaying a tip
// harmless.
func (s *Store) SealRound(ctx context.Context, chain poolmodel.CurrencyAddress, height int64) error {
	return s.inTx(ctx, "seal_round", func(tx *sqlx.Tx) error {
		return moveRound(ctx, tx, chain, OpenRound, height)
	})
}

// UnsealRound moves a sealed round's work rows back into the open round,
// summing into any shares accrued there since. Used when a stake turns
// stale or is reclaimed by stake guard.
func (s *Store) UnsealRound(ctx context.Context, chain poolmodel.CurrencyAddress, height int64) error {
	return s.inTx(ctx, "unseal_round", func(tx *sqlx.Tx) error {
		return moveRound(ctx, tx, chain, height, OpenRound)
	})
}

// moveRound merges every work row of round from into round to, additively,
// inside the caller's transaction.
func moveRound(ctx context.Context, tx *sqlx.Tx, chain poolmodel.CurrencyAddress, from, to int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO work (currency_address, round, staker_address, shares)
		SELECT currency_address, $3, staker_address, shares
		FROM work
		WHERE currency_address = $1 AND round = $2
		ON CONFLICT (currency_address, round, staker_address)
		DO UPDATE SET shares = work.shares + EXCLUDED.shares`,
		chain, from, to,
	)
	if err != nil {
		return dbErr("move_round", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM work WHERE currency_address = $1 AND round = $2`,
		chain, from,
	)
	if err != nil {
		return dbErr("move_round", err)
	}
	return nil
}
