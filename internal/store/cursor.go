package store

import (
	"context"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// SyncCursor returns the chain's synchronization cursor, zero-valued if the
// chain has never been processed.
func (s *Store) SyncCursor(ctx context.Context, chain poolmodel.CurrencyAddress) (*poolmodel.SyncCursor, error) {
	cursor := &poolmodel.SyncCursor{CurrencyAddress: chain}
	err := s.db.GetContext(ctx, cursor, `
		SELECT currency_address, last_height, last_payout_height
		FROM synchronization
		WHERE currency_address = $1`,
		chain,
	)
	if err != nil {
		if isNoRows(err) {
			return cursor, nil
		}
		return nil, dbErr("sync_cursor", err)
	}
	return cursor, nil
}

// SetLastHeight advances the chain's last processed block height. The
// cursor never moves backwards: a replayed or out-of-order tip leaves it
// unchanged.
func (s *Store) SetLastHeight(ctx context.Context, chain poolmodel.CurrencyAddress, height int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synchronization (currency_address, last_height, last_payout_height)
		VALUES ($1, $2, 0)
		ON CONFLICT (currency_address) DO UPDATE SET
			last_height = GREATEST(synchronization.last_height, EXCLUDED.last_height)`,
		chain, height,
	)
	if err != nil {
		return dbErr("set_last_height", err)
	}
	return nil
}
