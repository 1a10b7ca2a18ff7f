package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

type stakeRow struct {
	CurrencyAddress string    `db:"currency_address"`
	BlockHash       string    `db:"block_hash"`
	BlockHeight     int64     `db:"block_height"`
	Amount          int64     `db:"amount"`
	FoundBy         string    `db:"found_by"`
	SourceTxid      string    `db:"source_txid"`
	SourceVoutNum   int32     `db:"source_vout_num"`
	SourceAmount    int64     `db:"source_amount"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *stakeRow) toModel() poolmodel.Stake {
	return poolmodel.Stake{
		CurrencyAddress: poolmodel.CurrencyAddress(r.CurrencyAddress),
		BlockHash:       poolmodel.BlockHash(r.BlockHash),
		BlockHeight:     r.BlockHeight,
		Amount:          poolmodel.NewMoneyFromSats(r.Amount),
		FoundBy:         poolmodel.IdentityAddress(r.FoundBy),
		SourceTxid:      poolmodel.Txid(r.SourceTxid),
		SourceVoutNum:   r.SourceVoutNum,
		SourceAmount:    poolmodel.NewMoneyFromSats(r.SourceAmount),
		Status:          poolmodel.StakeStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const selectStakeColumns = `
	SELECT currency_address, block_hash, block_height, amount, found_by,
	       source_txid, source_vout_num, source_amount, status,
	       created_at, updated_at
	FROM stakes`

// InsertStake records a newly detected stake and seals the open work round
// at the stake's height, in one transaction. Either both happen or
// neither does.
func (s *Store) InsertStake(ctx context.Context, stake *poolmodel.Stake) error {
	return s.inTx(ctx, "insert_stake", func(tx *sqlx.Tx) error {
		if err := moveRound(ctx, tx, stake.CurrencyAddress, OpenRound, stake.BlockHeight); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO stakes (currency_address, block_hash, block_height, amount,
			                    found_by, source_txid, source_vout_num, source_amount, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			stake.CurrencyAddress, stake.BlockHash, stake.BlockHeight, stake.Amount.Sats(),
			stake.FoundBy, stake.SourceTxid, stake.SourceVoutNum, stake.SourceAmount.Sats(),
			stake.Status,
		)
		if err != nil {
			return dbErr("insert_stake", err)
		}
		return nil
	})
}

// GetStake returns one stake by hash, or nil if unknown.
func (s *Store) GetStake(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash) (*poolmodel.Stake, error) {
	var row stakeRow
	err := s.db.GetContext(ctx, &row,
		selectStakeColumns+` WHERE currency_address = $1 AND block_hash = $2`,
		chain, hash,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get_stake", err)
	}
	stake := row.toModel()
	return &stake, nil
}

// GetStakesByStatus returns stakes in the given status ordered by height,
// optionally only above fromHeight.
func (s *Store) GetStakesByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, status poolmodel.StakeStatus, fromHeight *int64) ([]poolmodel.Stake, error) {
	query := selectStakeColumns + ` WHERE currency_address = $1 AND status = $2`
	args := []interface{}{chain, status}
	if fromHeight != nil {
		query += ` AND block_height > $3`
		args = append(args, *fromHeight)
	}
	query += ` ORDER BY block_height`

	var rows []stakeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbErr("get_stakes_by_status", err)
	}

	stakes := make([]poolmodel.Stake, 0, len(rows))
	for i := range rows {
		stakes = append(stakes, rows[i].toModel())
	}
	return stakes, nil
}

// SetStakeStatus moves a stake to a new status.
func (s *Store) SetStakeStatus(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash, status poolmodel.StakeStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stakes SET status = $1, updated_at = now()
		WHERE currency_address = $2 AND block_hash = $3`,
		status, chain, hash,
	)
	if err != nil {
		return dbErr("set_stake_status", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return dbErr("set_stake_status", sql.ErrNoRows)
	}
	return nil
}

// SetStakeStatusUnseal moves a stake to a terminal non-payable status
// (stale or stake guard) and returns the stake's sealed work to the open
// round, in one transaction.
func (s *Store) SetStakeStatusUnseal(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash, status poolmodel.StakeStatus) error {
	return s.inTx(ctx, "set_stake_status_unseal", func(tx *sqlx.Tx) error {
		var height int64
		err := tx.QueryRowContext(ctx, `
			UPDATE stakes SET status = $1, updated_at = now()
			WHERE currency_address = $2 AND block_hash = $3
			RETURNING block_height`,
			status, chain, hash,
		).Scan(&height)
		if err != nil {
			return dbErr("set_stake_status_unseal", err)
		}

		return moveRound(ctx, tx, chain, height, OpenRound)
	})
}
