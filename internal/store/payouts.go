package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

type payoutRow struct {
	CurrencyAddress string           `db:"currency_address"`
	BlockHash       string           `db:"block_hash"`
	BlockHeight     int64            `db:"block_height"`
	Amount          int64            `db:"amount"`
	TotalWork       poolmodel.Shares `db:"total_work"`
	Fee             int64            `db:"fee"`
	Paid            int64            `db:"paid"`
	MemberCount     int32            `db:"n_members"`
	CreatedAt       time.Time        `db:"created_at"`
}

func (r *payoutRow) toModel() poolmodel.Payout {
	return poolmodel.Payout{
		CurrencyAddress: poolmodel.CurrencyAddress(r.CurrencyAddress),
		BlockHash:       poolmodel.BlockHash(r.BlockHash),
		BlockHeight:     r.BlockHeight,
		Amount:          poolmodel.NewMoneyFromSats(r.Amount),
		TotalWork:       r.TotalWork,
		Fee:             poolmodel.NewMoneyFromSats(r.Fee),
		Paid:            poolmodel.NewMoneyFromSats(r.Paid),
		MemberCount:     r.MemberCount,
		CreatedAt:       r.CreatedAt,
	}
}

type payoutMemberRow struct {
	CurrencyAddress string           `db:"currency_address"`
	IdentityAddress string           `db:"identity_address"`
	BlockHash       string           `db:"block_hash"`
	BlockHeight     int64            `db:"block_height"`
	Shares          poolmodel.Shares `db:"shares"`
	Reward          int64            `db:"reward"`
	Fee             int64            `db:"fee"`
	Txid            *string          `db:"txid"`
}

func (r *payoutMemberRow) toModel() poolmodel.PayoutMember {
	member := poolmodel.PayoutMember{
		CurrencyAddress: poolmodel.CurrencyAddress(r.CurrencyAddress),
		IdentityAddress: poolmodel.IdentityAddress(r.IdentityAddress),
		BlockHash:       poolmodel.BlockHash(r.BlockHash),
		BlockHeight:     r.BlockHeight,
		Shares:          r.Shares,
		Reward:          poolmodel.NewMoneyFromSats(r.Reward),
		Fee:             poolmodel.NewMoneyFromSats(r.Fee),
	}
	if r.Txid != nil {
		txid := poolmodel.Txid(*r.Txid)
		member.Txid = &txid
	}
	return member
}

// CreatePayout stores a payout with all of its members and advances the
// chain's last payout height, in one transaction.
func (s *Store) CreatePayout(ctx context.Context, payout *poolmodel.Payout, members []poolmodel.PayoutMember) error {
	return s.inTx(ctx, "create_payout", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (currency_address, block_hash, block_height, amount,
			                     total_work, fee, paid, n_members)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			payout.CurrencyAddress, payout.BlockHash, payout.BlockHeight, payout.Amount.Sats(),
			payout.TotalWork, payout.Fee.Sats(), payout.Paid.Sats(), payout.MemberCount,
		)
		if err != nil {
			return dbErr("create_payout", err)
		}

		for i := range members {
			m := &members[i]
			_, err := tx.ExecContext(ctx, `
				INSERT INTO payout_members (currency_address, identity_address, block_hash,
				                            block_height, shares, reward, fee)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.CurrencyAddress, m.IdentityAddress, m.BlockHash,
				m.BlockHeight, m.Shares, m.Reward.Sats(), m.Fee.Sats(),
			)
			if err != nil {
				return dbErr("create_payout", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO synchronization (currency_address, last_height, last_payout_height)
			VALUES ($1, 0, $2)
			ON CONFLICT (currency_address) DO UPDATE SET
				last_payout_height = GREATEST(synchronization.last_payout_height, EXCLUDED.last_payout_height)`,
			payout.CurrencyAddress, payout.BlockHeight,
		)
		if err != nil {
			return dbErr("create_payout", err)
		}
		return nil
	})
}

// GetPayout returns the payout for one stake, or nil if not distributed
// yet.
func (s *Store) GetPayout(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash) (*poolmodel.Payout, error) {
	var row payoutRow
	err := s.db.GetContext(ctx, &row, `
		SELECT currency_address, block_hash, block_height, amount, total_work,
		       fee, paid, n_members, created_at
		FROM payouts
		WHERE currency_address = $1 AND block_hash = $2`,
		chain, hash,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, dbErr("get_payout", err)
	}
	payout := row.toModel()
	return &payout, nil
}

// GetPayoutMembers returns every member of one payout.
func (s *Store) GetPayoutMembers(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash) ([]poolmodel.PayoutMember, error) {
	var rows []payoutMemberRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT currency_address, identity_address, block_hash, block_height,
		       shares, reward, fee, txid
		FROM payout_members
		WHERE currency_address = $1 AND block_hash = $2
		ORDER BY identity_address`,
		chain, hash,
	)
	if err != nil {
		return nil, dbErr("get_payout_members", err)
	}

	members := make([]poolmodel.PayoutMember, 0, len(rows))
	for i := range rows {
		members = append(members, rows[i].toModel())
	}
	return members, nil
}

// GetWorkersByRound joins a sealed round's work rows with the staker table
// to produce the reward distributor's input.
func (s *Store) GetWorkersByRound(ctx context.Context, chain poolmodel.CurrencyAddress, round int64) ([]poolmodel.Worker, error) {
	var workers []poolmodel.Worker
	err := s.db.SelectContext(ctx, &workers, `
		SELECT w.staker_address, w.shares, s.fee
		FROM work w
		JOIN stakers s ON s.currency_address = w.currency_address
		              AND s.identity_address = w.staker_address
		WHERE w.currency_address = $1 AND w.round = $2
		ORDER BY w.staker_address`,
		chain, round,
	)
	if err != nil {
		return nil, dbErr("get_workers_by_round", err)
	}
	return workers, nil
}
