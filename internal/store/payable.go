package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// PayableTx is one payment cycle's transaction. BeginPayable selects every
// currently payable member FOR UPDATE; the row locks are held until Commit
// or Rollback, which is what makes the on-chain send and the txid write
// atomic from the point of view of any concurrent cycle. Only one payment
// cycle can be in flight per chain.
type PayableTx struct {
	tx      *sqlx.Tx
	chain   poolmodel.CurrencyAddress
	members []poolmodel.PayoutMember
	done    bool
}

// BeginPayable opens the payment transaction and locks the payable rows.
//
// A member is payable when the per-identity sum of its unpaid rewards
// exceeds the staker's minimum payout, or when the staker has left the
// pool, in which case everything outstanding is paid regardless of
// threshold.
func (s *Store) BeginPayable(ctx context.Context, chain poolmodel.CurrencyAddress) (*PayableTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbErr("begin_payable", err)
	}

	var rows []payoutMemberRow
	err = tx.SelectContext(ctx, &rows, `
		WITH pm_sum AS (
			SELECT currency_address, identity_address, SUM(reward) AS total_rewards
			FROM payout_members
			WHERE currency_address = $1 AND txid IS NULL
			GROUP BY currency_address, identity_address
		)
		SELECT pm.currency_address,
		       pm.identity_address,
		       pm.block_hash,
		       pm.block_height,
		       pm.shares,
		       pm.reward,
		       pm.fee,
		       pm.txid
		FROM payout_members pm
		JOIN pm_sum ON pm.currency_address = pm_sum.currency_address
		           AND pm.identity_address = pm_sum.identity_address
		           AND pm.txid IS NULL
		JOIN stakers s ON pm.currency_address = s.currency_address
		              AND pm.identity_address = s.identity_address
		WHERE pm_sum.total_rewards > s.min_payout
		   OR s.status = 'inactive'
		ORDER BY pm.identity_address, pm.block_height
		FOR UPDATE OF pm`,
		chain,
	)
	if err != nil {
		tx.Rollback()
		return nil, dbErr("select_payable", err)
	}

	members := make([]poolmodel.PayoutMember, 0, len(rows))
	for i := range rows {
		members = append(members, rows[i].toModel())
	}

	return &PayableTx{tx: tx, chain: chain, members: members}, nil
}

// Members returns the locked payable members, possibly empty.
func (p *PayableTx) Members() []poolmodel.PayoutMember {
	return p.members
}

// MarkPaid sets the txid on every locked member. A member that already
// carries a txid is an invariant violation: the write-once contract on
// paid rows has been broken and the process must not continue issuing
// payments.
func (p *PayableTx) MarkPaid(ctx context.Context, txid poolmodel.Txid) error {
	for i := range p.members {
		m := &p.members[i]
		result, err := p.tx.ExecContext(ctx, `
			UPDATE payout_members
			SET txid = $1, paid_at = now()
			WHERE currency_address = $2 AND block_hash = $3
			  AND identity_address = $4 AND txid IS NULL`,
			txid, m.CurrencyAddress, m.BlockHash, m.IdentityAddress,
		)
		if err != nil {
			return dbErr("set_paid", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return dbErr("set_paid", err)
		}
		if n != 1 {
			return &poolmodel.InvariantViolationError{
				Detail: fmt.Sprintf("set_paid touched %d rows for member %s@%s", n, m.IdentityAddress, m.BlockHash),
			}
		}
		paidTxid := txid
		m.Txid = &paidTxid
	}
	return nil
}

// Commit releases the row locks, making the txid writes durable.
func (p *PayableTx) Commit() error {
	if p.done {
		return nil
	}
	p.done = true
	if err := p.tx.Commit(); err != nil {
		return dbErr("commit_payable", err)
	}
	return nil
}

// Rollback abandons the cycle; nothing is marked paid.
func (p *PayableTx) Rollback() error {
	if p.done {
		return nil
	}
	p.done = true
	if err := p.tx.Rollback(); err != nil {
		return dbErr("rollback_payable", err)
	}
	return nil
}
