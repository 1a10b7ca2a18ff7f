package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// stakerRow is the wire shape of one stakers row. BIGINT satoshi columns
// are scanned as int64 and converted at the edge; DECIMAL columns scan
// directly into the fixed-point types.
type stakerRow struct {
	CurrencyAddress     string          `db:"currency_address"`
	IdentityAddress     string          `db:"identity_address"`
	IdentityName        string          `db:"identity_name"`
	MinPayout           int64           `db:"min_payout"`
	Status              string          `db:"status"`
	Fee                 poolmodel.Money `db:"fee"`
	CooldownUntilHeight *int64          `db:"cooldown_until_height"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func (r *stakerRow) toModel() poolmodel.Staker {
	return poolmodel.Staker{
		CurrencyAddress:     poolmodel.CurrencyAddress(r.CurrencyAddress),
		IdentityAddress:     poolmodel.IdentityAddress(r.IdentityAddress),
		IdentityName:        r.IdentityName,
		MinPayout:           poolmodel.NewMoneyFromSats(r.MinPayout),
		Status:              poolmodel.StakerStatus(r.Status),
		Fee:                 r.Fee,
		CooldownUntilHeight: r.CooldownUntilHeight,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

const selectStakerColumns = `
	SELECT currency_address, identity_address, identity_name, min_payout,
	       status, fee, cooldown_until_height, created_at, updated_at
	FROM stakers`

// UpsertStaker inserts or updates a staker by its composite key.
func (s *Store) UpsertStaker(ctx context.Context, staker *poolmodel.Staker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stakers (currency_address, identity_address, identity_name,
		                     min_payout, status, fee, cooldown_until_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (currency_address, identity_address) DO UPDATE SET
			identity_name = EXCLUDED.identity_name,
			min_payout = EXCLUDED.min_payout,
			status = EXCLUDED.status,
			fee = EXCLUDED.fee,
			cooldown_until_height = EXCLUDED.cooldown_until_height,
			updated_at = now()`,
		staker.CurrencyAddress, staker.IdentityAddress, staker.IdentityName,
		staker.MinPayout.Sats(), staker.Status, staker.Fee, staker.CooldownUntilHeight,
	)
	if err != nil {
		return dbErr("upsert_staker", err)
	}
	return nil
}

// GetStaker returns one staker, or nil if the identity is unknown to the
// pool on this chain.
func (s *Store) GetStaker(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress) (*poolmodel.Staker, error) {
	var row stakerRow
	err := s.db.GetContext(ctx, &row,
		selectStakerColumns+` WHERE currency_address = $1 AND identity_address = $2`,
		chain, identity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get_staker", err)
	}
	staker := row.toModel()
	return &staker, nil
}

// GetStakersByStatus returns every staker on the chain with one of the
// given statuses, ordered by identity address.
func (s *Store) GetStakersByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, statuses ...poolmodel.StakerStatus) ([]poolmodel.Staker, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := buildInQuery(
		selectStakerColumns+` WHERE currency_address = ? AND status IN (?) ORDER BY identity_address`,
		chain, statuses,
	)
	if err != nil {
		return nil, dbErr("get_stakers_by_status", err)
	}

	var rows []stakerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, dbErr("get_stakers_by_status", err)
	}

	stakers := make([]poolmodel.Staker, 0, len(rows))
	for i := range rows {
		stakers = append(stakers, rows[i].toModel())
	}
	return stakers, nil
}

// SetStakerStatus moves a staker to a new status and clears any cooldown
// marker.
func (s *Store) SetStakerStatus(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress, status poolmodel.StakerStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stakers
		SET status = $1, cooldown_until_height = NULL, updated_at = now()
		WHERE currency_address = $2 AND identity_address = $3`,
		status, chain, identity,
	)
	if err != nil {
		return dbErr("set_staker_status", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return dbErr("set_staker_status", sql.ErrNoRows)
	}
	return nil
}

// SetStakerCooldown marks a staker as cooling down until the given height.
// Cooldown is informational: the staker keeps accruing work, because
// list_unspent at the eligibility confirmation depth already excludes the
// re-maturing outputs.
func (s *Store) SetStakerCooldown(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress, untilHeight int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stakers
		SET status = $1, cooldown_until_height = $2, updated_at = now()
		WHERE currency_address = $3 AND identity_address = $4`,
		poolmodel.StakerStatusCoolingDown, untilHeight, chain, identity,
	)
	if err != nil {
		return dbErr("set_staker_cooldown", err)
	}
	return nil
}
