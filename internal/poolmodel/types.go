// Package poolmodel holds the domain types shared by every other package:
// the chain-native address and hash wrappers, the staker/work/stake/payout
// records persisted to the store, and the sentinel error taxonomy every
// component reports failures through.
package poolmodel

import "time"

// CurrencyAddress identifies a chain (the pool runs one coordinator per
// chain, but the store's tables are keyed by chain so a single Postgres
// instance serves all of them). It doubles as the type for any
// transparent wallet address, since both render as base58 strings of the
// same family.
type CurrencyAddress string

// IdentityAddress is the i-address of a VerusID.
type IdentityAddress string

// BlockHash is a hex-encoded block hash as returned by getblock.
type BlockHash string

// Txid is a hex-encoded transaction id.
type Txid string

// StakerStatus is the lifecycle state of a subscribed identity.
type StakerStatus string

const (
	StakerStatusActive      StakerStatus = "active"
	StakerStatusCoolingDown StakerStatus = "cooling_down"
	StakerStatusInactive    StakerStatus = "inactive"
)

// StakeStatus is the lifecycle state of a detected stake.
type StakeStatus string

const (
	StakeStatusMaturing   StakeStatus = "maturing"
	StakeStatusMatured    StakeStatus = "matured"
	StakeStatusStale      StakeStatus = "stale"
	StakeStatusStakeGuard StakeStatus = "stake_guard"
)

// Staker is a VerusID that has subscribed its stake rewards to the pool.
// Keyed by (CurrencyAddress, IdentityAddress).
type Staker struct {
	CurrencyAddress CurrencyAddress `db:"currency_address"`
	IdentityAddress IdentityAddress `db:"identity_address"`
	IdentityName    string          `db:"identity_name"`
	MinPayout       Money           `db:"min_payout"`
	Status          StakerStatus    `db:"status"`
	Fee             Money           `db:"fee"`
	// CooldownUntilHeight is set while Status == CoolingDown: the block
	// height at which the identity's 150-block re-maturation window
	// closes. Nil otherwise.
	CooldownUntilHeight *int64    `db:"cooldown_until_height"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Work is one staker's accumulated work-share balance for a round. Round 0
// is the open accumulator; a positive round is a sealed round tied to the
// block height of the stake it was sealed for.
type Work struct {
	CurrencyAddress CurrencyAddress `db:"currency_address"`
	Round           int64           `db:"round"`
	StakerAddress   IdentityAddress `db:"staker_address"`
	Shares          Shares          `db:"shares"`
}

// Stake is a block this pool won, tracked from detection through maturity
// or staleness. Keyed by (CurrencyAddress, BlockHash); BlockHeight is also
// unique per chain.
type Stake struct {
	CurrencyAddress CurrencyAddress `db:"currency_address"`
	BlockHash       BlockHash       `db:"block_hash"`
	BlockHeight     int64           `db:"block_height"`
	Amount          Money           `db:"amount"`
	FoundBy         IdentityAddress `db:"found_by"`
	SourceTxid      Txid            `db:"source_txid"`
	SourceVoutNum   int32           `db:"source_vout_num"`
	SourceAmount    Money           `db:"source_amount"`
	Status          StakeStatus     `db:"status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// Payout is one row per matured stake, describing the aggregate
// distribution computed by the reward distributor. Invariant: Amount ==
// Fee + Paid, and Paid == sum of its members' rewards.
type Payout struct {
	CurrencyAddress CurrencyAddress `db:"currency_address"`
	BlockHash       BlockHash       `db:"block_hash"`
	BlockHeight     int64           `db:"block_height"`
	Amount          Money           `db:"amount"`
	TotalWork       Shares          `db:"total_work"`
	Fee             Money           `db:"fee"`
	Paid            Money           `db:"paid"`
	MemberCount     int32           `db:"n_members"`
	CreatedAt       time.Time       `db:"created_at"`
}

// PayoutMember is one row per (stake, staker). Keyed by (CurrencyAddress,
// BlockHash, IdentityAddress). Once Txid is set the row is immutable.
type PayoutMember struct {
	CurrencyAddress CurrencyAddress `db:"currency_address"`
	IdentityAddress IdentityAddress `db:"identity_address"`
	BlockHash       BlockHash       `db:"block_hash"`
	BlockHeight     int64           `db:"block_height"`
	Shares          Shares          `db:"shares"`
	Reward          Money           `db:"reward"`
	Fee             Money           `db:"fee"`
	Txid            *Txid           `db:"txid"`
}

// SyncCursor tracks the highest block height and highest payout-processed
// block height a chain's coordinator has fully handled, so a restart
// resumes instead of reprocessing or skipping a round. Both fields are
// monotonically non-decreasing.
type SyncCursor struct {
	CurrencyAddress  CurrencyAddress `db:"currency_address"`
	LastHeight       int64           `db:"last_height"`
	LastPayoutHeight int64           `db:"last_payout_height"`
}

// Worker is one staker's sealed work for a single round, joined with the
// staker's fee at distribution time. The reward distributor consumes a
// slice of these to split a matured stake.
type Worker struct {
	IdentityAddress IdentityAddress `db:"staker_address"`
	Shares          Shares          `db:"shares"`
	Fee             Money           `db:"fee"`
}
