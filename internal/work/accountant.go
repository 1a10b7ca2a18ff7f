// Package work implements the per-tip staking-balance snapshot. Each
// staker's work balance at the open round grows by their eligible staking
// balance every block, which makes sealed round totals a proxy for each
// staker's expected contribution to the round's stake.
package work

import (
	"context"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// StakeEligibilityConfirmations is the confirmation depth a UTXO needs
// before the chain considers it stakeable. Outputs younger than this are
// excluded from the snapshot by list_unspent itself.
const StakeEligibilityConfirmations = 150

// NodeClient is the accountant's view of the node gateway.
type NodeClient interface {
	ListUnspent(ctx context.Context, minConf int, addresses []poolmodel.IdentityAddress) ([]poolmodel.Utxo, error)
}

// Store is the accountant's view of the store.
type Store interface {
	AddWork(ctx context.Context, chain poolmodel.CurrencyAddress, round int64, shares map[poolmodel.IdentityAddress]poolmodel.Shares) error
}

// Accountant credits the open round with each active staker's current
// stakeable balance.
type Accountant struct {
	chain poolmodel.CurrencyAddress
	node  NodeClient
	store Store
}

// NewAccountant creates an accountant for one chain.
func NewAccountant(chain poolmodel.CurrencyAddress, node NodeClient, store Store) *Accountant {
	return &Accountant{chain: chain, node: node, store: store}
}

// Snapshot asks the node for every stakeable UTXO owned by the active
// stakers, folds them into per-identity balances, re-adds the staking
// UTXO of any pending stake its finder would otherwise lose credit for
// during the post-stake cooldown, and persists the result into the open
// round.
func (a *Accountant) Snapshot(ctx context.Context, activeStakers []poolmodel.Staker, pendingStakes []poolmodel.Stake) error {
	if len(activeStakers) == 0 {
		return nil
	}

	addresses := make([]poolmodel.IdentityAddress, 0, len(activeStakers))
	for _, staker := range activeStakers {
		addresses = append(addresses, staker.IdentityAddress)
	}

	utxos, err := a.node.ListUnspent(ctx, StakeEligibilityConfirmations, addresses)
	if err != nil {
		return err
	}

	balances := make(map[poolmodel.IdentityAddress]poolmodel.Shares)
	for _, utxo := range utxos {
		if utxo.Amount.IsNegative() || utxo.Amount.IsZero() {
			continue
		}
		shares := poolmodel.NewSharesFromSats(utxo.Amount.Sats())
		balances[utxo.Address] = balances[utxo.Address].Add(shares)
	}

	// A staking UTXO that just won a block re-matures for 150 blocks and
	// drops out of list_unspent. Credit it back so finding a stake never
	// lowers the finder's work.
	for _, stake := range pendingStakes {
		if _, ok := balances[stake.FoundBy]; ok {
			bonus := poolmodel.NewSharesFromSats(stake.SourceAmount.Sats())
			balances[stake.FoundBy] = balances[stake.FoundBy].Add(bonus)
		}
	}

	if len(balances) == 0 {
		return nil
	}

	return a.store.AddWork(ctx, a.chain, 0, balances)
}
