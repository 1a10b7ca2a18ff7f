// Package maturity re-observes every maturing stake until it either
// matures, turns out to sit on a disowned fork, or is confiscated by the
// chain's stake-guard protocol.
package maturity

import (
	"context"
	"log"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// MaturityConfirmations is the coinbase maturity depth: a stake's reward
// becomes distributable once the block has this many confirmations.
const MaturityConfirmations = 100

// NodeClient is the tracker's view of the node gateway.
type NodeClient interface {
	GetBlock(ctx context.Context, hash poolmodel.BlockHash) (*poolmodel.Block, error)
}

// Store is the tracker's view of the store.
type Store interface {
	GetStakesByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, status poolmodel.StakeStatus, fromHeight *int64) ([]poolmodel.Stake, error)
	SetStakeStatus(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash, status poolmodel.StakeStatus) error
	SetStakeStatusUnseal(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash, status poolmodel.StakeStatus) error
}

// Tracker sweeps the maturing stakes of one chain.
type Tracker struct {
	chain  poolmodel.CurrencyAddress
	node   NodeClient
	store  Store
	logger *log.Logger
}

// NewTracker creates a tracker for one chain.
func NewTracker(chain poolmodel.CurrencyAddress, node NodeClient, store Store, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{chain: chain, node: node, store: store, logger: logger}
}

// Sweep re-observes every maturing stake once and applies any transition.
// It returns the stakes that matured during this sweep so the caller can
// notify operators. Sweeping is idempotent: stakes already in a terminal
// state are not selected, and re-observing a still-maturing stake changes
// nothing.
func (t *Tracker) Sweep(ctx context.Context) ([]poolmodel.Stake, error) {
	stakes, err := t.store.GetStakesByStatus(ctx, t.chain, poolmodel.StakeStatusMaturing, nil)
	if err != nil {
		return nil, err
	}

	var matured []poolmodel.Stake
	for _, stake := range stakes {
		block, err := t.node.GetBlock(ctx, stake.BlockHash)
		if err != nil {
			// node trouble ends the sweep; the next one retries
			return matured, err
		}

		switch {
		case block.Confirmations < 0:
			t.logger.Printf("[%s] stake %s@%d is on a disowned fork, unsealing round",
				t.chain, stake.BlockHash, stake.BlockHeight)
			if err := t.store.SetStakeStatusUnseal(ctx, t.chain, stake.BlockHash, poolmodel.StakeStatusStale); err != nil {
				return matured, err
			}

		case coinbaseSpent(block):
			// StakeGuard spent the coinbase: the stake was a caught
			// double-sign and its reward is forfeit.
			t.logger.Printf("[%s] stake %s@%d confiscated by stake guard, unsealing round",
				t.chain, stake.BlockHash, stake.BlockHeight)
			if err := t.store.SetStakeStatusUnseal(ctx, t.chain, stake.BlockHash, poolmodel.StakeStatusStakeGuard); err != nil {
				return matured, err
			}

		case block.Confirmations >= MaturityConfirmations:
			if err := t.store.SetStakeStatus(ctx, t.chain, stake.BlockHash, poolmodel.StakeStatusMatured); err != nil {
				return matured, err
			}
			stake.Status = poolmodel.StakeStatusMatured
			matured = append(matured, stake)
		}
	}
	return matured, nil
}

func coinbaseSpent(block *poolmodel.Block) bool {
	return len(block.Tx) > 0 && block.Tx[0].SpentTxid != nil
}
