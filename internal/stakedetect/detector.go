// Package stakedetect recognizes when a new chain tip is a block staked by
// one of the pool's active stakers and records it, sealing the open work
// round at the block's height in the same transaction.
package stakedetect

import (
	"context"
	"fmt"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// Store is the detector's view of the store.
type Store interface {
	InsertStake(ctx context.Context, stake *poolmodel.Stake) error
}

// Detector inspects new tips for pooled stakes.
type Detector struct {
	chain poolmodel.CurrencyAddress
	store Store
}

// NewDetector creates a detector for one chain.
func NewDetector(chain poolmodel.CurrencyAddress, store Store) *Detector {
	return &Detector{chain: chain, store: store}
}

// Detect checks whether block is a stake won by one of activeStakers. On a
// hit it records the stake as maturing, which also seals the open round at
// the block height, and returns the new stake. Blocks that are not pooled
// stakes return (nil, nil).
func (d *Detector) Detect(ctx context.Context, block *poolmodel.Block, activeStakers []poolmodel.Staker) (*poolmodel.Stake, error) {
	if block.ValidationType != poolmodel.ValidationTypeStake {
		return nil, nil
	}
	// A tip already disowned before we saw it: there is nothing to seal.
	if block.Confirmations < 0 {
		return nil, nil
	}
	if block.PosTxDDest == "" {
		return nil, nil
	}

	finder := findStaker(activeStakers, poolmodel.IdentityAddress(block.PosTxDDest))
	if finder == nil {
		return nil, nil
	}

	if len(block.Tx) < 2 {
		return nil, fmt.Errorf("stake block %s has %d transactions, expected coinbase and staker spend", block.Hash, len(block.Tx))
	}

	coinbase := block.Tx[0]
	if len(coinbase.Vout) == 0 {
		return nil, fmt.Errorf("stake block %s has an empty coinbase", block.Hash)
	}
	reward := coinbase.Vout[0].ValueSat

	// The staker spend is the block's last transaction; its first input
	// is the UTXO that won the stake.
	stakerSpend := block.Tx[len(block.Tx)-1]
	if len(stakerSpend.Vin) == 0 {
		return nil, fmt.Errorf("stake block %s has no staker spend input", block.Hash)
	}
	sourceAmount := stakerSpend.Vin[0].ValueSat

	stake := &poolmodel.Stake{
		CurrencyAddress: d.chain,
		BlockHash:       block.Hash,
		BlockHeight:     block.Height,
		Amount:          poolmodel.NewMoneyFromSats(reward),
		FoundBy:         finder.IdentityAddress,
		SourceTxid:      block.PosSourceTxid,
		SourceVoutNum:   block.PosSourceVoutNum,
		SourceAmount:    poolmodel.NewMoneyFromSats(sourceAmount),
		Status:          poolmodel.StakeStatusMaturing,
	}

	if err := d.store.InsertStake(ctx, stake); err != nil {
		return nil, err
	}
	return stake, nil
}

func findStaker(stakers []poolmodel.Staker, identity poolmodel.IdentityAddress) *poolmodel.Staker {
	for i := range stakers {
		if stakers[i].IdentityAddress == identity {
			return &stakers[i]
		}
	}
	return nil
}
