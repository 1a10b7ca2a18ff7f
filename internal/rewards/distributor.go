// Package rewards turns a matured stake and its sealed round of work into
// a payout: one member per contributing staker, fees deducted, every
// rounding decision toward zero so the summed member rewards can never
// exceed the block reward.
package rewards

import (
	"sort"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// Distribute computes the payout for one matured stake.
//
// Each worker with positive shares receives amount * (shares / total),
// minus the worker's fee (reduced by poolFeeDiscount, saturating at zero).
// Member rewards and fees are rounded toward zero at 8 decimal places; the
// residual, and the entire amount when the round holds no work, goes to
// the pool. The computation is deterministic: the same stake, workers and
// discount always produce identical members.
func Distribute(stake *poolmodel.Stake, workers []poolmodel.Worker, poolFeeDiscount poolmodel.Money) (*poolmodel.Payout, []poolmodel.PayoutMember, error) {
	totalWork := poolmodel.ZeroShares
	for _, worker := range workers {
		totalWork = totalWork.Add(worker.Shares)
	}

	payout := &poolmodel.Payout{
		CurrencyAddress: stake.CurrencyAddress,
		BlockHash:       stake.BlockHash,
		BlockHeight:     stake.BlockHeight,
		Amount:          stake.Amount,
		TotalWork:       totalWork,
	}

	if totalWork.IsZero() {
		// an empty round: the whole reward is pool fee
		payout.Fee = stake.Amount
		payout.Paid = poolmodel.ZeroMoney
		return payout, nil, nil
	}

	members := make([]poolmodel.PayoutMember, 0, len(workers))
	paid := poolmodel.ZeroMoney

	for _, worker := range workers {
		if worker.Shares.IsZero() {
			continue
		}

		effectiveFee := worker.Fee.Sub(poolFeeDiscount)
		if effectiveFee.IsNegative() {
			effectiveFee = poolmodel.ZeroMoney
		}

		share := stake.Amount.Mul(poolmodel.NewMoneyFromShares(worker.Shares)).Div(totalWork)
		feeAmount := share.Mul(effectiveFee)
		reward := share.Sub(feeAmount).RoundDownSats()
		feeAmount = feeAmount.RoundDownSats()

		members = append(members, poolmodel.PayoutMember{
			CurrencyAddress: stake.CurrencyAddress,
			IdentityAddress: worker.IdentityAddress,
			BlockHash:       stake.BlockHash,
			BlockHeight:     stake.BlockHeight,
			Shares:          worker.Shares,
			Reward:          reward,
			Fee:             feeAmount,
		})
		paid = paid.Add(reward)
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].IdentityAddress < members[j].IdentityAddress
	})

	payout.Paid = paid
	payout.Fee = stake.Amount.Sub(paid)
	payout.MemberCount = int32(len(members))

	if payout.Fee.IsNegative() {
		return nil, nil, &poolmodel.InvariantViolationError{
			Detail: "distributed rewards exceed the stake amount",
		}
	}

	return payout, members, nil
}
