package rewards

import (
	"context"
	"log"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// Store is the distributor service's view of the store.
type Store interface {
	SyncCursor(ctx context.Context, chain poolmodel.CurrencyAddress) (*poolmodel.SyncCursor, error)
	GetStakesByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, status poolmodel.StakeStatus, fromHeight *int64) ([]poolmodel.Stake, error)
	GetWorkersByRound(ctx context.Context, chain poolmodel.CurrencyAddress, round int64) ([]poolmodel.Worker, error)
	CreatePayout(ctx context.Context, payout *poolmodel.Payout, members []poolmodel.PayoutMember) error
}

// Service walks matured stakes past the payout cursor and persists their
// distributions. It is driven by the coordinator's timer.
type Service struct {
	chain           poolmodel.CurrencyAddress
	store           Store
	poolFeeDiscount poolmodel.Money
	logger          *log.Logger
}

// NewService creates a distributor service for one chain.
func NewService(chain poolmodel.CurrencyAddress, store Store, poolFeeDiscount poolmodel.Money, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{chain: chain, store: store, poolFeeDiscount: poolFeeDiscount, logger: logger}
}

// RunOnce distributes every matured stake above the last payout height.
// Advancing the cursor happens inside CreatePayout's transaction, so a
// crash between stakes resumes exactly where it stopped.
func (s *Service) RunOnce(ctx context.Context) error {
	cursor, err := s.store.SyncCursor(ctx, s.chain)
	if err != nil {
		return err
	}

	stakes, err := s.store.GetStakesByStatus(ctx, s.chain, poolmodel.StakeStatusMatured, &cursor.LastPayoutHeight)
	if err != nil {
		return err
	}

	for _, stake := range stakes {
		workers, err := s.store.GetWorkersByRound(ctx, s.chain, stake.BlockHeight)
		if err != nil {
			return err
		}

		payout, members, err := Distribute(&stake, workers, s.poolFeeDiscount)
		if err != nil {
			return err
		}

		if err := s.store.CreatePayout(ctx, payout, members); err != nil {
			return err
		}

		s.logger.Printf("[%s] distributed stake %s@%d: %s to %d members, %s pool fee",
			s.chain, stake.BlockHash, stake.BlockHeight, payout.Paid, payout.MemberCount, payout.Fee)
	}
	return nil
}
