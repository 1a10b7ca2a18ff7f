// Package coordinator sequences every other component on each new chain
// tip. One coordinator runs per configured chain as a single goroutine:
// every message (a tip, a maturity sweep, a distribution pass, a payment
// cycle) is fully handled before the next one is taken, which removes
// cross-task ordering concerns inside a chain.
package coordinator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/chimerapool/stakepool-coordinator/internal/chainconfig"
	"github.com/chimerapool/stakepool-coordinator/internal/eligibility"
	"github.com/chimerapool/stakepool-coordinator/internal/maturity"
	"github.com/chimerapool/stakepool-coordinator/internal/payoutsender"
	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
	"github.com/chimerapool/stakepool-coordinator/internal/rewards"
	"github.com/chimerapool/stakepool-coordinator/internal/stakedetect"
	"github.com/chimerapool/stakepool-coordinator/internal/webhook"
	"github.com/chimerapool/stakepool-coordinator/internal/work"
)

// NodeClient is the coordinator's view of the node gateway.
type NodeClient interface {
	GetBlock(ctx context.Context, hash poolmodel.BlockHash) (*poolmodel.Block, error)
	GetIdentity(ctx context.Context, address poolmodel.IdentityAddress) (*poolmodel.Identity, error)
	GetMiningInfo(ctx context.Context) (*poolmodel.MiningInfo, error)
	GetWalletInfo(ctx context.Context) (*poolmodel.WalletInfo, error)
	ListUnspent(ctx context.Context, minConf int, addresses []poolmodel.IdentityAddress) ([]poolmodel.Utxo, error)
}

// Store is the coordinator's view of the store.
type Store interface {
	GetStaker(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress) (*poolmodel.Staker, error)
	GetStakersByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, statuses ...poolmodel.StakerStatus) ([]poolmodel.Staker, error)
	UpsertStaker(ctx context.Context, staker *poolmodel.Staker) error
	SetStakerStatus(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress, status poolmodel.StakerStatus) error
	SetStakerCooldown(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress, untilHeight int64) error
	GetStakesByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, status poolmodel.StakeStatus, fromHeight *int64) ([]poolmodel.Stake, error)
	SetLastHeight(ctx context.Context, chain poolmodel.CurrencyAddress, height int64) error
}

// Intervals are the periods of the coordinator's timer-driven messages.
type Intervals struct {
	// MaturitySweep re-checks maturing stakes between tips. It should
	// not exceed the expected block time.
	MaturitySweep time.Duration
	// Distribute scans for matured stakes past the payout cursor.
	Distribute time.Duration
	// SendPayouts runs the payment cycle.
	SendPayouts time.Duration
}

// DefaultIntervals returns the production defaults.
func DefaultIntervals() Intervals {
	return Intervals{
		MaturitySweep: 10 * time.Minute,
		Distribute:    5 * time.Minute,
		SendPayouts:   15 * time.Minute,
	}
}

// Coordinator drives one chain.
type Coordinator struct {
	cfg       *chainconfig.Chain
	node      NodeClient
	store     Store
	checker   eligibility.Checker
	account   *work.Accountant
	detector  *stakedetect.Detector
	tracker   *maturity.Tracker
	rewards   *rewards.Service
	sender    *payoutsender.Service
	webhooks  *webhook.Sender
	tips      <-chan poolmodel.BlockHash
	intervals Intervals
	logger    *log.Logger
}

// New wires a coordinator for one chain. tips is the chain's tip stream;
// the caller keeps the stream's own goroutine running.
func New(
	cfg *chainconfig.Chain,
	node NodeClient,
	store Store,
	checker eligibility.Checker,
	account *work.Accountant,
	detector *stakedetect.Detector,
	tracker *maturity.Tracker,
	rewardsService *rewards.Service,
	sender *payoutsender.Service,
	webhooks *webhook.Sender,
	tips <-chan poolmodel.BlockHash,
	intervals Intervals,
	logger *log.Logger,
) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		node:      node,
		store:     store,
		checker:   checker,
		account:   account,
		detector:  detector,
		tracker:   tracker,
		rewards:   rewardsService,
		sender:    sender,
		webhooks:  webhooks,
		tips:      tips,
		intervals: intervals,
		logger:    logger,
	}
}

// ChainName returns the configured chain name.
func (c *Coordinator) ChainName() string {
	return c.cfg.ChainName
}

// ChainID returns the chain's currency address.
func (c *Coordinator) ChainID() poolmodel.CurrencyAddress {
	return c.cfg.ChainID
}

// Run consumes messages until ctx is cancelled or a fatal invariant
// violation occurs. Node errors skip to the next trigger; database errors
// abort the current iteration and are retried on the next one.
func (c *Coordinator) Run(ctx context.Context) error {
	sweep := time.NewTicker(c.intervals.MaturitySweep)
	defer sweep.Stop()
	distribute := time.NewTicker(c.intervals.Distribute)
	defer distribute.Stop()
	send := time.NewTicker(c.intervals.SendPayouts)
	defer send.Stop()

	c.logger.Printf("[%s] coordinator running", c.cfg.ChainName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("[%s] coordinator stopping", c.cfg.ChainName)
			return nil

		case hash, ok := <-c.tips:
			if !ok {
				return nil
			}
			if err := c.handleTip(ctx, hash); err != nil {
				c.logIterationError("tip", err)
			} else {
				blocksProcessed.WithLabelValues(c.cfg.ChainName).Inc()
			}

		case <-sweep.C:
			if err := c.handleSweep(ctx); err != nil {
				c.logIterationError("maturity sweep", err)
			}

		case <-distribute.C:
			if err := c.rewards.RunOnce(ctx); err != nil {
				c.logIterationError("distribute", err)
			}

		case <-send.C:
			err := c.sender.RunOnce(ctx)
			if errors.Is(err, poolmodel.ErrInvariantViolation) {
				// the chain and the store disagree about what was
				// paid; continuing could double-pay
				return err
			}
			if err != nil {
				if errors.Is(err, poolmodel.ErrPayoutTooLow) {
					c.logger.Printf("[%s] payment cycle skipped: %v", c.cfg.ChainName, err)
				} else {
					c.logIterationError("send payouts", err)
				}
			} else {
				paymentsSent.WithLabelValues(c.cfg.ChainName).Inc()
			}
		}
	}
}

func (c *Coordinator) logIterationError(op string, err error) {
	iterationErrors.WithLabelValues(c.cfg.ChainName, op).Inc()
	c.logger.Printf("[%s] %s failed: %v", c.cfg.ChainName, op, err)
}

// handleTip processes one new chain tip:
//
//  1. fetch the block
//  2. route identity updates through the eligibility checker
//  3. sweep maturing stakes
//  4. if the daemon is staking: snapshot work, then detect a stake
//  5. advance the height cursor
//
// Work accrual for a block is always visible before stake detection for
// the same block, because both happen inside this single pass.
func (c *Coordinator) handleTip(ctx context.Context, hash poolmodel.BlockHash) error {
	block, err := c.node.GetBlock(ctx, hash)
	if err != nil {
		return err
	}

	// Stakers active through this block stake this block; eligibility
	// changes below apply from the next one.
	activeStakers, err := c.activeStakers(ctx)
	if err != nil {
		return err
	}

	c.expireCooldowns(ctx, activeStakers, block.Height)

	for _, tx := range block.Tx {
		for _, vout := range tx.Vout {
			if vout.IdentityPrimary == nil {
				continue
			}
			if err := c.applyIdentityUpdate(ctx, block, vout.IdentityPrimary); err != nil {
				c.logger.Printf("[%s] identity update for %s skipped: %v",
					c.cfg.ChainName, vout.IdentityPrimary.IdentityAddress, err)
			}
		}
	}

	if err := c.handleSweep(ctx); err != nil {
		return err
	}

	info, err := c.node.GetMiningInfo(ctx)
	if err != nil {
		return err
	}
	if !info.Staking {
		c.logger.Printf("[%s] daemon not staking, work not counted for block %d", c.cfg.ChainName, block.Height)
		return c.store.SetLastHeight(ctx, c.cfg.ChainID, block.Height)
	}

	pending, err := c.store.GetStakesByStatus(ctx, c.cfg.ChainID, poolmodel.StakeStatusMaturing, nil)
	if err != nil {
		return err
	}

	if err := c.account.Snapshot(ctx, activeStakers, pending); err != nil {
		return err
	}

	stake, err := c.detector.Detect(ctx, block, activeStakers)
	if err != nil {
		return err
	}
	if stake != nil {
		stakesFound.WithLabelValues(c.cfg.ChainName).Inc()
		c.logger.Printf("[%s] stake found at height %d by %s, reward %s",
			c.cfg.ChainName, stake.BlockHeight, stake.FoundBy, stake.Amount)
		c.webhooks.Notify(webhook.MessageStakeFound, c.stakeEvent(activeStakers, stake))
	}

	return c.store.SetLastHeight(ctx, c.cfg.ChainID, block.Height)
}

// activeStakers returns the stakers whose work accrues: active ones and
// cooling-down ones, since cooldown is informational and the UTXO-level
// confirmation floor already handles re-maturation.
func (c *Coordinator) activeStakers(ctx context.Context) ([]poolmodel.Staker, error) {
	return c.store.GetStakersByStatus(ctx, c.cfg.ChainID,
		poolmodel.StakerStatusActive, poolmodel.StakerStatusCoolingDown)
}

// expireCooldowns returns stakers whose re-maturation window has closed to
// active status. Failures only log; the next tip retries.
func (c *Coordinator) expireCooldowns(ctx context.Context, stakers []poolmodel.Staker, height int64) {
	for _, staker := range stakers {
		if staker.Status != poolmodel.StakerStatusCoolingDown {
			continue
		}
		if staker.CooldownUntilHeight == nil || *staker.CooldownUntilHeight > height {
			continue
		}
		if err := c.store.SetStakerStatus(ctx, c.cfg.ChainID, staker.IdentityAddress, poolmodel.StakerStatusActive); err != nil {
			c.logger.Printf("[%s] failed to end cooldown for %s: %v", c.cfg.ChainName, staker.IdentityAddress, err)
		}
	}
}

// applyIdentityUpdate re-fetches an identity seen changing in this block
// and applies the staker transition it implies.
func (c *Coordinator) applyIdentityUpdate(ctx context.Context, block *poolmodel.Block, observed *poolmodel.Identity) error {
	// the in-block payload may be superseded within the same block;
	// always act on the node's current view
	identity, err := c.node.GetIdentity(ctx, observed.IdentityAddress)
	if err != nil {
		return err
	}

	existing, err := c.store.GetStaker(ctx, c.cfg.ChainID, identity.IdentityAddress)
	if err != nil {
		return err
	}

	switch c.checker.Decide(existing, identity) {
	case eligibility.TransitionNew:
		fee, err := c.cfg.FeeFraction()
		if err != nil {
			return err
		}
		staker := &poolmodel.Staker{
			CurrencyAddress: c.cfg.ChainID,
			IdentityAddress: identity.IdentityAddress,
			IdentityName:    identity.Name,
			MinPayout:       c.cfg.MinPayout(),
			Status:          poolmodel.StakerStatusActive,
			Fee:             fee,
		}
		if err := c.store.UpsertStaker(ctx, staker); err != nil {
			return err
		}
		c.logger.Printf("[%s] new staker %s (%s)", c.cfg.ChainName, identity.Name, identity.IdentityAddress)
		c.webhooks.Notify(webhook.MessageNewStaker, c.stakerEvent(identity))

	case eligibility.TransitionCooldown:
		until := block.Height + eligibility.CooldownBlocks
		if err := c.store.SetStakerCooldown(ctx, c.cfg.ChainID, identity.IdentityAddress, until); err != nil {
			return err
		}
		c.logger.Printf("[%s] staker %s modified, cooling down until height %d",
			c.cfg.ChainName, identity.IdentityAddress, until)

	case eligibility.TransitionLeaving:
		if err := c.store.SetStakerStatus(ctx, c.cfg.ChainID, identity.IdentityAddress, poolmodel.StakerStatusInactive); err != nil {
			return err
		}
		c.logger.Printf("[%s] staker %s left the pool", c.cfg.ChainName, identity.IdentityAddress)
		c.webhooks.Notify(webhook.MessageLeavingStaker, c.stakerEvent(identity))

	case eligibility.TransitionReturning:
		if err := c.store.SetStakerStatus(ctx, c.cfg.ChainID, identity.IdentityAddress, poolmodel.StakerStatusActive); err != nil {
			return err
		}
		c.logger.Printf("[%s] staker %s returned to the pool", c.cfg.ChainName, identity.IdentityAddress)
		c.webhooks.Notify(webhook.MessageNewStaker, c.stakerEvent(identity))
	}
	return nil
}

// handleSweep re-observes maturing stakes and notifies for any that
// matured.
func (c *Coordinator) handleSweep(ctx context.Context) error {
	matured, err := c.tracker.Sweep(ctx)
	for _, stake := range matured {
		stakesMatured.WithLabelValues(c.cfg.ChainName).Inc()
		stakeCopy := stake
		c.webhooks.Notify(webhook.MessageStakeMatured, c.stakeEvent(nil, &stakeCopy))
	}
	return err
}

func (c *Coordinator) stakeEvent(stakers []poolmodel.Staker, stake *poolmodel.Stake) webhook.StakeEvent {
	foundBy := string(stake.FoundBy)
	for i := range stakers {
		if stakers[i].IdentityAddress == stake.FoundBy && stakers[i].IdentityName != "" {
			foundBy = stakers[i].IdentityName
			break
		}
	}
	return webhook.StakeEvent{
		EventID:     webhook.NewEventID(),
		ChainName:   c.cfg.ChainName,
		BlockHeight: stake.BlockHeight,
		BlockHash:   stake.BlockHash,
		FoundBy:     foundBy,
		Amount:      stake.Amount,
	}
}

func (c *Coordinator) stakerEvent(identity *poolmodel.Identity) webhook.StakerEvent {
	return webhook.StakerEvent{
		EventID:         webhook.NewEventID(),
		ChainName:       c.cfg.ChainName,
		CurrencyAddress: c.cfg.ChainID,
		IdentityAddress: identity.IdentityAddress,
		IdentityName:    identity.Name,
	}
}

// SetStakerStatus is the operator surface for forcing a staker's status,
// exposed through the read API's PUT endpoint.
func (c *Coordinator) SetStakerStatus(ctx context.Context, identity poolmodel.IdentityAddress, status poolmodel.StakerStatus) error {
	return c.store.SetStakerStatus(ctx, c.cfg.ChainID, identity, status)
}

// StakingSupply describes the chain's and the pool's staking weight.
type StakingSupply struct {
	NetworkSupply float64 `json:"network_supply"`
	PoolSupply    float64 `json:"pool_supply"`
	StakerSupply  float64 `json:"staker_supply"`
}

// GetStakingSupply reports the network staking supply, the pool wallet's
// eligible balance, and optionally the summed stakeable balance of the
// given identities.
func (c *Coordinator) GetStakingSupply(ctx context.Context, identities []poolmodel.IdentityAddress) (*StakingSupply, error) {
	info, err := c.node.GetMiningInfo(ctx)
	if err != nil {
		return nil, err
	}
	wallet, err := c.node.GetWalletInfo(ctx)
	if err != nil {
		return nil, err
	}

	supply := &StakingSupply{
		NetworkSupply: info.StakingSupply,
		PoolSupply:    wallet.EligibleStakingBalance,
	}

	if len(identities) > 0 {
		utxos, err := c.node.ListUnspent(ctx, work.StakeEligibilityConfirmations, identities)
		if err != nil {
			return nil, err
		}
		total := poolmodel.ZeroMoney
		for _, utxo := range utxos {
			total = total.Add(utxo.Amount)
		}
		supply.StakerSupply = float64(total.Sats()) / 1e8
	}
	return supply, nil
}
