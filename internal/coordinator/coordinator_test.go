package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const (
	testChainID = poolmodel.CurrencyAddress("iJhCezBExJHvtyH3fGhNnt2NhU4Ztkf2yq")
	poolPrimary = poolmodel.CurrencyAddress("RDebEHgiTFDRDUN5Uisx7ntUuRdRJHt6SK")
	alice       = poolmodel.IdentityAddress("iB5PRXMHLYcNtM8dfLB6KwfJrHU2mKDYuU")
)

// fakeNode implements every node-facing interface the coordinator's
// components consume.
type fakeNode struct {
	ops *opLog

	block      *poolmodel.Block
	identities map[poolmodel.IdentityAddress]*poolmodel.Identity
	staking    bool
	utxos      []poolmodel.Utxo

	opid     string
	opStatus poolmodel.Operation
}

func (f *fakeNode) GetBlock(ctx context.Context, hash poolmodel.BlockHash) (*poolmodel.Block, error) {
	f.ops.record("GetBlock")
	return f.block, nil
}

func (f *fakeNode) GetIdentity(ctx context.Context, address poolmodel.IdentityAddress) (*poolmodel.Identity, error) {
	f.ops.record("GetIdentity")
	identity, ok := f.identities[address]
	if !ok {
		return nil, &poolmodel.NodeUnavailableError{Chain: "test", Method: "getidentity", Err: errors.New("not found")}
	}
	return identity, nil
}

func (f *fakeNode) GetMiningInfo(ctx context.Context) (*poolmodel.MiningInfo, error) {
	f.ops.record("GetMiningInfo")
	return &poolmodel.MiningInfo{Staking: f.staking, StakingSupply: 1000}, nil
}

func (f *fakeNode) GetWalletInfo(ctx context.Context) (*poolmodel.WalletInfo, error) {
	f.ops.record("GetWalletInfo")
	return &poolmodel.WalletInfo{EligibleStakingBalance: 250}, nil
}

func (f *fakeNode) ListUnspent(ctx context.Context, minConf int, addresses []poolmodel.IdentityAddress) ([]poolmodel.Utxo, error) {
	f.ops.record("ListUnspent")
	return f.utxos, nil
}

func (f *fakeNode) SendCurrency(ctx context.Context, from poolmodel.CurrencyAddress, outputs []poolmodel.SendOutput) (string, error) {
	f.ops.record("SendCurrency")
	return f.opid, nil
}

func (f *fakeNode) GetOperationStatus(ctx context.Context, opids []string) ([]poolmodel.Operation, error) {
	return []poolmodel.Operation{f.opStatus}, nil
}

type opLog struct {
	order []string
}

func (l *opLog) record(op string) {
	l.order = append(l.order, op)
}

func (l *opLog) indexOf(op string) int {
	for i, o := range l.order {
		if o == op {
			return i
		}
	}
	return -1
}

// fakeStore implements every store-facing interface the coordinator's
// components consume.
type fakeStore struct {
	ops *opLog

	stakers  map[poolmodel.IdentityAddress]*poolmodel.Staker
	maturing []poolmodel.Stake

	upserted     []*poolmodel.Staker
	statusSet    map[poolmodel.IdentityAddress]poolmodel.StakerStatus
	cooldownsSet map[poolmodel.IdentityAddress]int64
	insertedWork map[poolmodel.IdentityAddress]poolmodel.Shares
	inserted     []*poolmodel.Stake
	lastHeight   int64

	payable     *fakePayableTx
	markPaidErr error
}

func newFakeStore(ops *opLog) *fakeStore {
	return &fakeStore{
		ops:          ops,
		stakers:      make(map[poolmodel.IdentityAddress]*poolmodel.Staker),
		statusSet:    make(map[poolmodel.IdentityAddress]poolmodel.StakerStatus),
		cooldownsSet: make(map[poolmodel.IdentityAddress]int64),
	}
}

func (f *fakeStore) GetStaker(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress) (*poolmodel.Staker, error) {
	return f.stakers[identity], nil
}

func (f *fakeStore) GetStakersByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, statuses ...poolmodel.StakerStatus) ([]poolmodel.Staker, error) {
	var result []poolmodel.Staker
	for _, staker := range f.stakers {
		for _, status := range statuses {
			if staker.Status == status {
				result = append(result, *staker)
			}
		}
	}
	return result, nil
}

func (f *fakeStore) UpsertStaker(ctx context.Context, staker *poolmodel.Staker) error {
	f.ops.record("UpsertStaker")
	f.upserted = append(f.upserted, staker)
	f.stakers[staker.IdentityAddress] = staker
	return nil
}

func (f *fakeStore) SetStakerStatus(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress, status poolmodel.StakerStatus) error {
	f.ops.record("SetStakerStatus")
	f.statusSet[identity] = status
	return nil
}

func (f *fakeStore) SetStakerCooldown(ctx context.Context, chain poolmodel.CurrencyAddress, identity poolmodel.IdentityAddress, untilHeight int64) error {
	f.ops.record("SetStakerCooldown")
	f.cooldownsSet[identity] = untilHeight
	return nil
}

func (f *fakeStore) GetStakesByStatus(ctx context.Context, chain poolmodel.CurrencyAddress, status poolmodel.StakeStatus, fromHeight *int64) ([]poolmodel.Stake, error) {
	if status == poolmodel.StakeStatusMaturing {
		return f.maturing, nil
	}
	return nil, nil
}

func (f *fakeStore) SetStakeStatus(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash, status poolmodel.StakeStatus) error {
	f.ops.record("SetStakeStatus")
	return nil
}

func (f *fakeStore) SetStakeStatusUnseal(ctx context.Context, chain poolmodel.CurrencyAddress, hash poolmodel.BlockHash, status poolmodel.StakeStatus) error {
	f.ops.record("SetStakeStatusUnseal")
	return nil
}

func (f *fakeStore) SetLastHeight(ctx context.Context, chain poolmodel.CurrencyAddress, height int64) error {
	f.ops.record("SetLastHeight")
	f.lastHeight = height
	return nil
}

func (f *fakeStore) AddWork(ctx context.Context, chain poolmodel.CurrencyAddress, round int64, shares map[poolmodel.IdentityAddress]poolmodel.Shares) error {
	f.ops.record("AddWork")
	f.insertedWork = shares
	return nil
}

func (f *fakeStore) InsertStake(ctx context.Context, stake *poolmodel.Stake) error {
	f.ops.record("InsertStake")
	f.inserted = append(f.inserted, stake)
	return nil
}

func (f *fakeStore) SyncCursor(ctx context.Context, chain poolmodel.CurrencyAddress) (*poolmodel.SyncCursor, error) {
	return &poolmodel.SyncCursor{CurrencyAddress: chain}, nil
}

func (f *fakeStore) GetWorkersByRound(ctx context.Context, chain poolmodel.CurrencyAddress, round int64) ([]poolmodel.Worker, error) {
	return nil, nil
}

func (f *fakeStore) CreatePayout(ctx context.Context, payout *poolmodel.Payout, members []poolmodel.PayoutMember) error {
	f.ops.record("CreatePayout")
	return nil
}

func (f *fakeStore) BeginPayable(ctx context.Context, chain poolmodel.CurrencyAddress) (payoutsender.PayableTx, error) {
	if f.payable == nil {
		return &fakePayableTx{}, nil
	}
	return f.payable, nil
}

type fakePayableTx struct {
	members     []poolmodel.PayoutMember
	markPaidErr error
}

func (f *fakePayableTx) Members() []poolmodel.PayoutMember { return f.members }
func (f *fakePayableTx) MarkPaid(ctx context.Context, txid poolmodel.Txid) error {
	return f.markPaidErr
}
func (f *fakePayableTx) Commit() error   { return nil }
func (f *fakePayableTx) Rollback() error { return nil }

func testConfig() *chainconfig.Chain {
	return &chainconfig.Chain{
		ChainName:          "VRSCTEST",
		ChainID:            testChainID,
		PoolAddress:        "iBnKXQnD1BFyvE8V4UVr4UKQz8h7FqfVu9",
		PoolPrimaryAddress: poolPrimary,
		Fee:                "0.05",
		MinPayoutSats:      100_000_000,
		TxFeeSats:          10_000,
		IsTestChain:        true,
	}
}

func newTestCoordinator(node *fakeNode, store *fakeStore, tips <-chan poolmodel.BlockHash, intervals Intervals) *Coordinator {
	cfg := testConfig()
	return New(
		cfg,
		node,
		store,
		eligibility.Checker{PoolPrimaryAddress: poolPrimary, TestChain: true},
		work.NewAccountant(cfg.ChainID, node, store),
		stakedetect.NewDetector(cfg.ChainID, store),
		maturity.NewTracker(cfg.ChainID, node, store, nil),
		rewards.NewService(cfg.ChainID, store, poolmodel.ZeroMoney, nil),
		payoutsender.NewService(cfg.ChainID, cfg.PoolAddress, cfg.TxFee(), store, node, nil),
		webhook.NewSender(webhook.Config{}, nil),
		tips,
		intervals,
		nil,
	)
}

func activeStaker(identity poolmodel.IdentityAddress) *poolmodel.Staker {
	return &poolmodel.Staker{
		CurrencyAddress: testChainID,
		IdentityAddress: identity,
		IdentityName:    "alice@",
		Status:          poolmodel.StakerStatusActive,
	}
}

func stakeTip() *poolmodel.Block {
	return &poolmodel.Block{
		Hash:           "00aa",
		Height:         10000,
		Confirmations:  1,
		ValidationType: poolmodel.ValidationTypeStake,
		PosTxDDest:     poolmodel.CurrencyAddress(alice),
		PosSourceTxid:  "source",
		Tx: []poolmodel.Tx{
			{Txid: "coinbase", Vout: []poolmodel.Vout{{ValueSat: 600_000_000}}},
			{Txid: "spend", Vin: []poolmodel.Vin{{ValueSat: 12_500_000_000}}},
		},
	}
}

func TestHandleTipWorkAccruesBeforeStakeDetection(t *testing.T) {
	ops := &opLog{}
	node := &fakeNode{
		ops:     ops,
		block:   stakeTip(),
		staking: true,
		utxos: []poolmodel.Utxo{
			{Address: alice, Amount: poolmodel.NewMoneyFromSats(12_500_000_000)},
		},
	}
	store := newFakeStore(ops)
	store.stakers[alice] = activeStaker(alice)

	c := newTestCoordinator(node, store, nil, DefaultIntervals())
	require.NoError(t, c.handleTip(context.Background(), "00aa"))

	addWork := ops.indexOf("AddWork")
	insertStake := ops.indexOf("InsertStake")
	require.GreaterOrEqual(t, addWork, 0, "work snapshot must run")
	require.GreaterOrEqual(t, insertStake, 0, "stake must be detected")
	assert.Less(t, addWork, insertStake, "work accrual is visible before stake detection")

	require.Len(t, store.inserted, 1)
	assert.Equal(t, alice, store.inserted[0].FoundBy)
	assert.Equal(t, int64(10000), store.lastHeight)
}

func TestHandleTipSkipsWorkWhenNotStaking(t *testing.T) {
	ops := &opLog{}
	node := &fakeNode{ops: ops, block: stakeTip(), staking: false}
	store := newFakeStore(ops)
	store.stakers[alice] = activeStaker(alice)

	c := newTestCoordinator(node, store, nil, DefaultIntervals())
	require.NoError(t, c.handleTip(context.Background(), "00aa"))

	assert.Equal(t, -1, ops.indexOf("AddWork"))
	assert.Equal(t, -1, ops.indexOf("InsertStake"))
	// the cursor still advances so a restart resumes correctly
	assert.Equal(t, int64(10000), store.lastHeight)
}

func TestHandleTipRegistersNewEligibleStaker(t *testing.T) {
	ops := &opLog{}
	identity := &poolmodel.Identity{
		IdentityAddress:   alice,
		Name:              "alice@",
		PrimaryAddresses:  []poolmodel.CurrencyAddress{poolPrimary, "RSTWA7QcQaEbhS4iJha2p1b5eYvUPpVXGP"},
		MinimumSignatures: 1,
	}

	block := stakeTip()
	block.ValidationType = poolmodel.ValidationTypeWork
	block.Tx = []poolmodel.Tx{{
		Txid: "update",
		Vout: []poolmodel.Vout{{IdentityPrimary: identity}},
	}}

	node := &fakeNode{
		ops:        ops,
		block:      block,
		staking:    true,
		identities: map[poolmodel.IdentityAddress]*poolmodel.Identity{alice: identity},
	}
	store := newFakeStore(ops)

	c := newTestCoordinator(node, store, nil, DefaultIntervals())
	require.NoError(t, c.handleTip(context.Background(), "00aa"))

	require.Len(t, store.upserted, 1)
	assert.Equal(t, alice, store.upserted[0].IdentityAddress)
	assert.Equal(t, poolmodel.StakerStatusActive, store.upserted[0].Status)
	assert.Equal(t, int64(100_000_000), store.upserted[0].MinPayout.Sats())
}

func TestHandleTipCooldownOnModifiedActiveStaker(t *testing.T) {
	ops := &opLog{}
	identity := &poolmodel.Identity{
		IdentityAddress:   alice,
		Name:              "alice@",
		PrimaryAddresses:  []poolmodel.CurrencyAddress{poolPrimary, "RSTWA7QcQaEbhS4iJha2p1b5eYvUPpVXGP"},
		MinimumSignatures: 1,
	}

	block := stakeTip()
	block.ValidationType = poolmodel.ValidationTypeWork
	block.Tx = []poolmodel.Tx{{
		Txid: "update",
		Vout: []poolmodel.Vout{{IdentityPrimary: identity}},
	}}

	node := &fakeNode{
		ops:        ops,
		block:      block,
		staking:    true,
		identities: map[poolmodel.IdentityAddress]*poolmodel.Identity{alice: identity},
	}
	store := newFakeStore(ops)
	store.stakers[alice] = activeStaker(alice)

	c := newTestCoordinator(node, store, nil, DefaultIntervals())
	require.NoError(t, c.handleTip(context.Background(), "00aa"))

	assert.Equal(t, int64(10000+eligibility.CooldownBlocks), store.cooldownsSet[alice])
}

func TestHandleTipDeactivatesIneligibleStaker(t *testing.T) {
	ops := &opLog{}
	// the pool address was removed from the identity
	identity := &poolmodel.Identity{
		IdentityAddress:   alice,
		Name:              "alice@",
		PrimaryAddresses:  []poolmodel.CurrencyAddress{"RSTWA7QcQaEbhS4iJha2p1b5eYvUPpVXGP"},
		MinimumSignatures: 1,
	}

	block := stakeTip()
	block.ValidationType = poolmodel.ValidationTypeWork
	block.Tx = []poolmodel.Tx{{
		Txid: "update",
		Vout: []poolmodel.Vout{{IdentityPrimary: identity}},
	}}

	node := &fakeNode{
		ops:        ops,
		block:      block,
		staking:    true,
		identities: map[poolmodel.IdentityAddress]*poolmodel.Identity{alice: identity},
	}
	store := newFakeStore(ops)
	store.stakers[alice] = activeStaker(alice)

	c := newTestCoordinator(node, store, nil, DefaultIntervals())
	require.NoError(t, c.handleTip(context.Background(), "00aa"))

	assert.Equal(t, poolmodel.StakerStatusInactive, store.statusSet[alice])
}

func TestHandleTipExpiresFinishedCooldown(t *testing.T) {
	ops := &opLog{}
	block := stakeTip()
	block.ValidationType = poolmodel.ValidationTypeWork
	block.Tx = nil

	node := &fakeNode{ops: ops, block: block, staking: true}
	store := newFakeStore(ops)

	until := int64(9990)
	cooling := activeStaker(alice)
	cooling.Status = poolmodel.StakerStatusCoolingDown
	cooling.CooldownUntilHeight = &until
	store.stakers[alice] = cooling

	c := newTestCoordinator(node, store, nil, DefaultIntervals())
	require.NoError(t, c.handleTip(context.Background(), "00aa"))

	assert.Equal(t, poolmodel.StakerStatusActive, store.statusSet[alice])
}

func TestRunStopsOnInvariantViolation(t *testing.T) {
	ops := &opLog{}
	node := &fakeNode{
		ops:      ops,
		opid:     "opid-1",
		opStatus: poolmodel.Operation{OpID: "opid-1", Status: poolmodel.OperationSuccess, Result: &poolmodel.OperationResult{Txid: "paytx"}},
	}
	store := newFakeStore(ops)
	store.payable = &fakePayableTx{
		members: []poolmodel.PayoutMember{{
			CurrencyAddress: testChainID,
			IdentityAddress: alice,
			BlockHash:       "00aa",
			Reward:          poolmodel.NewMoneyFromSats(100_000_000),
		}},
		markPaidErr: errors.New("connection lost"),
	}

	intervals := DefaultIntervals()
	intervals.SendPayouts = 10 * time.Millisecond

	c := newTestCoordinator(node, store, nil, intervals)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.ErrorIs(t, err, poolmodel.ErrInvariantViolation)
}

func TestRunStopsWhenTipStreamCloses(t *testing.T) {
	ops := &opLog{}
	tips := make(chan poolmodel.BlockHash)
	close(tips)

	c := newTestCoordinator(&fakeNode{ops: ops}, newFakeStore(ops), tips, DefaultIntervals())
	require.NoError(t, c.Run(context.Background()))
}
