package work

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

const testChain = poolmodel.CurrencyAddress("iJhCezBExJHvtyH3fGhNnt2NhU4Ztkf2yq")

const (
	alice = poolmodel.IdentityAddress("iB5PRXMHLYcNtM8dfLB6KwfJrHU2mKDYuU")
	bob   = poolmodel.IdentityAddress("iGLN3bFv6uY2HAgQgVwiGriTRgQmTyJrwi")
)

type fakeNode struct {
	utxos     []poolmodel.Utxo
	minConf   int
	addresses []poolmodel.IdentityAddress
	err       error
}

func (f *fakeNode) ListUnspent(ctx context.Context, minConf int, addresses []poolmodel.IdentityAddress) ([]poolmodel.Utxo, error) {
	f.minConf = minConf
	f.addresses = addresses
	return f.utxos, f.err
}

type fakeWorkStore struct {
	round  int64
	shares map[poolmodel.IdentityAddress]poolmodel.Shares
	calls  int
}

func (f *fakeWorkStore) AddWork(ctx context.Context, chain poolmodel.CurrencyAddress, round int64, shares map[poolmodel.IdentityAddress]poolmodel.Shares) error {
	f.calls++
	f.round = round
	f.shares = shares
	return nil
}

func staker(address poolmodel.IdentityAddress) poolmodel.Staker {
	return poolmodel.Staker{
		CurrencyAddress: testChain,
		IdentityAddress: address,
		Status:          poolmodel.StakerStatusActive,
	}
}

func utxo(address poolmodel.IdentityAddress, sats int64) poolmodel.Utxo {
	return poolmodel.Utxo{Address: address, Amount: poolmodel.NewMoneyFromSats(sats)}
}

func TestSnapshotFoldsUtxosPerIdentity(t *testing.T) {
	node := &fakeNode{utxos: []poolmodel.Utxo{
		utxo(alice, 100_000_000),
		utxo(alice, 50_000_000),
		utxo(bob, 200_000_000),
		utxo(bob, 0), // non-positive amounts are dropped
	}}
	store := &fakeWorkStore{}

	accountant := NewAccountant(testChain, node, store)
	err := accountant.Snapshot(context.Background(), []poolmodel.Staker{staker(alice), staker(bob)}, nil)
	require.NoError(t, err)

	assert.Equal(t, StakeEligibilityConfirmations, node.minConf)
	assert.Equal(t, []poolmodel.IdentityAddress{alice, bob}, node.addresses)

	assert.Equal(t, int64(0), store.round)
	require.Len(t, store.shares, 2)
	assert.Equal(t, "150000000", store.shares[alice].String())
	assert.Equal(t, "200000000", store.shares[bob].String())
}

func TestSnapshotAddsRollbackBonusForPendingStakeFinder(t *testing.T) {
	node := &fakeNode{utxos: []poolmodel.Utxo{
		utxo(alice, 100_000_000),
	}}
	store := &fakeWorkStore{}

	pending := []poolmodel.Stake{{
		CurrencyAddress: testChain,
		FoundBy:         alice,
		SourceAmount:    poolmodel.NewMoneyFromSats(40_000_000),
		Status:          poolmodel.StakeStatusMaturing,
	}}

	accountant := NewAccountant(testChain, node, store)
	err := accountant.Snapshot(context.Background(), []poolmodel.Staker{staker(alice)}, pending)
	require.NoError(t, err)

	assert.Equal(t, "140000000", store.shares[alice].String())
}

func TestSnapshotNoBonusWhenFinderHasNoBalance(t *testing.T) {
	// the finder's only output is still re-maturing and list_unspent
	// returned nothing for it: no entry means no bonus either
	node := &fakeNode{utxos: []poolmodel.Utxo{
		utxo(bob, 100_000_000),
	}}
	store := &fakeWorkStore{}

	pending := []poolmodel.Stake{{
		CurrencyAddress: testChain,
		FoundBy:         alice,
		SourceAmount:    poolmodel.NewMoneyFromSats(40_000_000),
	}}

	accountant := NewAccountant(testChain, node, store)
	err := accountant.Snapshot(context.Background(), []poolmodel.Staker{staker(alice), staker(bob)}, pending)
	require.NoError(t, err)

	_, hasAlice := store.shares[alice]
	assert.False(t, hasAlice)
	assert.Equal(t, "100000000", store.shares[bob].String())
}

func TestSnapshotNoActiveStakersSkipsNode(t *testing.T) {
	node := &fakeNode{}
	store := &fakeWorkStore{}

	accountant := NewAccountant(testChain, node, store)
	err := accountant.Snapshot(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Nil(t, node.addresses)
	assert.Equal(t, 0, store.calls)
}

func TestSnapshotEmptyBalancesSkipsStore(t *testing.T) {
	node := &fakeNode{utxos: []poolmodel.Utxo{}}
	store := &fakeWorkStore{}

	accountant := NewAccountant(testChain, node, store)
	err := accountant.Snapshot(context.Background(), []poolmodel.Staker{staker(alice)}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, store.calls)
}
