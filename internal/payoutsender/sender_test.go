package payoutsender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

const (
	testChain   = poolmodel.CurrencyAddress("iJhCezBExJHvtyH3fGhNnt2NhU4Ztkf2yq")
	poolAddress = poolmodel.CurrencyAddress("iBnKXQnD1BFyvE8V4UVr4UKQz8h7FqfVu9")
)

const (
	alice = poolmodel.IdentityAddress("iB5PRXMHLYcNtM8dfLB6KwfJrHU2mKDYuU")
	bob   = poolmodel.IdentityAddress("iGLN3bFv6uY2HAgQgVwiGriTRgQmTyJrwi")
)

type fakePayableTx struct {
	members     []poolmodel.PayoutMember
	markPaidErr error
	commitErr   error

	paidTxid   *poolmodel.Txid
	committed  bool
	rolledBack bool
}

func (f *fakePayableTx) Members() []poolmodel.PayoutMember { return f.members }

func (f *fakePayableTx) MarkPaid(ctx context.Context, txid poolmodel.Txid) error {
	if f.markPaidErr != nil {
		return f.markPaidErr
	}
	f.paidTxid = &txid
	return nil
}

func (f *fakePayableTx) Commit() error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakePayableTx) Rollback() error {
	f.rolledBack = true
	return nil
}

type fakePayableStore struct {
	tx  *fakePayableTx
	err error
}

func (f *fakePayableStore) BeginPayable(ctx context.Context, chain poolmodel.CurrencyAddress) (PayableTx, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

type fakeSendNode struct {
	opid        string
	sendErr     error
	statuses    []poolmodel.Operation
	statusIndex int

	sentFrom    poolmodel.CurrencyAddress
	sentOutputs []poolmodel.SendOutput
	sends       int
}

func (f *fakeSendNode) SendCurrency(ctx context.Context, from poolmodel.CurrencyAddress, outputs []poolmodel.SendOutput) (string, error) {
	f.sends++
	f.sentFrom = from
	f.sentOutputs = outputs
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.opid, nil
}

func (f *fakeSendNode) GetOperationStatus(ctx context.Context, opids []string) ([]poolmodel.Operation, error) {
	if f.statusIndex >= len(f.statuses) {
		return nil, nil
	}
	op := f.statuses[f.statusIndex]
	f.statusIndex++
	return []poolmodel.Operation{op}, nil
}

func member(address poolmodel.IdentityAddress, hash poolmodel.BlockHash, rewardSats int64) poolmodel.PayoutMember {
	return poolmodel.PayoutMember{
		CurrencyAddress: testChain,
		IdentityAddress: address,
		BlockHash:       hash,
		Reward:          poolmodel.NewMoneyFromSats(rewardSats),
	}
}

func newTestService(store Store, node NodeClient) *Service {
	service := NewService(testChain, poolAddress, poolmodel.NewMoneyFromSats(10_000), store, node, nil)
	service.pollInterval = time.Millisecond
	return service
}

func TestRunOnceEmptySelectionCommitsAndReturns(t *testing.T) {
	tx := &fakePayableTx{}
	node := &fakeSendNode{}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	require.NoError(t, service.RunOnce(context.Background()))

	assert.True(t, tx.committed)
	assert.Equal(t, 0, node.sends)
}

func TestRunOnceAggregatesAndPays(t *testing.T) {
	tx := &fakePayableTx{members: []poolmodel.PayoutMember{
		member(alice, "aa", 40_000_000),
		member(alice, "bb", 40_000_000),
		member(alice, "cc", 30_000_000),
		member(bob, "aa", 25_000_000),
	}}
	node := &fakeSendNode{
		opid: "opid-1",
		statuses: []poolmodel.Operation{
			{OpID: "opid-1", Status: poolmodel.OperationExecuting},
			{OpID: "opid-1", Status: poolmodel.OperationSuccess, Result: &poolmodel.OperationResult{Txid: "paytx"}},
		},
	}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	require.NoError(t, service.RunOnce(context.Background()))

	assert.Equal(t, poolAddress, node.sentFrom)
	require.Len(t, node.sentOutputs, 2)
	// outputs are ordered by address: alice sorts before bob
	assert.Equal(t, poolmodel.CurrencyAddress(alice), node.sentOutputs[0].Address)
	assert.Equal(t, int64(110_000_000), node.sentOutputs[0].Amount.Sats())
	assert.Equal(t, poolmodel.CurrencyAddress(bob), node.sentOutputs[1].Address)
	assert.Equal(t, int64(25_000_000), node.sentOutputs[1].Amount.Sats())

	require.NotNil(t, tx.paidTxid)
	assert.Equal(t, poolmodel.Txid("paytx"), *tx.paidTxid)
	assert.True(t, tx.committed)
}

func TestRunOnceBelowTxFeeSkipsCycle(t *testing.T) {
	tx := &fakePayableTx{members: []poolmodel.PayoutMember{
		member(alice, "aa", 5_000),
	}}
	node := &fakeSendNode{}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	err := service.RunOnce(context.Background())
	require.ErrorIs(t, err, poolmodel.ErrPayoutTooLow)

	assert.True(t, tx.rolledBack)
	assert.Equal(t, 0, node.sends)
	assert.Nil(t, tx.paidTxid)
}

func TestRunOnceSendFailureLeavesRowsUnpaid(t *testing.T) {
	tx := &fakePayableTx{members: []poolmodel.PayoutMember{
		member(alice, "aa", 40_000_000),
	}}
	node := &fakeSendNode{sendErr: &poolmodel.NodeUnavailableError{Chain: "test", Method: "sendcurrency"}}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	err := service.RunOnce(context.Background())
	require.ErrorIs(t, err, poolmodel.ErrNodeUnavailable)

	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
	assert.Nil(t, tx.paidTxid)
}

func TestRunOnceOperationFailedLeavesRowsUnpaid(t *testing.T) {
	tx := &fakePayableTx{members: []poolmodel.PayoutMember{
		member(alice, "aa", 40_000_000),
	}}
	node := &fakeSendNode{
		opid: "opid-1",
		statuses: []poolmodel.Operation{
			{OpID: "opid-1", Status: poolmodel.OperationFailed, Error: "insufficient funds"},
		},
	}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	err := service.RunOnce(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, poolmodel.ErrInvariantViolation)

	assert.True(t, tx.rolledBack)
	assert.Nil(t, tx.paidTxid)
}

func TestRunOncePostSendDatabaseFailureIsFatal(t *testing.T) {
	tx := &fakePayableTx{
		members:     []poolmodel.PayoutMember{member(alice, "aa", 40_000_000)},
		markPaidErr: errors.New("connection lost"),
	}
	node := &fakeSendNode{
		opid: "opid-1",
		statuses: []poolmodel.Operation{
			{OpID: "opid-1", Status: poolmodel.OperationSuccess, Result: &poolmodel.OperationResult{Txid: "paytx"}},
		},
	}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	err := service.RunOnce(context.Background())
	require.ErrorIs(t, err, poolmodel.ErrInvariantViolation)
}

func TestRunOncePostSendCommitFailureIsFatal(t *testing.T) {
	tx := &fakePayableTx{
		members:   []poolmodel.PayoutMember{member(alice, "aa", 40_000_000)},
		commitErr: errors.New("connection lost"),
	}
	node := &fakeSendNode{
		opid: "opid-1",
		statuses: []poolmodel.Operation{
			{OpID: "opid-1", Status: poolmodel.OperationSuccess, Result: &poolmodel.OperationResult{Txid: "paytx"}},
		},
	}
	service := newTestService(&fakePayableStore{tx: tx}, node)

	err := service.RunOnce(context.Background())
	require.ErrorIs(t, err, poolmodel.ErrInvariantViolation)
}

func TestWaitForOperationSkipsForeignOps(t *testing.T) {
	node := &fakeSendNode{
		opid: "opid-1",
		statuses: []poolmodel.Operation{
			{OpID: "other", Status: poolmodel.OperationSuccess, Result: &poolmodel.OperationResult{Txid: "wrong"}},
			{OpID: "opid-1", Status: poolmodel.OperationSuccess, Result: &poolmodel.OperationResult{Txid: "right"}},
		},
	}
	service := newTestService(&fakePayableStore{}, node)

	txid, err := service.waitForOperation("opid-1")
	require.NoError(t, err)
	assert.Equal(t, poolmodel.Txid("right"), txid)
}
