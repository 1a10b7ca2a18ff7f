// Package payoutsender turns unpaid payout members into a single on-chain
// transaction per payment cycle. The member rows stay locked from
// selection until after the txid is committed, which is the mechanism that
// makes payment at-most-once: a crash before commit leaves the rows
// unpaid and retried, and a database failure after the coins have moved is
// a fatal invariant violation that stops the process.
package payoutsender

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// defaultPollInterval is how often the sender polls the wallet operation
// started by send_currency.
const defaultPollInterval = 100 * time.Millisecond

// PayableTx is one locked payment cycle, as handed out by the store.
type PayableTx interface {
	Members() []poolmodel.PayoutMember
	MarkPaid(ctx context.Context, txid poolmodel.Txid) error
	Commit() error
	Rollback() error
}

// Store is the sender's view of the store.
type Store interface {
	BeginPayable(ctx context.Context, chain poolmodel.CurrencyAddress) (PayableTx, error)
}

// NodeClient is the sender's view of the node gateway.
type NodeClient interface {
	SendCurrency(ctx context.Context, from poolmodel.CurrencyAddress, outputs []poolmodel.SendOutput) (string, error)
	GetOperationStatus(ctx context.Context, opids []string) ([]poolmodel.Operation, error)
}

// Service runs the payment cycle for one chain.
type Service struct {
	chain        poolmodel.CurrencyAddress
	poolAddress  poolmodel.CurrencyAddress
	txFee        poolmodel.Money
	store        Store
	node         NodeClient
	pollInterval time.Duration
	logger       *log.Logger
}

// NewService creates a payout sender for one chain. Payments are sent from
// poolAddress; txFee is the chain's transaction fee, below which a cycle
// is not worth sending.
func NewService(chain, poolAddress poolmodel.CurrencyAddress, txFee poolmodel.Money, store Store, node NodeClient, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		chain:        chain,
		poolAddress:  poolAddress,
		txFee:        txFee,
		store:        store,
		node:         node,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// RunOnce executes one payment cycle: select and lock the payable members,
// aggregate them into one output per identity, submit the transfer, wait
// for the wallet operation to finish, and record the txid before releasing
// the locks.
//
// An RPC failure rolls back and leaves every row unpaid for the next
// cycle. A database failure after the transfer succeeded returns an
// InvariantViolationError; the caller must stop the process.
func (s *Service) RunOnce(ctx context.Context) error {
	ptx, err := s.store.BeginPayable(ctx, s.chain)
	if err != nil {
		return err
	}

	members := ptx.Members()
	if len(members) == 0 {
		return ptx.Commit()
	}

	outputs, total := aggregate(members)
	if !total.GreaterThan(s.txFee) {
		ptx.Rollback()
		return &poolmodel.PayoutTooLowError{Amount: total, TxFee: s.txFee}
	}

	s.logger.Printf("[%s] sending %s to %d identities (%d member rows)",
		s.chain, total, len(outputs), len(members))

	opid, err := s.node.SendCurrency(ctx, s.poolAddress, outputs)
	if err != nil {
		ptx.Rollback()
		return err
	}

	txid, err := s.waitForOperation(opid)
	if err != nil {
		ptx.Rollback()
		return err
	}

	if err := ptx.MarkPaid(ctx, txid); err != nil {
		ptx.Rollback()
		return &poolmodel.InvariantViolationError{
			Detail: fmt.Sprintf("payment %s was sent but recording it failed", txid),
			Err:    err,
		}
	}
	if err := ptx.Commit(); err != nil {
		return &poolmodel.InvariantViolationError{
			Detail: fmt.Sprintf("payment %s was sent but committing it failed", txid),
			Err:    err,
		}
	}

	s.logger.Printf("[%s] sent payment %s", s.chain, txid)
	return nil
}

// aggregate folds member rewards into one output per identity, ordered by
// address.
func aggregate(members []poolmodel.PayoutMember) ([]poolmodel.SendOutput, poolmodel.Money) {
	sums := make(map[poolmodel.IdentityAddress]poolmodel.Money)
	for _, member := range members {
		sums[member.IdentityAddress] = sums[member.IdentityAddress].Add(member.Reward)
	}

	addresses := make([]poolmodel.IdentityAddress, 0, len(sums))
	for address := range sums {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })

	outputs := make([]poolmodel.SendOutput, 0, len(sums))
	total := poolmodel.ZeroMoney
	for _, address := range addresses {
		outputs = append(outputs, poolmodel.SendOutput{
			Address: poolmodel.CurrencyAddress(address),
			Amount:  sums[address],
		})
		total = total.Add(sums[address])
	}
	return outputs, total
}

// waitForOperation polls the wallet operation until it reaches a terminal
// status. It deliberately ignores context cancellation: once the transfer
// has been submitted the coordinator must learn its outcome, even during
// shutdown, because abandoning an executing operation would leave the
// store unable to tell whether coins moved.
func (s *Service) waitForOperation(opid string) (poolmodel.Txid, error) {
	for {
		ops, err := s.node.GetOperationStatus(context.Background(), []string{opid})
		if err != nil {
			s.logger.Printf("[%s] operation status for %s unavailable, retrying: %v", s.chain, opid, err)
			time.Sleep(s.pollInterval)
			continue
		}

		var op *poolmodel.Operation
		for i := range ops {
			if ops[i].OpID == opid {
				op = &ops[i]
				break
			}
		}
		if op == nil {
			time.Sleep(s.pollInterval)
			continue
		}

		switch op.Status {
		case poolmodel.OperationQueued, poolmodel.OperationExecuting:
			time.Sleep(s.pollInterval)
		case poolmodel.OperationSuccess:
			if op.Result == nil || op.Result.Txid == "" {
				return "", errors.New("operation succeeded without a txid")
			}
			return op.Result.Txid, nil
		case poolmodel.OperationFailed:
			return "", fmt.Errorf("send_currency operation %s failed: %s", opid, op.Error)
		default:
			return "", fmt.Errorf("send_currency operation %s in unknown status %q", opid, op.Status)
		}
	}
}
