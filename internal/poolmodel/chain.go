package poolmodel

// Identity is a VerusID as returned by the node's get_identity RPC, reduced
// to the fields the Eligibility Checker reasons about.
type Identity struct {
	IdentityAddress     IdentityAddress
	Name                string
	PrimaryAddresses    []CurrencyAddress
	MinimumSignatures   int32
	RevocationAuthority IdentityAddress
	RecoveryAuthority   IdentityAddress
	Flags               int32
	Timelock            int64
}

// Vout is one transaction output as reported by get_block at verbosity 2.
type Vout struct {
	ValueSat int64
	// IdentityPrimary carries the updated Identity when this output
	// rewrites an identity's primary definition, nil otherwise.
	IdentityPrimary *Identity
}

// Vin is one transaction input.
type Vin struct {
	ValueSat int64
}

// Tx is one transaction within a block.
type Tx struct {
	Txid         Txid
	Vout         []Vout
	Vin          []Vin
	SpentTxid    *Txid // set on vout[0] once the coinbase output has been spent
}

// ValidationType mirrors the node's block validation_type field.
type ValidationType string

const (
	ValidationTypeWork  ValidationType = "work"
	ValidationTypeStake ValidationType = "stake"
)

// Block is a chain block as returned by get_block(hash, verbosity=2).
type Block struct {
	Hash             BlockHash
	Height           int64
	Confirmations    int64 // may be negative: on a disowned fork
	ValidationType    ValidationType
	PosTxDDest       CurrencyAddress // target address if PoS, "" otherwise
	PosSourceTxid    Txid
	PosSourceVoutNum int32
	Tx               []Tx
}

// MiningInfo is the node's get_mining_info response, reduced to the fields
// the Coordinator Loop needs to decide whether to run the staking-only
// steps of a tip iteration.
type MiningInfo struct {
	Staking       bool
	StakingSupply float64
}

// WalletInfo is the node's get_wallet_info response.
type WalletInfo struct {
	EligibleStakingBalance float64
}

// OperationStatus mirrors z_get_operation_status's status field.
type OperationStatus string

const (
	OperationQueued    OperationStatus = "queued"
	OperationExecuting OperationStatus = "executing"
	OperationFailed    OperationStatus = "failed"
	OperationSuccess   OperationStatus = "success"
)

// Operation is one entry of a z_get_operation_status response.
type Operation struct {
	OpID   string
	Status OperationStatus
	Result *OperationResult
	Error  string
}

// OperationResult carries the txid once an async operation completes
// successfully.
type OperationResult struct {
	Txid Txid
}

// SendOutput is one (to, amount) pair of a send_currency call.
type SendOutput struct {
	Address CurrencyAddress
	Amount  Money
}

// Utxo is one unspent output as returned by list_unspent. Address is the
// identity address the output is held by, the key the work accountant folds
// balances under.
type Utxo struct {
	Txid    Txid
	Vout    int32
	Address IdentityAddress
	Amount  Money
}
