// Package chainntfs defines ChainOracle, the out-of-scope blockchain-client
// collaborator from spec.md 1/6: "the blockchain client ... providing
// transaction confirmations and block/epoch metadata, and a broadcaster
// accepting signed transactions." Only the interface and a test double
// live here -- a real implementation talks to whatever chain client the
// deployment wires in, which is explicitly out of scope.
package chainntfs

import "context"

// Confirmation reports where a transaction landed on chain and how many
// confirmations it currently has, matching spec.md 6's
// "confirm(txid) -> block_number x tx_index x confirmations".
type Confirmation struct {
	BlockNumber   uint64
	TxIndex       uint32
	Confirmations uint32
}

// Epoch is the chain tip as reported by current_epoch().
type Epoch struct {
	Height uint64
	Hash   [32]byte
}

// ChainOracle is the interface the core consumes for everything it needs
// to know about the base chain: confirmation depth of the funding/closing
// transactions, broadcasting signed transactions, and fee estimation for
// closing fee rates. Grounded on chainntfs.ChainNotifier's role (a trusted
// external source of chain events the core only ever calls into, never
// implements) but narrowed to the four operations spec.md 6 actually
// names, since the rest of ChainNotifier's surface (spend/reorg
// notifications, block-epoch streaming) belongs to the on-chain wallet
// and contract-watching subsystems this module doesn't implement.
type ChainOracle interface {
	// Confirm returns the current confirmation status of txid, or an
	// error if it's not yet been seen.
	Confirm(ctx context.Context, txid [32]byte) (Confirmation, error)

	// Broadcast submits a signed transaction to the network.
	Broadcast(ctx context.Context, rawTx []byte) error

	// CurrentEpoch returns the current chain tip.
	CurrentEpoch(ctx context.Context) (Epoch, error)

	// EstimateFeeRate returns a fee rate (in the chain's native fee unit
	// per byte/cycle) suitable for a transaction expected to confirm
	// promptly.
	EstimateFeeRate(ctx context.Context) (uint64, error)
}
