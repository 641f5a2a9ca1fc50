package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the monitor needs.
type RPCClient interface {
	// GetProgramAccounts returns every account owned by programID.
	GetProgramAccounts(ctx context.Context, programID string) ([]KeyedAccount, error)

	// GetAccountInfo returns a single account with the slot it was read at.
	// Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

// AccountInfo is a decoded account as returned by the RPC node.
type AccountInfo struct {
	Slot       int64
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// KeyedAccount is an account together with its address.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)
