package stub

import (
	"context"
	"sync"

	"oracle-monitor/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	// ProgramAccounts is returned by GetProgramAccounts for every program.
	ProgramAccounts []solana.KeyedAccount
	// Accounts backs GetAccountInfo.
	Accounts map[string]*solana.AccountInfo
	Slot     int64

	// Err, when set, is returned from every call.
	Err error

	// Fetched records keys requested through GetAccountInfo.
	Fetched []string
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts: make(map[string]*solana.AccountInfo),
	}
}

// GetProgramAccounts returns the configured snapshot.
func (c *RPCClient) GetProgramAccounts(_ context.Context, _ string) ([]solana.KeyedAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	out := make([]solana.KeyedAccount, len(c.ProgramAccounts))
	copy(out, c.ProgramAccounts)
	return out, nil
}

// GetAccountInfo returns the stored account or nil when absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Fetched = append(c.Fetched, pubkey)
	if c.Err != nil {
		return nil, c.Err
	}
	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, c.Err
}

// AddAccount stores an account both in the snapshot and for single fetches.
func (c *RPCClient) AddAccount(pubkey string, data []byte, slot int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := solana.AccountInfo{Slot: slot, Data: data}
	c.ProgramAccounts = append(c.ProgramAccounts, solana.KeyedAccount{Pubkey: pubkey, Account: info})
	c.Accounts[pubkey] = &info
}

// SetAccount stores an account for single fetches only.
func (c *RPCClient) SetAccount(pubkey string, data []byte, slot int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = &solana.AccountInfo{Slot: slot, Data: data}
}

// FetchedKeys returns a copy of the keys requested so far.
func (c *RPCClient) FetchedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Fetched))
	copy(out, c.Fetched)
	return out
}

// SetErr changes the error returned from every call.
func (c *RPCClient) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}
