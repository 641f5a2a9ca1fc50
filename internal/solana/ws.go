package solana

import "context"

// WSClient defines Solana WebSocket account subscriptions.
type WSClient interface {
	// SubscribeAccount starts receiving change notifications for pubkey.
	// Subscribing to a key that is already subscribed is a no-op.
	SubscribeAccount(ctx context.Context, pubkey string) error

	// Notifications returns the channel all account notifications are delivered on.
	Notifications() <-chan AccountNotification

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification is a single account change pushed by the node.
type AccountNotification struct {
	Pubkey  string
	Slot    int64
	Account AccountInfo
}
