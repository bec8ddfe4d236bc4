package solana

import "context"

// LogsSubscriber streams transaction log notifications.
type LogsSubscriber interface {
	// SubscribeLogs subscribes to transactions mentioning any of the filter accounts.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the connection and every subscription channel.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions limits notifications to transactions mentioning these accounts.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       any
}

// Failed reports whether the notified transaction failed on chain.
func (n LogNotification) Failed() bool {
	return n.Err != nil
}
