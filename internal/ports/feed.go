package ports

import (
	"context"

	"copyTrader/internal/domain"
)

// Subscription is a live stream of address-activity notifications.
type Subscription interface {
	// Notifications delivers events until the subscription ends. The channel is
	// closed when the subscription is torn down or fails permanently.
	Notifications() <-chan domain.Notification
	// Err returns the reason the notification channel was closed, or nil if it
	// was closed by Unsubscribe.
	Err() error
}

// TransactionFeed abstracts the chain RPC: the activity subscription and
// transaction lookups.
type TransactionFeed interface {
	// Subscribe opens one standing subscription covering all addresses.
	Subscribe(ctx context.Context, addresses []string) (Subscription, error)

	// FetchTransaction returns the full transaction for a signature.
	// Returns nil, nil if the node does not (yet) know the transaction.
	FetchTransaction(ctx context.Context, signature string) (*domain.Transaction, error)

	// Unsubscribe cancels the subscription and closes its notification channel.
	Unsubscribe(ctx context.Context, sub Subscription) error
}
