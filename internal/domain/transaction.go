package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification is a single address-activity event delivered by the feed.
// Delivery is at-least-once and unordered.
type Notification struct {
	Signature string
	Slot      uint64
	Address   string // Followed address the subscription was opened for
	Failed    bool   // The transaction was included but its execution failed
}

// Transaction is the chain-agnostic view of a confirmed transaction that the
// signal extractor works on.
type Transaction struct {
	Signature     string
	Slot          uint64
	BlockTime     time.Time
	Failed        bool
	AccountKeys   []string
	LogMessages   []string
	TokenBalances []TokenBalanceChange
}

// TokenBalanceChange is the before/after token balance of one owner for one mint.
type TokenBalanceChange struct {
	Owner string
	Mint  string
	Pre   decimal.Decimal
	Post  decimal.Decimal
}

// Delta returns Post - Pre.
func (c TokenBalanceChange) Delta() decimal.Decimal {
	return c.Post.Sub(c.Pre)
}
