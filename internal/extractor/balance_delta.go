// Package extractor turns observed transactions into trade signals.
package extractor

import (
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
)

// Well-known quote mints. Balance changes in these are the payment leg of a
// swap, not the traded asset.
const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var hundred = decimal.NewFromInt(100)

// DefaultQuoteMints returns the quote mints ignored when none are configured.
func DefaultQuoteMints() []string {
	return []string{WrappedSOLMint, USDCMint}
}

// Config configures BalanceDelta.
type Config struct {
	Followed   []string
	QuoteMints []string        // Defaults to DefaultQuoteMints when empty
	BuyPercent decimal.Decimal // Signal strength for buys, defaults to 100
}

// BalanceDelta derives signals from the token balance changes of followed
// owners. It holds no mutable state and is safe for concurrent use.
type BalanceDelta struct {
	followed   map[string]struct{}
	quote      map[string]struct{}
	buyPercent decimal.Decimal
}

// NewBalanceDelta builds the extractor.
func NewBalanceDelta(cfg Config) *BalanceDelta {
	quotes := cfg.QuoteMints
	if len(quotes) == 0 {
		quotes = DefaultQuoteMints()
	}
	buyPct := cfg.BuyPercent
	if !buyPct.IsPositive() {
		buyPct = hundred
	}
	if buyPct.GreaterThan(hundred) {
		buyPct = hundred
	}

	return &BalanceDelta{
		followed:   toSet(cfg.Followed),
		quote:      toSet(quotes),
		buyPercent: buyPct,
	}
}

type mintChange struct {
	leader string
	pre    decimal.Decimal
	post   decimal.Decimal
}

// Extract returns the signal carried by tx, if any. Transactions that touch
// more than one non-quote mint of followed owners are ambiguous and ignored.
func (b *BalanceDelta) Extract(tx *domain.Transaction) (domain.TradeSignal, bool) {
	if tx == nil || tx.Failed {
		return domain.TradeSignal{}, false
	}

	changes := make(map[string]*mintChange)
	var order []string
	for _, bal := range tx.TokenBalances {
		if _, ok := b.followed[bal.Owner]; !ok {
			continue
		}
		if _, ok := b.quote[bal.Mint]; ok {
			continue
		}
		c, ok := changes[bal.Mint]
		if !ok {
			c = &mintChange{leader: bal.Owner}
			changes[bal.Mint] = c
			order = append(order, bal.Mint)
		}
		c.pre = c.pre.Add(bal.Pre)
		c.post = c.post.Add(bal.Post)
	}

	var (
		asset  string
		change *mintChange
	)
	for _, mint := range order {
		c := changes[mint]
		if c.post.Equal(c.pre) {
			continue
		}
		if change != nil {
			return domain.TradeSignal{}, false
		}
		asset, change = mint, c
	}
	if change == nil {
		return domain.TradeSignal{}, false
	}

	signal := domain.TradeSignal{
		Asset:           asset,
		Leader:          change.leader,
		SourceSignature: tx.Signature,
	}
	delta := change.post.Sub(change.pre)
	if delta.IsPositive() {
		signal.Side = domain.Buy
		signal.Percentage = b.buyPercent
		return signal, true
	}

	signal.Side = domain.Sell
	signal.Percentage = hundred
	if change.pre.IsPositive() {
		signal.Percentage = decimal.Min(hundred, delta.Abs().Div(change.pre).Mul(hundred))
	}
	return signal, true
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}
