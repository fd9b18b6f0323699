package solanarpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

// --- websocket JSON-RPC envelope ---

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`

	// Set on subscription notifications only.
	Method string              `json:"method"`
	Params *notificationParams `json:"params"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// --- logsSubscribe ---

type notificationParams struct {
	Subscription uint64      `json:"subscription"`
	Result       logsPayload `json:"result"`
}

type logsPayload struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
		Logs      []string        `json:"logs"`
	} `json:"value"`
}

func isErr(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// --- getTransaction ---

// tokenAmount converts the raw integer amount into token units.
func tokenAmount(ui *rpc.UiTokenAmount) (decimal.Decimal, error) {
	if ui == nil || ui.Amount == "" {
		return decimal.Zero, nil
	}
	raw, err := decimal.NewFromString(ui.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token amount %q: %w", ui.Amount, err)
	}
	return raw.Shift(-int32(ui.Decimals)), nil
}

// translateTransaction pairs pre and post token balances by account index.
// A token account that appears on one side only had a zero balance on the other.
func translateTransaction(signature string, res *rpc.GetTransactionResult) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		Signature: signature,
		Slot:      res.Slot,
	}
	if res.BlockTime != nil {
		tx.BlockTime = time.Unix(int64(*res.BlockTime), 0).UTC()
	}
	if res.Transaction != nil {
		decoded, err := res.Transaction.GetTransaction()
		if err != nil {
			return nil, fmt.Errorf("%w: decode transaction %s: %v", ports.ErrInvalidRequest, signature, err)
		}
		if decoded != nil {
			for _, key := range decoded.Message.AccountKeys {
				tx.AccountKeys = append(tx.AccountKeys, key.String())
			}
			if tx.Signature == "" && len(decoded.Signatures) > 0 {
				tx.Signature = decoded.Signatures[0].String()
			}
		}
	}
	if res.Meta == nil {
		return tx, nil
	}
	tx.Failed = res.Meta.Err != nil
	tx.LogMessages = res.Meta.LogMessages

	byIndex := make(map[uint16]*domain.TokenBalanceChange)
	side := func(balances []rpc.TokenBalance, post bool) error {
		for _, b := range balances {
			amt, err := tokenAmount(b.UiTokenAmount)
			if err != nil {
				return err
			}
			c, ok := byIndex[b.AccountIndex]
			if !ok {
				c = &domain.TokenBalanceChange{Mint: b.Mint.String()}
				if b.Owner != nil {
					c.Owner = b.Owner.String()
				}
				byIndex[b.AccountIndex] = c
			}
			if post {
				c.Post = amt
			} else {
				c.Pre = amt
			}
		}
		return nil
	}
	if err := side(res.Meta.PreTokenBalances, false); err != nil {
		return nil, err
	}
	if err := side(res.Meta.PostTokenBalances, true); err != nil {
		return nil, err
	}

	indexes := make([]uint16, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, idx := range indexes {
		tx.TokenBalances = append(tx.TokenBalances, *byIndex[idx])
	}
	return tx, nil
}
