package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Client implements ports.OrderExecutor and ports.PriceSource on top of the
// Binance USDⓈ-M futures API. Assets are mapped to venue symbols through
// Config.Symbols; unmapped assets can be neither priced nor traded.
type Client struct {
	futuresClient     *futures.Client
	logger            ports.Logger
	symbols           map[string]string
	quantityPrecision int32
	pricePrecision    int32
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	BaseURL           string            // Overrides the production/testnet URL when set
	Symbols           map[string]string // Asset (mint) -> venue symbol, e.g. "So111...": "SOLUSDT"
	QuantityPrecision int32             // Decimal places accepted for order quantities
	PricePrecision    int32             // Decimal places accepted for limit prices
	Logger            ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"symbols": len(cfg.Symbols),
	})

	symbols := make(map[string]string, len(cfg.Symbols))
	for asset, symbol := range cfg.Symbols {
		symbols[asset] = strings.ToUpper(symbol)
	}

	return &Client{
		futuresClient:     client,
		logger:            cfg.Logger,
		symbols:           symbols,
		quantityPrecision: cfg.QuantityPrecision,
		pricePrecision:    cfg.PricePrecision,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature, key format or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022, -5021: // Order rejected; -5021 is an IOC/FOK that could not fill
			mappedErr = ports.ErrExecutionFailure
		case -2013: // Order does not exist
			mappedErr = ports.ErrNotFound
		case -2019, -3005, -3041, -4047: // Margin, balance or position limits
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Symbol returns the venue symbol mapped to asset.
func (c *Client) Symbol(asset string) (string, bool) {
	symbol, ok := c.symbols[asset]
	return symbol, ok
}

// MarkPrice retrieves the current mark price of the symbol mapped to asset.
func (c *Client) MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	op := "MarkPrice"
	symbol, ok := c.Symbol(asset)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: no symbol mapped for asset %s: %w", op, asset, ports.ErrPriceUnavailable)
	}

	indexes, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, c.handleError(ctx, err, op))
	}
	if len(indexes) == 0 {
		return decimal.Zero, fmt.Errorf("%s: no price data returned for symbol %s: %w", op, symbol, ports.ErrPriceUnavailable)
	}

	price, err := decimal.NewFromString(indexes[0].MarkPrice)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: could not parse price '%s' for %s: %w", op, indexes[0].MarkPrice, symbol, ports.ErrPriceUnavailable)
	}
	return price, nil
}

// Submit places an immediate-or-cancel limit order priced at the slippage
// bound around the request's reference price, so the venue can never fill
// beyond the bound. Partial fills are reported as such; an order that expires
// without any fill is an execution failure.
func (c *Client) Submit(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	op := "Submit"
	symbol, ok := c.Symbol(req.Asset)
	if !ok {
		return domain.Fill{}, ports.NewExecutionError(fmt.Sprintf("no venue symbol mapped for asset %s", req.Asset), ports.ErrUnknownAsset)
	}

	quantity := req.Quantity.Truncate(c.quantityPrecision)
	if !quantity.IsPositive() {
		return domain.Fill{}, ports.NewExecutionError(
			fmt.Sprintf("quantity %s rounds to zero at precision %d", req.Quantity, c.quantityPrecision),
			ports.ErrInvalidQuantity,
		)
	}

	reference := req.ReferencePrice
	if !reference.IsPositive() {
		mark, err := c.MarkPrice(ctx, req.Asset)
		if err != nil {
			return domain.Fill{}, ports.NewExecutionError("no reference price for slippage bound", err)
		}
		reference = mark
	}
	limit := c.limitPrice(req.Side, reference, req.SlippageBps)

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeIOC).
		Quantity(quantity.String()).
		Price(limit.String()).
		NewClientOrderID(req.ClientOrderID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return domain.Fill{}, ports.NewExecutionError("order rejected", c.handleError(ctx, err, op))
	}

	fill, err := translateOrderResponse(order)
	if err != nil {
		return domain.Fill{}, ports.NewExecutionError("unreadable order response", err)
	}
	if !fill.Quantity.IsPositive() {
		return domain.Fill{}, ports.NewExecutionError(
			fmt.Sprintf("order %s on %s ended %s without a fill at limit %s", fill.ConfirmationID, symbol, order.Status, limit),
			nil,
		)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":    symbol,
		"side":      req.Side,
		"quantity":  quantity.String(),
		"limit":     limit.String(),
		"orderID":   fill.ConfirmationID,
		"filledQty": fill.Quantity.String(),
		"avgPrice":  fill.Price.String(),
		"status":    order.Status,
	})
	return fill, nil
}

// limitPrice is ref*(1+bps) for buys and ref*(1-bps) for sells, rounded
// toward the reference so the bound is never exceeded.
func (c *Client) limitPrice(side domain.OrderSide, reference, slippageBps decimal.Decimal) decimal.Decimal {
	offset := slippageBps.Div(bpsDivisor)
	if side == domain.Buy {
		return reference.Mul(decimal.NewFromInt(1).Add(offset)).RoundFloor(c.pricePrecision)
	}
	return reference.Mul(decimal.NewFromInt(1).Sub(offset)).RoundCeil(c.pricePrecision)
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) (domain.Fill, error) {
	if order == nil {
		return domain.Fill{}, fmt.Errorf("empty order response")
	}
	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("could not parse executed quantity '%s': %w", order.ExecutedQuantity, err)
	}
	avgPrice := decimal.Zero
	if order.AvgPrice != "" {
		if avgPrice, err = decimal.NewFromString(order.AvgPrice); err != nil {
			return domain.Fill{}, fmt.Errorf("could not parse average price '%s': %w", order.AvgPrice, err)
		}
	}

	ts := time.Now().UTC()
	if order.UpdateTime > 0 {
		ts = time.UnixMilli(order.UpdateTime).UTC()
	}
	return domain.Fill{
		ConfirmationID: strconv.FormatInt(order.OrderID, 10),
		Quantity:       executed,
		Price:          avgPrice,
		Timestamp:      ts,
	}, nil
}
