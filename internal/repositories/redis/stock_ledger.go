// Package redis keeps per-product stock counters in Redis. Conditional mutations run as Lua
// scripts so the check and the write happen in one server-side step.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/storefront/api/internal/repositories"
)

const (
	resultOK           = 0
	resultInsufficient = -1
	resultNotFound     = -2

	defaultKeyPrefix = "stock:"
)

// KEYS[1] stock key, ARGV[1] quantity. Returns {code, level}.
var decrementScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {-2, 0}
end
local stock = tonumber(raw)
local qty = tonumber(ARGV[1])
if stock < qty then
  return {-1, stock}
end
return {0, redis.call('DECRBY', KEYS[1], qty)}
`)

var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-2, 0}
end
return {0, redis.call('INCRBY', KEYS[1], ARGV[1])}
`)

// Client is the subset of the go-redis client used by the ledger.
type Client interface {
	goredis.Scripter
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// StockLedger implements repositories.StockLedger on Redis counters.
type StockLedger struct {
	client Client
	prefix string
}

var _ repositories.StockLedger = (*StockLedger)(nil)

// NewStockLedger wraps a Redis client. An empty prefix defaults to "stock:".
func NewStockLedger(client Client, prefix string) (*StockLedger, error) {
	if client == nil {
		return nil, errors.New("redis stock ledger requires client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &StockLedger{client: client, prefix: prefix}, nil
}

// NewClient parses a redis:// URL into a client.
func NewClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

func (l *StockLedger) key(productID string) string {
	return l.prefix + "{" + strings.TrimSpace(productID) + "}"
}

// Seed sets the stock level of a product, creating the counter when needed.
func (l *StockLedger) Seed(ctx context.Context, productID string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("redis stock ledger: product %s stock cannot be negative", productID)
	}
	return l.client.Set(ctx, l.key(productID), stock, 0).Err()
}

// Ping reports whether Redis answers; used as a readiness probe.
func (l *StockLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *StockLedger) GetStock(ctx context.Context, productID string) (int, error) {
	raw, err := l.client.Get(ctx, l.key(productID)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, ledgerError("stock.get", repositories.StockErrorNotFound, productID, 0, nil)
	}
	if err != nil {
		return 0, fmt.Errorf("stock.get %s: %w", productID, err)
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("stock.get %s: malformed counter %q: %w", productID, raw, err)
	}
	return level, nil
}

func (l *StockLedger) Decrement(ctx context.Context, productID string, qty int) (int, error) {
	return l.run(ctx, "stock.decrement", decrementScript, productID, qty)
}

func (l *StockLedger) Increment(ctx context.Context, productID string, qty int) (int, error) {
	return l.run(ctx, "stock.increment", incrementScript, productID, qty)
}

func (l *StockLedger) run(ctx context.Context, op string, script *goredis.Script, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ledgerError(op, repositories.StockErrorInvalidQuantity, productID, 0, nil)
	}
	result, err := script.Run(ctx, l.client, []string{l.key(productID)}, qty).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", op, productID, err)
	}
	if len(result) != 2 {
		return 0, fmt.Errorf("%s %s: unexpected script result %v", op, productID, result)
	}
	code, level := result[0], int(result[1])
	switch code {
	case resultOK:
		return level, nil
	case resultInsufficient:
		return 0, ledgerError(op, repositories.StockErrorInsufficient, productID, level, nil)
	case resultNotFound:
		return 0, ledgerError(op, repositories.StockErrorNotFound, productID, 0, nil)
	default:
		return 0, fmt.Errorf("%s %s: unknown script code %d", op, productID, code)
	}
}

func ledgerError(op string, code repositories.StockErrorCode, productID string, available int, cause error) error {
	err := repositories.NewStockError(code, productID, available, cause)
	err.Op = op
	return err
}
