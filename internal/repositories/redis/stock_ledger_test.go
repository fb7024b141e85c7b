package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/api/internal/repositories"
)

// fakeRedis evaluates the two ledger scripts in Go, keyed by their SHA.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]int64
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]int64)}
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *goredis.Cmd {
	cmd := goredis.NewCmd(ctx)
	if f.evalErr != nil {
		cmd.SetErr(f.evalErr)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	qty := int64(args[0].(int))
	current, ok := f.values[keys[0]]
	switch sha {
	case decrementScript.Hash():
		switch {
		case !ok:
			cmd.SetVal([]interface{}{int64(resultNotFound), int64(0)})
		case current < qty:
			cmd.SetVal([]interface{}{int64(resultInsufficient), current})
		default:
			f.values[keys[0]] = current - qty
			cmd.SetVal([]interface{}{int64(resultOK), current - qty})
		}
	case incrementScript.Hash():
		if !ok {
			cmd.SetVal([]interface{}{int64(resultNotFound), int64(0)})
			break
		}
		f.values[keys[0]] = current + qty
		cmd.SetVal([]interface{}{int64(resultOK), current + qty})
	default:
		cmd.SetErr(errors.New("NOSCRIPT unknown script"))
	}
	return cmd
}

func (f *fakeRedis) Eval(ctx context.Context, _ string, _ []string, _ ...interface{}) *goredis.Cmd {
	cmd := goredis.NewCmd(ctx)
	cmd.SetErr(errors.New("eval not supported"))
	return cmd
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha string, keys []string, args ...interface{}) *goredis.Cmd {
	return f.EvalSha(ctx, sha, keys, args...)
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *goredis.BoolSliceCmd {
	cmd := goredis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, script string) *goredis.StringCmd {
	cmd := goredis.NewStringCmd(ctx)
	cmd.SetVal(goredis.NewScript(script).Hash())
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	cmd := goredis.NewStringCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal(strconv.FormatInt(value, 10))
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = int64(value.(int))
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func TestStockLedgerDecrementAndIncrement(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	ledger, err := NewStockLedger(fake, "")
	require.NoError(t, err)
	require.NoError(t, ledger.Seed(ctx, "p1", 3))

	_, ok := fake.values["stock:{p1}"]
	require.True(t, ok, "expected hash-tagged key")

	level, err := ledger.Decrement(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, level)

	_, err = ledger.Decrement(ctx, "p1", 2)
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, repositories.ErrStockInsufficient)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, "stock.decrement", stockErr.Op)

	level, err = ledger.Increment(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 5, level)

	stock, err := ledger.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestStockLedgerUnknownProduct(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewStockLedger(newFakeRedis(), "inv:")
	require.NoError(t, err)

	_, err = ledger.GetStock(ctx, "ghost")
	assert.ErrorIs(t, err, repositories.ErrStockNotFound)
	_, err = ledger.Decrement(ctx, "ghost", 1)
	assert.ErrorIs(t, err, repositories.ErrStockNotFound)
	_, err = ledger.Increment(ctx, "ghost", 1)
	assert.ErrorIs(t, err, repositories.ErrStockNotFound)
}

func TestStockLedgerRejectsInvalidQuantity(t *testing.T) {
	ledger, err := NewStockLedger(newFakeRedis(), "")
	require.NoError(t, err)
	_, err = ledger.Decrement(context.Background(), "p1", 0)
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, repositories.StockErrorInvalidQuantity, stockErr.Code)
}

func TestStockLedgerSurfacesTransportErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.evalErr = errors.New("connection refused")
	ledger, err := NewStockLedger(fake, "")
	require.NoError(t, err)

	_, err = ledger.Decrement(context.Background(), "p1", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, repositories.ErrStockInsufficient)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewStockLedgerRequiresClient(t *testing.T) {
	_, err := NewStockLedger(nil, "")
	assert.Error(t, err)
}
