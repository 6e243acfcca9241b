package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/ratelimit"
)

var depositAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeBackend 按字段返回固定结果，用来覆盖各种错误分支
type fakeBackend struct {
	tx         *types.Transaction
	isPending  bool
	txErr      error
	receipt    *types.Receipt
	receiptErr error
	height     uint64
	heightErr  error
	chainID    *big.Int
	calls      int
	balance    *big.Int
	balanceErr error
	block      *types.Block
	blockErr   error
	receipts   map[common.Hash]*types.Receipt
}

func (f *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	f.calls++
	return f.tx, f.isPending, f.txErr
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return f.receipt, f.receiptErr
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeBackend) BlockByNumber(context.Context, *big.Int) (*types.Block, error) {
	return f.block, f.blockErr
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.height, f.heightErr }

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func signedTx(t *testing.T, key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	t.Helper()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(20_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     value,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)
	return signed
}

func newFakeAdapter(t *testing.T, f *fakeBackend, breakers *ratelimit.Manager) *Adapter {
	t.Helper()
	if f.chainID == nil {
		f.chainID = big.NewInt(1337)
	}
	a, err := New(context.Background(), f, Options{CallTimeout: time.Second, Breakers: breakers})
	require.NoError(t, err)
	return a
}

func TestFetchTransaction_NotFound(t *testing.T) {
	a := newFakeAdapter(t, &fakeBackend{txErr: ethereum.NotFound}, nil)

	_, err := a.FetchTransaction(context.Background(), "0x"+strings.Repeat("0", 64))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrChainUnavailable)
}

func TestFetchTransaction_NodeErrorIsUnavailable(t *testing.T) {
	a := newFakeAdapter(t, &fakeBackend{txErr: errors.New("502 bad gateway")}, nil)

	_, err := a.FetchTransaction(context.Background(), "0x"+strings.Repeat("0", 64))
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
}

func TestFetchTransaction_ReceiptStatus(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	tx := signedTx(t, key, big.NewInt(1337), 0, depositAddr, big.NewInt(42))

	cases := []struct {
		name       string
		receipt    *types.Receipt
		receiptErr error
		status     domain.TxStatus
		block      *uint64
	}{
		{"success", &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}, nil, domain.TxStatusSuccess, ptr(10)},
		{"reverted", &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(11)}, nil, domain.TxStatusFailed, ptr(11)},
		{"receipt not indexed yet", nil, ethereum.NotFound, domain.TxStatusPending, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newFakeAdapter(t, &fakeBackend{tx: tx, receipt: tc.receipt, receiptErr: tc.receiptErr}, nil)

			got, err := a.FetchTransaction(context.Background(), tx.Hash().Hex())
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.block, got.BlockNumber)
			assert.Equal(t, strings.ToLower(from.Hex()), got.From)
			assert.Equal(t, strings.ToLower(depositAddr.Hex()), got.To)
			assert.Equal(t, int64(42), got.Value.Int64())
		})
	}
}

func TestFetchTransaction_PendingSkipsReceipt(t *testing.T) {
	key, _ := crypto.GenerateKey()
	tx := signedTx(t, key, big.NewInt(1337), 0, depositAddr, big.NewInt(1))
	a := newFakeAdapter(t, &fakeBackend{tx: tx, isPending: true, receiptErr: errors.New("must not be called")}, nil)

	got, err := a.FetchTransaction(context.Background(), tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, got.Status)
	assert.Nil(t, got.BlockNumber)
}

func TestBreaker_OpensOnNodeFailuresButNotOnNotFound(t *testing.T) {
	f := &fakeBackend{txErr: ethereum.NotFound}
	a := newFakeAdapter(t, f, NewBreakers(ratelimit.Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}))
	hash := "0x" + strings.Repeat("a", 64)

	// NotFound 不计失败
	for i := 0; i < 5; i++ {
		_, err := a.FetchTransaction(context.Background(), hash)
		require.ErrorIs(t, err, domain.ErrNotFound)
	}

	f.txErr = errors.New("connection reset")
	for i := 0; i < 2; i++ {
		_, err := a.FetchTransaction(context.Background(), hash)
		require.ErrorIs(t, err, domain.ErrChainUnavailable)
	}

	// 熔断打开后不再打到节点
	before := f.calls
	_, err := a.FetchTransaction(context.Background(), hash)
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
	assert.Equal(t, before, f.calls)
}

func TestCurrentBlockHeight(t *testing.T) {
	a := newFakeAdapter(t, &fakeBackend{height: 99}, nil)
	h, err := a.CurrentBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), h)

	a = newFakeAdapter(t, &fakeBackend{heightErr: context.DeadlineExceeded}, nil)
	_, err = a.CurrentBlockHeight(context.Background())
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
}

func TestBalanceAt(t *testing.T) {
	a := newFakeAdapter(t, &fakeBackend{balance: big.NewInt(12345)}, nil)
	bal, err := a.BalanceAt(context.Background(), depositAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), bal.Int64())

	a = newFakeAdapter(t, &fakeBackend{balanceErr: errors.New("dial tcp: connection refused")}, nil)
	_, err = a.BalanceAt(context.Background(), depositAddr.Hex())
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
}

func TestBlockDeposits_FiltersRecipientAndReadsReceipts(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	chainID := big.NewInt(1337)
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	ok := signedTx(t, key, chainID, 0, depositAddr, big.NewInt(10))
	skip := signedTx(t, key, chainID, 1, other, big.NewInt(20))
	reverted := signedTx(t, key, chainID, 2, depositAddr, big.NewInt(30))
	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(7)}).
		WithBody(types.Body{Transactions: []*types.Transaction{ok, skip, reverted}})

	a := newFakeAdapter(t, &fakeBackend{
		block: block,
		receipts: map[common.Hash]*types.Receipt{
			ok.Hash():       {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)},
			reverted.Hash(): {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)},
		},
		receiptErr: errors.New("must not be called"),
	}, nil)

	got, err := a.BlockDeposits(context.Background(), 7, strings.ToLower(depositAddr.Hex()))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, strings.ToLower(ok.Hash().Hex()), got[0].Hash)
	assert.Equal(t, domain.TxStatusSuccess, got[0].Status)
	assert.Equal(t, ptr(7), got[0].BlockNumber)
	assert.Equal(t, strings.ToLower(from.Hex()), got[0].From)
	assert.Equal(t, int64(10), got[0].Value.Int64())

	assert.Equal(t, strings.ToLower(reverted.Hash().Hex()), got[1].Hash)
	assert.Equal(t, domain.TxStatusFailed, got[1].Status)
}

func TestBlockDeposits_ErrorsAreUnavailable(t *testing.T) {
	a := newFakeAdapter(t, &fakeBackend{blockErr: errors.New("timeout")}, nil)
	_, err := a.BlockDeposits(context.Background(), 1, depositAddr.Hex())
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)

	// 收据还没索引好：整块报错，下一轮重扫
	key, _ := crypto.GenerateKey()
	tx := signedTx(t, key, big.NewInt(1337), 0, depositAddr, big.NewInt(1))
	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(3)}).
		WithBody(types.Body{Transactions: []*types.Transaction{tx}})
	a = newFakeAdapter(t, &fakeBackend{block: block, receiptErr: ethereum.NotFound}, nil)
	_, err = a.BlockDeposits(context.Background(), 3, depositAddr.Hex())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdapter_SimulatedChain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

	backend := simulated.NewBackend(types.GenesisAlloc{from: {Balance: funds}})
	t.Cleanup(func() { _ = backend.Close() })
	client := backend.Client()
	ctx := context.Background()

	a, err := New(ctx, client, Options{CallTimeout: 5 * time.Second})
	require.NoError(t, err)

	value := new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))
	tx := signedTx(t, key, a.ChainID(), 0, depositAddr, value)
	require.NoError(t, client.SendTransaction(ctx, tx))

	// 还在交易池
	got, err := a.FetchTransaction(ctx, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, got.Status)

	backend.Commit()
	got, err = a.FetchTransaction(ctx, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSuccess, got.Status)
	require.NotNil(t, got.BlockNumber)
	assert.Equal(t, strings.ToLower(from.Hex()), got.From)
	assert.Equal(t, 0, got.Value.Cmp(value))

	for i := 0; i < 5; i++ {
		backend.Commit()
	}
	height, err := a.CurrentBlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, *got.BlockNumber+5, height)

	_, err = a.FetchTransaction(ctx, "0x"+strings.Repeat("9", 64))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bal, err := a.BalanceAt(ctx, depositAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Cmp(value))

	deposits, err := a.BlockDeposits(ctx, *got.BlockNumber, depositAddr.Hex())
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, got.Hash, deposits[0].Hash)
	assert.Equal(t, domain.TxStatusSuccess, deposits[0].Status)
}

func ptr(n uint64) *uint64 { return &n }
