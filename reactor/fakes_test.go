package reactor

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

var (
	errFakeNode = errors.New("fake node failure")

	triggerKey, _ = crypto.HexToECDSA("f14240ad715b780803f613f636b05bacc2db6622c21eb48bf4302ec3e44c0acb")
	testChainID   = big.NewInt(1)
)

type fakeSub struct {
	errCh        chan error
	unsubscribed chan struct{}
	once         sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		errCh:        make(chan error, 1),
		unsubscribed: make(chan struct{}),
	}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.unsubscribed) })
}

func (s *fakeSub) Err() <-chan error {
	return s.errCh
}

type pendingSub struct {
	ch  chan<- common.Hash
	sub *fakeSub
}

type headSub struct {
	ch  chan<- *types.Header
	sub *fakeSub
}

type fakeNode struct {
	mu sync.Mutex

	blockNumber    uint64
	blockNumberErr error
	nonce          uint64
	nonceErr       error
	subscribeFails int

	headers map[uint64]*types.Header
	blocks  map[uint64]*types.Block
	txs     map[common.Hash]*types.Transaction

	pendingSubs chan pendingSub
	headSubs    chan headSub
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		headers:     make(map[uint64]*types.Header),
		blocks:      make(map[uint64]*types.Block),
		txs:         make(map[common.Hash]*types.Transaction),
		pendingSubs: make(chan pendingSub, 8),
		headSubs:    make(chan headSub, 8),
	}
}

// setHead makes number the current block with a header suitable for fee computation
func (n *fakeNode) setHead(number uint64) *types.Header {
	header := testHeader(number)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockNumber = number
	n.headers[number] = header
	return header
}

func (n *fakeNode) addBlock(block *types.Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[block.NumberU64()] = block
}

func (n *fakeNode) addPendingTx(tx *types.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs[tx.Hash()] = tx
}

func (n *fakeNode) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscribeFails > 0 {
		n.subscribeFails--
		return nil, errFakeNode
	}
	sub := newFakeSub()
	n.pendingSubs <- pendingSub{ch: ch, sub: sub}
	return sub, nil
}

func (n *fakeNode) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscribeFails > 0 {
		n.subscribeFails--
		return nil, errFakeNode
	}
	sub := newFakeSub()
	n.headSubs <- headSub{ch: ch, sub: sub}
	return sub, nil
}

func (n *fakeNode) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (n *fakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blockNumber, n.blockNumberErr
}

func (n *fakeNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonce, n.nonceErr
}

func (n *fakeNode) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := n.blockNumber
	if number != nil {
		key = number.Uint64()
	}
	header, ok := n.headers[key]
	if !ok {
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (n *fakeNode) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	block, ok := n.blocks[number.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return block, nil
}

func testHeader(number uint64) *types.Header {
	return &types.Header{
		Number:   new(big.Int).SetUint64(number),
		GasLimit: 30_000_000,
		GasUsed:  15_000_000,
		BaseFee:  big.NewInt(10 * params.GWei),
	}
}

// signedTx returns a transaction from triggerKey calling `to` with input
func signedTx(nonce uint64, to common.Address, input []byte) *types.Transaction {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   testChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(params.GWei),
		GasFeeCap: big.NewInt(20 * params.GWei),
		Gas:       100_000,
		To:        &to,
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(testChainID), triggerKey)
	if err != nil {
		panic(err)
	}
	return signed
}

func pendingTx(tx *types.Transaction) *PendingTx {
	return &PendingTx{Tx: tx, From: crypto.PubkeyToAddress(triggerKey.PublicKey)}
}

// blockWith builds a block at number containing txs
func blockWith(number uint64, txs ...*types.Transaction) *types.Block {
	return types.NewBlockWithHeader(testHeader(number)).WithBody(txs, nil)
}
