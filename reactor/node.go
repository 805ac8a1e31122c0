package reactor

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var ErrChainIDMismatch = errors.New("configured chain id does not match the node")

// Node is everything the reactor needs from an execution client
type Node interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// EthNode subscribes over a websocket connection and reads over http
type EthNode struct {
	ws     *rpc.Client
	stream *ethclient.Client
	pool   *gethclient.Client
	*ethclient.Client
}

func DialEthNode(ctx context.Context, wsURL, httpURL string) (*EthNode, error) {
	ws, err := rpc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	httpClient, err := ethclient.DialContext(ctx, httpURL)
	if err != nil {
		ws.Close()
		return nil, err
	}
	return &EthNode{
		ws:     ws,
		stream: ethclient.NewClient(ws),
		pool:   gethclient.New(ws),
		Client: httpClient,
	}, nil
}

func (n *EthNode) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	sub, err := n.pool.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (n *EthNode) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return n.stream.SubscribeNewHead(ctx, ch)
}

// CheckChainID fails with ErrChainIDMismatch if the node serves another chain
func (n *EthNode) CheckChainID(ctx context.Context, expected *big.Int) error {
	chainID, err := n.ChainID(ctx)
	if err != nil {
		return err
	}
	if chainID.Cmp(expected) != 0 {
		return ErrChainIDMismatch
	}
	return nil
}

func (n *EthNode) Close() {
	n.Client.Close()
	n.ws.Close()
}
