package reactor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mempool-reactor/metrics"
	"go.uber.org/zap"
)

var (
	errSubscriptionClosed = errors.New("subscription closed by node")

	resubscribeInitialInterval = 100 * time.Millisecond
	resubscribeMaxInterval     = 5 * time.Second
)

const streamBufferLen = 256

// BlockStream publishes every new head announced by the node
type BlockStream struct {
	log  *zap.Logger
	node Node
	bus  *Bus
}

func NewBlockStream(log *zap.Logger, node Node, bus *Bus) *BlockStream {
	return &BlockStream{
		log:  log.Named("blocks"),
		node: node,
		bus:  bus,
	}
}

// Run blocks until ctx is cancelled
func (s *BlockStream) Run(ctx context.Context) {
	heads := make(chan *types.Header, streamBufferLen)
	subscribe := func() (ethereum.Subscription, error) {
		return s.node.SubscribeNewHead(ctx, heads)
	}
	for {
		sub, err := resubscribe(ctx, s.log, subscribe)
		if err != nil {
			return
		}
		err = s.consume(ctx, sub, heads)
		sub.Unsubscribe()
		if err == nil {
			return
		}
		s.log.Warn("Block subscription failed", zap.Error(err))
		metrics.IncStreamResubscribes()
	}
}

func (s *BlockStream) consume(ctx context.Context, sub ethereum.Subscription, heads <-chan *types.Header) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case head := <-heads:
			s.log.Debug("New block", zap.Uint64("block", head.Number.Uint64()))
			s.bus.Publish(NewBlockEvent(head))
		}
	}
}

// PendingTxStream publishes transactions announced by the node mempool.
// The node announces hashes, every hash is resolved to the full transaction and its sender.
type PendingTxStream struct {
	log      *zap.Logger
	node     Node
	bus      *Bus
	signer   types.Signer
	fetchers int
}

func NewPendingTxStream(log *zap.Logger, node Node, bus *Bus, chainID *big.Int, fetchers int) *PendingTxStream {
	if fetchers <= 0 {
		fetchers = DefaultPendingTxFetchers
	}
	return &PendingTxStream{
		log:      log.Named("pending"),
		node:     node,
		bus:      bus,
		signer:   types.LatestSignerForChainID(chainID),
		fetchers: fetchers,
	}
}

// Run blocks until ctx is cancelled and every started lookup returned
func (s *PendingTxStream) Run(ctx context.Context) {
	hashes := make(chan common.Hash, streamBufferLen)
	sem := make(chan struct{}, s.fetchers)
	var wg sync.WaitGroup
	defer wg.Wait()

	subscribe := func() (ethereum.Subscription, error) {
		return s.node.SubscribePendingTransactions(ctx, hashes)
	}
	for {
		sub, err := resubscribe(ctx, s.log, subscribe)
		if err != nil {
			return
		}
		err = s.consume(ctx, sub, hashes, sem, &wg)
		sub.Unsubscribe()
		if err == nil {
			return
		}
		s.log.Warn("Pending transactions subscription failed", zap.Error(err))
		metrics.IncStreamResubscribes()
	}
}

func (s *PendingTxStream) consume(ctx context.Context, sub ethereum.Subscription, hashes <-chan common.Hash, sem chan struct{}, wg *sync.WaitGroup) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case hash := <-hashes:
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(hash common.Hash) {
				defer wg.Done()
				defer func() { <-sem }()
				s.resolve(ctx, hash)
			}(hash)
		}
	}
}

func (s *PendingTxStream) resolve(ctx context.Context, hash common.Hash) {
	tx, isPending, err := s.node.TransactionByHash(ctx, hash)
	if err != nil {
		// mined or dropped between announcement and lookup
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			s.log.Debug("Failed to fetch pending transaction", zap.String("hash", hash.Hex()), zap.Error(err))
		}
		return
	}
	if !isPending {
		return
	}
	from, err := types.Sender(s.signer, tx)
	if err != nil {
		s.log.Debug("Failed to recover sender", zap.String("hash", hash.Hex()), zap.Error(err))
		return
	}
	metrics.IncPendingTxsSeen()
	s.bus.Publish(NewPendingTxEvent(&PendingTx{Tx: tx, From: from}))
}

// resubscribe retries subscribe with exponential backoff, it fails only when ctx is cancelled
func resubscribe(ctx context.Context, log *zap.Logger, subscribe func() (ethereum.Subscription, error)) (ethereum.Subscription, error) {
	back := backoff.NewExponentialBackOff()
	back.InitialInterval = resubscribeInitialInterval
	back.MaxInterval = resubscribeMaxInterval
	back.MaxElapsedTime = 0

	var sub ethereum.Subscription
	err := backoff.RetryNotify(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var err error
		sub, err = subscribe()
		return err
	}, backoff.WithContext(back, ctx), func(err error, next time.Duration) {
		log.Warn("Failed to subscribe, retrying", zap.Error(err), zap.Duration("next", next))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
