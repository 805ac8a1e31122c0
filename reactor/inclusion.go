package reactor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mempool-reactor/spike"
	"go.uber.org/zap"
)

var (
	blockFetchTimeout     = 5 * time.Second
	inclusionPollInterval = 500 * time.Millisecond
	inclusionPollMax      = 2 * time.Second
)

// BlockFetcher coalesces concurrent fetches of the same block and caches the result
type BlockFetcher = spike.Manager[uint64, *types.Block]

type BlockSource interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

func NewBlockFetcher(node BlockSource) *BlockFetcher {
	return spike.NewManager(func(ctx context.Context, number uint64) (*types.Block, error) {
		ctx, cancel := context.WithTimeout(ctx, blockFetchTimeout)
		defer cancel()
		return node.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	}, DefaultBlockCacheTime)
}

// InclusionWatcher resolves a submitted bundle to included or not included once its target block exists
type InclusionWatcher struct {
	log    *zap.Logger
	blocks *BlockFetcher
}

func NewInclusionWatcher(log *zap.Logger, blocks *BlockFetcher) *InclusionWatcher {
	return &InclusionWatcher{
		log:    log.Named("inclusion"),
		blocks: blocks,
	}
}

// WaitForInclusion polls for the target block until ctx expires.
// It returns ErrBundleNotIncluded if any bundle transaction is missing from the block.
func (w *InclusionWatcher) WaitForInclusion(ctx context.Context, bundle *Bundle) error {
	hashes, err := bundle.TxHashes()
	if err != nil {
		return err
	}

	back := backoff.NewExponentialBackOff()
	back.InitialInterval = inclusionPollInterval
	back.MaxInterval = inclusionPollMax
	back.MaxElapsedTime = 0

	var block *types.Block
	err = backoff.Retry(func() error {
		var err error
		block, err = w.blocks.GetResult(ctx, bundle.TargetBlock)
		return err
	}, backoff.WithContext(back, ctx))
	if err != nil {
		return fmt.Errorf("target block %d not available: %w", bundle.TargetBlock, err)
	}

	if !containsAll(block, hashes) {
		return ErrBundleNotIncluded
	}
	w.log.Debug("Bundle included", zap.Uint64("block", bundle.TargetBlock), zap.String("block_hash", block.Hash().Hex()))
	return nil
}

func containsAll(block *types.Block, hashes []common.Hash) bool {
	txs := make(map[common.Hash]struct{}, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		txs[tx.Hash()] = struct{}{}
	}
	for _, hash := range hashes {
		if _, ok := txs[hash]; !ok {
			return false
		}
	}
	return true
}
