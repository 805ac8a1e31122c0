package reactor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mempool-reactor/metrics"
	"github.com/flashbots/mempool-reactor/spike"
	"go.uber.org/zap"
)

var (
	headerCacheTime       = 12 * time.Second
	releaseTriggerTimeout = 2 * time.Second
)

// TriggerCache de-duplicates triggers between reactor replicas
type TriggerCache interface {
	// Claim returns false if another process already claimed hash
	Claim(ctx context.Context, hash common.Hash) (bool, error)
	// Release drops a claim so another process can answer hash
	Release(ctx context.Context, hash common.Hash) error
}

// Responder answers a recognized trigger, anchor is the current block header
type Responder interface {
	Respond(ctx context.Context, anchor *types.Header, trigger *Trigger)
}

type Dispatcher struct {
	log       *zap.Logger
	cfg       *Config
	node      Node
	sub       *Subscription
	decoder   CalldataDecoder
	blocks    *BlockFetcher
	headers   *spike.Manager[uint64, *types.Header]
	responder Responder
	triggers  TriggerCache
	seen      *lru.Cache[common.Hash, struct{}]

	wg sync.WaitGroup
}

// NewDispatcher subscribes to bus immediately so no event published after construction is missed.
// triggers is optional.
func NewDispatcher(
	log *zap.Logger, cfg *Config, node Node, bus *Bus, decoder CalldataDecoder,
	blocks *BlockFetcher, responder Responder, triggers TriggerCache,
) *Dispatcher {
	return &Dispatcher{
		log:     log.Named("dispatcher"),
		cfg:     cfg,
		node:    node,
		sub:     bus.Subscribe(DefaultBusBuffer),
		decoder: decoder,
		blocks:  blocks,
		headers: spike.NewManager(func(ctx context.Context, number uint64) (*types.Header, error) {
			ctx, cancel := context.WithTimeout(ctx, blockFetchTimeout)
			defer cancel()
			return node.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		}, headerCacheTime),
		responder: responder,
		triggers:  triggers,
		seen:      lru.NewCache[common.Hash, struct{}](DefaultSeenTxCacheSize),
	}
}

// Run consumes events until ctx is cancelled, then waits for started responses and analysis tasks
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Wait()
	defer d.sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.sub.C():
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventPendingTx:
		d.handlePendingTx(ctx, ev.Tx)
	case EventBlock:
		d.handleBlock(ctx, ev.Header)
	case EventLog:
		// not consumed yet
	}
}

// handlePendingTx runs on the event loop, the block number lookup is the only call that may block it
func (d *Dispatcher) handlePendingTx(ctx context.Context, ptx *PendingTx) {
	input := ptx.Tx.Data()
	action, selector := Classify(input)
	if action == ActionUnknown {
		return
	}

	hash := ptx.Hash()
	logger := d.log.With(zap.String("tx", hash.Hex()), zap.Stringer("action", action))
	if !action.watches(d.cfg, ptx.Tx.To()) {
		logger.Debug("Recognized action on unwatched contract")
		return
	}
	if d.seen.Contains(hash) {
		metrics.IncTriggersDuplicate()
		return
	}
	d.seen.Add(hash, struct{}{})

	call, err := d.decoder.Decode(selector, input[len(selector):])
	if err != nil {
		metrics.IncTriggersUndecodable()
		logger.Warn("Failed to decode trigger", zap.Error(err))
		return
	}
	metrics.IncTriggersRecognized()
	trigger := &Trigger{Action: action, Tx: ptx, Call: call}
	logger.Info("Found pending trigger",
		zap.String("from", ptx.From.Hex()),
		zap.String("to", ptx.Tx.To().Hex()),
		zap.Any("args", call.Args),
	)

	if d.cfg.Paused {
		return
	}
	if !action.targets(d.cfg, ptx.Tx.To()) {
		logger.Debug("Trigger is not answered on this contract")
		return
	}

	blockNumber, err := d.node.BlockNumber(ctx)
	if err != nil {
		logger.Error("Failed to get block number", zap.Error(err))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.respond(ctx, logger, blockNumber, trigger)
	}()
}

func (d *Dispatcher) respond(ctx context.Context, logger *zap.Logger, blockNumber uint64, trigger *Trigger) {
	hash := trigger.Hash()
	claimed := false
	if d.triggers != nil {
		ok, err := d.triggers.Claim(ctx, hash)
		switch {
		case err != nil:
			logger.Warn("Failed to claim trigger, answering anyway", zap.Error(err))
		case !ok:
			metrics.IncTriggersDuplicate()
			logger.Debug("Trigger claimed by another replica")
			return
		default:
			claimed = true
		}
	}

	anchor, err := d.headers.GetResult(ctx, blockNumber)
	if err != nil {
		logger.Error("Failed to get anchor header", zap.Uint64("block", blockNumber), zap.Error(err))
		if claimed {
			d.releaseTrigger(logger, hash)
		}
		return
	}
	d.responder.Respond(ctx, anchor, trigger)
}

// releaseTrigger runs detached from the dispatcher context, it is also called during shutdown
func (d *Dispatcher) releaseTrigger(logger *zap.Logger, hash common.Hash) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTriggerTimeout)
	defer cancel()
	if err := d.triggers.Release(ctx, hash); err != nil {
		logger.Warn("Failed to release trigger", zap.Error(err))
	}
}

func (d *Dispatcher) handleBlock(ctx context.Context, header *types.Header) {
	number := header.Number.Uint64()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		block, err := d.blocks.GetResult(ctx, number)
		if err != nil {
			d.log.Warn("Failed to fetch block", zap.Uint64("block", number), zap.Error(err))
			return
		}

		var tasks sync.WaitGroup
		for _, tx := range block.Transactions() {
			tasks.Add(1)
			go func(tx *types.Transaction) {
				defer tasks.Done()
				d.analyzeMined(number, tx)
			}(tx)
		}
		tasks.Wait()
	}()
}

func (d *Dispatcher) analyzeMined(number uint64, tx *types.Transaction) {
	input := tx.Data()
	action, selector := Classify(input)
	if action == ActionUnknown || !action.watches(d.cfg, tx.To()) {
		return
	}
	call, err := d.decoder.Decode(selector, input[len(selector):])
	if err != nil {
		d.log.Debug("Failed to decode mined action", zap.String("tx", tx.Hash().Hex()), zap.Error(err))
		return
	}
	metrics.IncMinedActionsSeen()
	d.log.Info("Recognized action mined",
		zap.Uint64("block", number),
		zap.String("tx", tx.Hash().Hex()),
		zap.Stringer("action", action),
		zap.Any("args", call.Args),
	)
}
