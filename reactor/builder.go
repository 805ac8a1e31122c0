package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mempool-reactor/metrics"
	"go.uber.org/zap"
)

// NonceSource resolves the next nonce of the sender account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// BundleBuilder turns a trigger into a signed bundle for the block after anchor
type BundleBuilder struct {
	log    *zap.Logger
	cfg    *Config
	nonces NonceSource
	signer *Signer
}

func NewBundleBuilder(log *zap.Logger, cfg *Config, nonces NonceSource, signer *Signer) *BundleBuilder {
	return &BundleBuilder{
		log:    log.Named("builder"),
		cfg:    cfg,
		nonces: nonces,
		signer: signer,
	}
}

// Build answers trigger with the planned response calls
func (b *BundleBuilder) Build(ctx context.Context, anchor *types.Header, trigger *Trigger) (*Bundle, error) {
	return b.BuildCalls(ctx, anchor, trigger, PlanResponse(b.cfg, b.signer.Address(), trigger))
}

// BuildCalls signs calls with consecutive nonces and pushes them in the given order.
// With backrun enabled the trigger transaction goes first.
func (b *BundleBuilder) BuildCalls(ctx context.Context, anchor *types.Header, trigger *Trigger, calls []ResponseCall) (*Bundle, error) {
	startAt := time.Now()
	defer func() {
		metrics.RecordBundleBuildDuration(time.Since(startAt).Milliseconds())
	}()

	if len(calls) == 0 {
		return nil, ErrEmptyBundle
	}

	priorityFee := b.cfg.PriorityFee
	if priorityFee == nil {
		priorityFee = DefaultPriorityFee
	}
	maxFee, tip, err := FeeCaps(anchor, priorityFee)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fees: %w", err)
	}
	nonce, err := b.nonces.PendingNonceAt(ctx, b.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve nonce: %w", err)
	}

	bundle := NewBundle(anchor.Number.Uint64())
	bundle.SimulationTimestamp = b.cfg.SimulationTimestamp

	if b.cfg.Backrun && trigger != nil && trigger.Tx != nil {
		raw, err := trigger.Tx.Tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode trigger: %w", err)
		}
		bundle.Push(raw)
	}

	for i, call := range calls {
		to := call.To
		n := nonce + uint64(i)
		signed, err := b.signer.Sign(UnsignedTxRequest{
			To:                   &to,
			Data:                 call.Data,
			Value:                call.Value,
			GasLimit:             call.GasLimit,
			Nonce:                &n,
			MaxFeePerGas:         maxFee,
			MaxPriorityFeePerGas: tip,
			ChainID:              b.cfg.ChainID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to sign response %d: %w", i, err)
		}
		bundle.Push(signed)
	}

	b.log.Debug("Built bundle",
		zap.Uint64("target_block", bundle.TargetBlock),
		zap.Int("txs", len(bundle.Txs)),
		zap.Uint64("nonce", nonce),
		zap.String("max_fee", maxFee.String()),
	)
	return bundle, nil
}
