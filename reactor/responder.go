package reactor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mempool-reactor/metrics"
	"go.uber.org/zap"
)

var notifyOutcomeTimeout = 2 * time.Second

// BundleResponder builds a bundle for a trigger and submits it
type BundleResponder struct {
	log       *zap.Logger
	builder   *BundleBuilder
	submitter *BundleSubmitter
	notifier  OutcomeNotifier
}

// NewBundleResponder creates a responder, notifier is optional
func NewBundleResponder(log *zap.Logger, builder *BundleBuilder, submitter *BundleSubmitter, notifier OutcomeNotifier) *BundleResponder {
	return &BundleResponder{
		log:       log.Named("responder"),
		builder:   builder,
		submitter: submitter,
		notifier:  notifier,
	}
}

// Respond gives up if ctx is cancelled before broadcast, a started submission always runs to completion
func (r *BundleResponder) Respond(ctx context.Context, anchor *types.Header, trigger *Trigger) {
	logger := r.log.With(zap.String("trigger", trigger.Hash().Hex()), zap.Stringer("action", trigger.Action))

	bundle, err := r.builder.Build(ctx, anchor, trigger)
	if err != nil {
		metrics.IncBundlesBuildFailed()
		logger.Error("Failed to build bundle", zap.Error(err))
		return
	}
	metrics.IncBundlesBuilt()
	if ctx.Err() != nil {
		logger.Info("Shutting down, bundle is not submitted")
		return
	}

	outcome := r.submitter.Submit(bundle)
	outcome.Trigger = trigger.Hash()
	logger = logger.With(
		zap.String("bundle", outcome.BundleHash.Hex()),
		zap.Uint64("target_block", outcome.TargetBlock),
	)
	switch outcome.Status {
	case OutcomeIncluded:
		metrics.IncBundlesIncluded()
		logger.Info("Bundle included", zap.String("relay", outcome.Relay))
	case OutcomeSimulationRejected:
		logger.Warn("Bundle rejected in simulation", zap.Error(outcome.Err))
	default:
		metrics.IncBundlesFailed()
		logger.Error("Bundle submission failed", zap.Stringer("status", outcome.Status), zap.Error(outcome.Err))
	}

	if r.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), notifyOutcomeTimeout)
		defer cancel()
		if err := r.notifier.NotifyOutcome(notifyCtx, outcome); err != nil {
			logger.Warn("Failed to publish outcome", zap.Error(err))
		}
	}
}
