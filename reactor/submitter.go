package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/mempool-reactor/metrics"
	"go.uber.org/zap"
)

// InclusionChecker resolves an accepted submission
type InclusionChecker interface {
	WaitForInclusion(ctx context.Context, bundle *Bundle) error
}

type relayResult struct {
	relay      string
	bundleHash common.Hash
	err        error
}

// BundleSubmitter simulates a bundle and, only if every transaction succeeds, broadcasts it to all relays
type BundleSubmitter struct {
	log          *zap.Logger
	relays       Relays
	inclusion    InclusionChecker
	timeout      time.Duration
	backgroundWg *sync.WaitGroup
}

func NewBundleSubmitter(log *zap.Logger, relays Relays, inclusion InclusionChecker, timeout time.Duration, backgroundWg *sync.WaitGroup) *BundleSubmitter {
	if timeout <= 0 {
		timeout = DefaultSubmissionTimeout
	}
	return &BundleSubmitter{
		log:          log.Named("submitter"),
		relays:       relays,
		inclusion:    inclusion,
		timeout:      timeout,
		backgroundWg: backgroundWg,
	}
}

// Submit runs simulation and broadcast on its own context bounded by the submission timeout,
// shutdown never interrupts a submission that already started.
// The first relay reporting inclusion wins, results of the other relays are logged in the background.
func (s *BundleSubmitter) Submit(bundle *Bundle) *SubmissionOutcome {
	outcome := &SubmissionOutcome{TargetBlock: bundle.TargetBlock}
	if hash, err := bundle.Hash(); err == nil {
		outcome.BundleHash = hash
	}
	if len(s.relays.All) == 0 || s.relays.Simulator == nil {
		return outcome.fail(OutcomeRelayError, ErrNoRelays)
	}
	logger := s.log.With(zap.String("bundle", outcome.BundleHash.Hex()), zap.Uint64("target_block", bundle.TargetBlock))

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

	if err := s.simulate(ctx, bundle); err != nil {
		cancel()
		metrics.IncBundlesSimulationRejected()
		return outcome.fail(OutcomeSimulationRejected, err)
	}

	startAt := time.Now()
	results := make(chan relayResult, len(s.relays.All))
	for _, relay := range s.relays.All {
		go func(relay RelayBackend) {
			results <- s.broadcast(ctx, relay, bundle)
		}(relay)
	}

	errs := make([]error, 0, len(s.relays.All))
	notIncluded := false
	for received := 0; received < len(s.relays.All); received++ {
		res := <-results
		if res.err == nil {
			metrics.RecordBundleSubmitDuration(time.Since(startAt).Milliseconds())
			outcome.Status = OutcomeIncluded
			outcome.Relay = res.relay
			if res.bundleHash != (common.Hash{}) {
				outcome.BundleHash = res.bundleHash
			}

			remaining := len(s.relays.All) - received - 1
			s.backgroundWg.Add(1)
			go func() {
				defer s.backgroundWg.Done()
				defer cancel()
				s.drain(logger, results, remaining)
			}()
			return outcome
		}
		if errors.Is(res.err, ErrBundleNotIncluded) {
			notIncluded = true
		}
		errs = append(errs, res.err)
	}
	cancel()

	status := OutcomeRelayError
	if notIncluded {
		status = OutcomeNotIncluded
	}
	return outcome.fail(status, errors.Join(errs...))
}

func (s *BundleSubmitter) simulate(ctx context.Context, bundle *Bundle) error {
	startAt := time.Now()
	defer func() {
		metrics.RecordBundleSimulateDuration(time.Since(startAt).Milliseconds())
	}()

	result, err := s.relays.Simulator.CallBundle(ctx, bundle)
	if err != nil {
		metrics.IncRelayError(s.relays.Simulator.Name())
		return fmt.Errorf("%w: %s: %w", ErrSimulationRejected, s.relays.Simulator.Name(), err)
	}
	if failed, ok := result.Failed(); ok {
		reason := failed.Error
		if reason == "" {
			reason = failed.Revert
		}
		return fmt.Errorf("%w: tx %s: %s", ErrSimulationRejected, failed.TxHash.Hex(), reason)
	}
	return nil
}

func (s *BundleSubmitter) broadcast(ctx context.Context, relay RelayBackend, bundle *Bundle) relayResult {
	res := relayResult{relay: relay.Name()}
	resp, err := relay.SendBundle(ctx, bundle)
	if err != nil {
		metrics.IncRelayError(relay.Name())
		res.err = fmt.Errorf("%s: %w", relay.Name(), err)
		return res
	}
	res.bundleHash = resp.BundleHash

	if err := s.inclusion.WaitForInclusion(ctx, bundle); err != nil {
		res.err = fmt.Errorf("%s: %w", relay.Name(), err)
	}
	return res
}

func (s *BundleSubmitter) drain(logger *zap.Logger, results <-chan relayResult, remaining int) {
	for i := 0; i < remaining; i++ {
		res := <-results
		if res.err != nil {
			logger.Warn("Relay submission failed after inclusion", zap.String("relay", res.relay), zap.Error(res.err))
			continue
		}
		logger.Debug("Relay confirmed inclusion", zap.String("relay", res.relay))
	}
}

func (o *SubmissionOutcome) fail(status OutcomeStatus, err error) *SubmissionOutcome {
	o.Status = status
	o.Err = err
	if err != nil {
		o.ErrMessage = err.Error()
	}
	return o
}
