// Package metrics contains all application-logic metrics
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	eventsPublished          = metrics.NewCounter("events_published_total")
	eventsDropped            = metrics.NewCounter("events_dropped_total")
	pendingTxsSeen           = metrics.NewCounter("pending_txs_seen_total")
	triggersRecognized       = metrics.NewCounter("triggers_recognized_total")
	triggersUndecodable      = metrics.NewCounter("triggers_undecodable_total")
	triggersDuplicate        = metrics.NewCounter("triggers_duplicate_total")
	bundlesBuilt             = metrics.NewCounter("bundles_built_total")
	bundlesBuildFailed       = metrics.NewCounter("bundles_build_failed_total")
	bundlesSimulationRejects = metrics.NewCounter("bundles_simulation_rejected_total")
	bundlesIncluded          = metrics.NewCounter("bundles_included_total")
	bundlesFailed            = metrics.NewCounter("bundles_failed_total")
	minedActionsSeen         = metrics.NewCounter("mined_actions_seen_total")
	streamResubscribes       = metrics.NewCounter("stream_resubscribes_total")

	bundleBuildDuration    = metrics.NewSummary("bundle_build_duration_milliseconds")
	bundleSimulateDuration = metrics.NewSummary("bundle_simulate_duration_milliseconds")
	bundleSubmitDuration   = metrics.NewSummary("bundle_submit_duration_milliseconds")
)

func IncEventsPublished() {
	eventsPublished.Inc()
}

func IncEventsDropped(n int) {
	eventsDropped.Add(n)
}

func IncPendingTxsSeen() {
	pendingTxsSeen.Inc()
}

func IncTriggersRecognized() {
	triggersRecognized.Inc()
}

func IncTriggersUndecodable() {
	triggersUndecodable.Inc()
}

func IncTriggersDuplicate() {
	triggersDuplicate.Inc()
}

func IncBundlesBuilt() {
	bundlesBuilt.Inc()
}

func IncBundlesBuildFailed() {
	bundlesBuildFailed.Inc()
}

func IncBundlesSimulationRejected() {
	bundlesSimulationRejects.Inc()
}

func IncBundlesIncluded() {
	bundlesIncluded.Inc()
}

func IncBundlesFailed() {
	bundlesFailed.Inc()
}

func IncMinedActionsSeen() {
	minedActionsSeen.Inc()
}

func IncStreamResubscribes() {
	streamResubscribes.Inc()
}

// IncRelayError counts failed submissions per relay
func IncRelayError(relay string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`relay_errors_total{relay=%q}`, relay)).Inc()
}

func RecordBundleBuildDuration(ms int64) {
	bundleBuildDuration.Update(float64(ms))
}

func RecordBundleSimulateDuration(ms int64) {
	bundleSimulateDuration.Update(float64(ms))
}

func RecordBundleSubmitDuration(ms int64) {
	bundleSubmitDuration.Update(float64(ms))
}
