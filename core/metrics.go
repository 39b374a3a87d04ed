package core

import "context"

// NopMetricsRecorder discards every measurement. The observer falls back to
// it when the host wires no metrics backend, so ingestion counters degrade
// to log-only visibility instead of nil panics.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

// cloneTags hands each recorder its own tag map; callers reuse theirs across
// emissions.
func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
