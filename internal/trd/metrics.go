package trd

// Metrics receives counters from the core components.
type Metrics interface {
	IngestionFinished(result string)
	ReconcileCycleFinished()
	ContentReady()
	DeliveryFinished(outcome Outcome)
	SetActiveTorrents(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) IngestionFinished(string) {}
func (NopMetrics) ReconcileCycleFinished()  {}
func (NopMetrics) ContentReady()            {}
func (NopMetrics) DeliveryFinished(Outcome) {}
func (NopMetrics) SetActiveTorrents(int)    {}
