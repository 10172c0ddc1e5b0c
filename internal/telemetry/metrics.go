package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sportcrm-api"

// Metrics are the business counters recorded by the services. They come
// from the global meter provider, so they are no-ops until Initialize has
// installed a real one.
type Metrics struct {
	VisitsMarked   metric.Int64Counter
	VisitsRestored metric.Int64Counter
	Extensions     metric.Int64Counter // attribute "kind": manual, cancellation, revocation
	Purchases      metric.Int64Counter
	CASRetries     metric.Int64Counter
}

// NewMetrics registers the counters on the global meter
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.VisitsMarked, "sportcrm.visits.marked", "Visits marked against subscriptions"},
		{&m.VisitsRestored, "sportcrm.visits.restored", "Visits returned to subscriptions"},
		{&m.Extensions, "sportcrm.extensions", "Extension records written"},
		{&m.Purchases, "sportcrm.subscriptions.purchased", "Subscriptions purchased"},
		{&m.CASRetries, "sportcrm.subscriptions.cas_retries", "Subscription updates retried after a version conflict"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}
