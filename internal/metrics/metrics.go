package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripegw_events_total",
			Help: "Received webhook events by outcome and scope",
		},
		[]string{"outcome", "scope"}, // accepted|duplicate|invalid , account|connect
	)

	SignatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripegw_signature_failures_total",
			Help: "Rejected webhook requests by signing secret name",
		},
		[]string{"secret"},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripegw_dispatches_total",
			Help: "Dispatch task outcomes by result and scope",
		},
		[]string{"result", "scope"}, // delivered|failed , account|connect
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsTotal,
		SignatureFailuresTotal,
		DispatchesTotal,
	)
}
