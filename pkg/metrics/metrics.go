package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subdomain_manager"

var (
	DNSUpsertAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_upsert_attempts_total",
		Help:      "DNS record upsert attempts by result",
	}, []string{"result"})

	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "web_probes_total",
		Help:      "Web presence probes by detected server type",
	}, []string{"server_type"})

	CertificateOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "certificate_operations_total",
		Help:      "Certificate issue and renew operations by result",
	}, []string{"operation", "result"})

	RenewalSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renewal_sweeps_total",
		Help:      "Scheduled renewal sweep runs by outcome",
	}, []string{"outcome"})

	BackgroundTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "background_tasks_in_flight",
		Help:      "Background tasks currently running or waiting for a slot",
	})
)

func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
