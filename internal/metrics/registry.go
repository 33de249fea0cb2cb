package metrics

import (
	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
)

var (
	CacheSize           = []string{"cache_size"}
	CacheExpiringSoon   = []string{"cache_expiring_soon"}
	CacheExpired        = []string{"cache_expired"}
	SchedulerPending    = []string{"scheduler_pending"}
	SchedulerRunning    = []string{"scheduler_running"}
	AccessorFetches     = []string{"accessor_fetches"}
	AccessorFetchErrors = []string{"accessor_fetch_errors"}
)

var Registry metrics.MetricSink

func init() {
	sink, err := prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
		GaugeDefinitions: []prometheus.GaugeDefinition{{
			Name: CacheSize,
			Help: "The total number of distinct certificates currently cached",
		}, {
			Name: CacheExpiringSoon,
			Help: "The number of cached certificates expiring within 30 days",
		}, {
			Name: CacheExpired,
			Help: "The number of cached certificates past their expiry",
		}, {
			Name: SchedulerPending,
			Help: "The number of tasks waiting for a free worker",
		}, {
			Name: SchedulerRunning,
			Help: "The number of tasks currently executing",
		}},
		CounterDefinitions: []prometheus.CounterDefinition{{
			Name: AccessorFetches,
			Help: "The total number of certificate fetches per backend",
		}, {
			Name: AccessorFetchErrors,
			Help: "The total number of failed certificate fetches per backend",
		}},
	})
	if err != nil {
		panic(err)
	}
	Registry = sink
}
