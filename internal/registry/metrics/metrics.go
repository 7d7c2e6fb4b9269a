package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry's Prometheus metrics.
type Metrics struct {
	SeparationsCompleted prometheus.Counter
	SeparationsFailed    prometheus.Counter
	HouseholdsCreated    prometheus.Counter
	HouseholdsDissolved  prometheus.Counter
	HeadPromotions       prometheus.Counter
	HistoryEntries       prometheus.Counter
}

// New creates and registers all registry metrics.
func New() *Metrics {
	return &Metrics{
		SeparationsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hokhau_separations_completed_total",
			Help: "Total number of committed household separations",
		}),
		SeparationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hokhau_separations_failed_total",
			Help: "Total number of household separations rolled back",
		}),
		HouseholdsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hokhau_households_created_total",
			Help: "Total number of households created",
		}),
		HouseholdsDissolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hokhau_households_dissolved_total",
			Help: "Total number of households dissolved after their last member left",
		}),
		HeadPromotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hokhau_head_promotions_total",
			Help: "Total number of headship successions",
		}),
		HistoryEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hokhau_history_entries_total",
			Help: "Total number of change history entries written",
		}),
	}
}
