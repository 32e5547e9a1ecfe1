package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homebooking",
			Name:      "availability_cache_lookups_total",
			Help:      "Week availability cache lookups by result.",
		},
		[]string{"result"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homebooking",
			Name:      "availability_invalidations_total",
			Help:      "Cache invalidations by the table whose change caused them.",
		},
		[]string{"table"},
	)

	guardChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homebooking",
			Name:      "reservation_guard_checks_total",
			Help:      "Real-time slot checks by outcome.",
		},
		[]string{"result"},
	)

	fetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homebooking",
			Name:      "availability_fetch_errors_total",
			Help:      "Failed availability fetches by scope.",
		},
		[]string{"scope"},
	)

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homebooking",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homebooking",
			Name:      "http_requests_total",
			Help:      "API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(cacheLookups, invalidations, guardChecks, fetchErrors, bookingCreated, httpRequests)
	})
}

func IncCacheHit() {
	cacheLookups.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheLookups.WithLabelValues("miss").Inc()
}

func IncInvalidation(table string) {
	invalidations.WithLabelValues(table).Inc()
}

// IncGuard records a guard outcome: available, taken, closed or error.
func IncGuard(result string) {
	guardChecks.WithLabelValues(result).Inc()
}

func IncFetchError(scope string) {
	fetchErrors.WithLabelValues(scope).Inc()
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
