package backend

import (
	"github.com/dreamware/sharedorigin/internal/metrics"
)

const namespace = "backend"

var (
	storedAnchors = metrics.NewGauge(
		"stored_anchors",
		namespace,
		"anchor records held by the in-memory store",
		[]string{},
	).WithLabelValues()

	scans = metrics.NewCounter(
		"watcher_scans",
		namespace,
		"store scans performed by anchor watchers",
		[]string{},
	).WithLabelValues()

	storeRequests = metrics.NewCounter(
		"store_requests",
		namespace,
		"anchor service requests by method and response code",
		[]string{"method", "code"},
	)
)
